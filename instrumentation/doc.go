// Package instrumentation provides OpenTelemetry instrumentation for the oauth-engine module.
//
// It hands out scoped meters and tracers to the HTTP adapter ("http"), the
// protocol engine ("server"), the security helpers ("security") and the
// storage backends ("storage"), and owns the pre-registered metric
// instruments in Metrics.
//
// # Quick Start
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:     "my-oauth-service",
//		ServiceVersion:  "1.0.0",
//		Enabled:         true,
//		MetricsExporter: instrumentation.ExporterPrometheus,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
//	mux.Handle("/metrics", inst.MetricsHandler())
//
// When Enabled is false every provider is a no-op and recording costs nothing.
//
// # Privacy
//
// Spans and metrics never carry tokens, codes or secrets. Client IP addresses
// are only attached when Config.LogClientIPs is set.
package instrumentation
