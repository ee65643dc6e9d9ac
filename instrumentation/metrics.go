package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments of the authorization engine
type Metrics struct {
	// HTTP Layer Metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// OAuth Flow Metrics
	AuthorizationRequests metric.Int64Counter
	TokensIssued          metric.Int64Counter
	GrantFailures         metric.Int64Counter
	IntrospectionRequests metric.Int64Counter
	DeviceAuthorizations  metric.Int64Counter

	// Security Metrics
	RateLimitExceeded    metric.Int64Counter
	PKCEValidationFailed metric.Int64Counter
	CodeReuseDetected    metric.Int64Counter

	// Storage Metrics
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram
	StorageCodesCount        metric.Int64ObservableGauge
	StorageTokensCount       metric.Int64ObservableGauge

	// Audit Metrics
	AuditEventsTotal metric.Int64Counter
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}
	httpMeter := inst.Meter("http")
	serverMeter := inst.Meter("server")
	securityMeter := inst.Meter("security")
	storageMeter := inst.Meter("storage")

	var err error
	counter := func(meter metric.Meter, name, desc, unit string) metric.Int64Counter {
		if err != nil {
			return nil
		}
		var c metric.Int64Counter
		c, err = meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
		if err != nil {
			err = fmt.Errorf("failed to create %s counter: %w", name, err)
		}
		return c
	}
	histogram := func(meter metric.Meter, name, desc string) metric.Float64Histogram {
		if err != nil {
			return nil
		}
		var h metric.Float64Histogram
		h, err = meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit("ms"))
		if err != nil {
			err = fmt.Errorf("failed to create %s histogram: %w", name, err)
		}
		return h
	}
	gauge := func(meter metric.Meter, name, desc string) metric.Int64ObservableGauge {
		if err != nil {
			return nil
		}
		var g metric.Int64ObservableGauge
		g, err = meter.Int64ObservableGauge(name, metric.WithDescription(desc), metric.WithUnit("{item}"))
		if err != nil {
			err = fmt.Errorf("failed to create %s gauge: %w", name, err)
		}
		return g
	}

	m.HTTPRequestsTotal = counter(httpMeter, "oauth.http.requests.total", "Total number of HTTP requests", "{request}")
	m.HTTPRequestDuration = histogram(httpMeter, "oauth.http.request.duration", "HTTP request duration in milliseconds")

	m.AuthorizationRequests = counter(serverMeter, "oauth.authorization.requests", "Authorization endpoint outcomes", "{request}")
	m.TokensIssued = counter(serverMeter, "oauth.tokens.issued", "Number of successful token endpoint grants", "{grant}")
	m.GrantFailures = counter(serverMeter, "oauth.grant.failures", "Number of rejected token endpoint grants", "{grant}")
	m.IntrospectionRequests = counter(serverMeter, "oauth.introspection.requests", "Number of token introspection requests", "{request}")
	m.DeviceAuthorizations = counter(serverMeter, "oauth.device.authorizations", "Number of device authorizations started", "{flow}")

	m.RateLimitExceeded = counter(securityMeter, "oauth.security.rate_limit_exceeded", "Number of rate limited requests", "{request}")
	m.PKCEValidationFailed = counter(securityMeter, "oauth.security.pkce_validation_failed", "Number of failed PKCE verifications", "{attempt}")
	m.CodeReuseDetected = counter(securityMeter, "oauth.security.code_reuse_detected", "Number of authorization code replays", "{attempt}")
	m.AuditEventsTotal = counter(securityMeter, "oauth.audit.events.total", "Number of security audit events", "{event}")

	m.StorageOperationTotal = counter(storageMeter, "oauth.storage.operations.total", "Number of storage operations", "{operation}")
	m.StorageOperationDuration = histogram(storageMeter, "oauth.storage.operation.duration", "Storage operation duration in milliseconds")
	m.StorageCodesCount = gauge(storageMeter, "oauth.storage.codes.count", "Number of live authorization and device codes")
	m.StorageTokensCount = gauge(storageMeter, "oauth.storage.tokens.count", "Number of live access and refresh tokens")

	if err != nil {
		return nil, err
	}
	return m, nil
}

// RecordHTTPRequest records an HTTP request with its outcome
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)
	m.HTTPRequestDuration.Record(ctx, durationMs, attrs)
}

// RecordAuthorizationRequest records an authorization endpoint outcome
// (e.g. "consent", "approved", "denied", "redirect_error", "error_page")
func (m *Metrics) RecordAuthorizationRequest(ctx context.Context, responseType, outcome string) {
	m.AuthorizationRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("response_type", responseType),
		attribute.String("outcome", outcome),
	))
}

// RecordTokenIssued records a successful grant
func (m *Metrics) RecordTokenIssued(ctx context.Context, grantType string) {
	m.TokensIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("grant_type", grantType),
	))
}

// RecordGrantFailure records a rejected grant with its OAuth error code
func (m *Metrics) RecordGrantFailure(ctx context.Context, grantType, errorCode string) {
	m.GrantFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("grant_type", grantType),
		attribute.String("error", errorCode),
	))
}

// RecordIntrospection records an introspection result
func (m *Metrics) RecordIntrospection(ctx context.Context, active bool) {
	m.IntrospectionRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("active", active),
	))
}

// RecordDeviceAuthorization records a started device flow
func (m *Metrics) RecordDeviceAuthorization(ctx context.Context) {
	m.DeviceAuthorizations.Add(ctx, 1)
}

// RecordRateLimitExceeded records a rate limit violation
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, limiterType string) {
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("limiter_type", limiterType),
	))
}

// RecordPKCEValidationFailed records a PKCE validation failure
func (m *Metrics) RecordPKCEValidationFailed(ctx context.Context, method string) {
	m.PKCEValidationFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
	))
}

// RecordCodeReuseDetected records an authorization code replay
func (m *Metrics) RecordCodeReuseDetected(ctx context.Context) {
	m.CodeReuseDetected.Add(ctx, 1)
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("result", result),
	))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}

// RecordAuditEvent records an audit event
func (m *Metrics) RecordAuditEvent(ctx context.Context, eventType string) {
	m.AuditEventsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
	))
}
