package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	oauth "github.com/giantswarm/oauth-engine"
	"github.com/giantswarm/oauth-engine/instrumentation"
	"github.com/giantswarm/oauth-engine/security"
	"github.com/giantswarm/oauth-engine/server"
	"github.com/giantswarm/oauth-engine/storage"
	"github.com/giantswarm/oauth-engine/storage/memory"
	"github.com/giantswarm/oauth-engine/tokengen"
)

// app is the assembled service
type app struct {
	config  *Config
	logger  *slog.Logger
	inst    *instrumentation.Instrumentation
	backend *backend
	server  *server.Server
	handler *oauth.Handler
	router  http.Handler
}

// newApp wires storage, engine and HTTP adapter from cfg
func newApp(ctx context.Context, cfg *Config, logger *slog.Logger) (*app, error) {
	inst, err := newInstrumentation(cfg.Observability)
	if err != nil {
		return nil, err
	}

	gen, err := tokenGenerator(cfg)
	if err != nil {
		return nil, err
	}

	be, err := openBackend(ctx, cfg, gen, inst, logger)
	if err != nil {
		return nil, err
	}
	a := &app{config: cfg, logger: logger, inst: inst, backend: be}

	if cfg.Storage.SeedFile != "" {
		if err := a.seed(ctx, cfg.Storage.SeedFile); err != nil {
			a.Close(ctx)
			return nil, err
		}
	}

	issuer := strings.TrimSuffix(cfg.Issuer, "/")
	srv, err := server.New(be.stores, &server.Config{
		ValidScopes:             cfg.ValidScopes,
		Environment:             cfg.Environment,
		AccessTokenLifetime:     cfg.AccessTokenLifetime,
		DeviceCodeLifetime:      cfg.DeviceCodeLifetime,
		DevicePollInterval:      cfg.DevicePollInterval,
		DeviceVerificationURI:   issuer + oauth.PathDevice,
		RejectPKCEWithoutMethod: cfg.RejectPKCEWithoutMethod,
	}, logger)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("failed to create server: %w", err)
	}
	srv.SetInstrumentation(inst)

	auditor := security.NewAuditor(logger, cfg.Observability.AuditLogging)
	auditor.OnEvent(func(eventType string) {
		inst.Metrics().RecordAuditEvent(context.Background(), eventType)
	})
	srv.SetAuditor(auditor)
	a.server = srv

	handler, err := oauth.NewHandler(srv, &pages{logger: logger}, &oauth.HandlerConfig{
		Issuer:              issuer,
		SessionCookieMaxAge: cfg.HTTP.SessionMaxAge,
		RateLimit: oauth.RateLimitConfig{
			Rate:  cfg.HTTP.RateLimit,
			Burst: cfg.HTTP.RateLimitBurst,
		},
		TrustProxy:        cfg.HTTP.TrustProxy,
		TrustedProxyCount: cfg.HTTP.TrustedProxyCount,
	}, logger)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("failed to create handler: %w", err)
	}
	a.handler = handler
	a.router = a.routes()

	return a, nil
}

func newInstrumentation(cfg ObservabilityConfig) (*instrumentation.Instrumentation, error) {
	metricsExporter := instrumentation.ExporterNone
	if cfg.MetricsEnabled {
		metricsExporter = instrumentation.ExporterPrometheus
	}

	inst, err := instrumentation.New(instrumentation.Config{
		ServiceName:     "oauth-server",
		ServiceVersion:  Version,
		Enabled:         cfg.MetricsEnabled || cfg.TracesExporter == instrumentation.ExporterStdout,
		LogClientIPs:    cfg.LogClientIPs,
		MetricsExporter: metricsExporter,
		TracesExporter:  cfg.TracesExporter,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create instrumentation: %w", err)
	}
	return inst, nil
}

// tokenGenerator returns the JWT generator when a key is configured, and
// nil to keep the backends' opaque default
func tokenGenerator(cfg *Config) (tokengen.Generator, error) {
	if cfg.JWTKey == "" {
		return nil, nil
	}
	gen, err := tokengen.NewJWT([]byte(cfg.JWTKey), strings.TrimSuffix(cfg.Issuer, "/"), cfg.JWTAudience)
	if err != nil {
		return nil, fmt.Errorf("failed to create jwt generator: %w", err)
	}
	return gen, nil
}

func (a *app) seed(ctx context.Context, path string) error {
	seed, err := memory.ReadSeedFile(path)
	if err != nil {
		return err
	}
	if err := seed.ApplyTo(ctx, a.backend.seeder); err != nil {
		return fmt.Errorf("failed to apply seed: %w", err)
	}
	a.logger.Info("Loaded seed fixtures",
		"path", path,
		"clients", len(seed.Clients),
		"users", len(seed.Users),
		"resource_servers", len(seed.ResourceServers))
	return nil
}

// routes mounts the endpoints. A backend resolving tokens remotely only
// serves the protected resource.
func (a *app) routes() http.Handler {
	h := a.handler

	r := chi.NewRouter()
	r.Use(security.RequestIDMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if a.config.Observability.MetricsEnabled {
		r.Handle("/metrics", a.inst.MetricsHandler())
	}

	r.With(h.ValidateToken()).Get("/api/me", a.serveMe)

	if a.backend.resourceOnly {
		return r
	}

	r.Get(oauth.PathMetadata, h.ServeAuthorizationServerMetadata)
	r.Post(oauth.PathToken, h.ServeToken)
	r.Post(oauth.PathTokenInfo, h.ServeTokenInfo)
	r.Post(oauth.PathDeviceAuthorization, h.ServeDeviceAuthorization)

	resolver := security.ClientIPResolver{
		TrustProxy:        a.config.HTTP.TrustProxy,
		TrustedProxyCount: a.config.HTTP.TrustedProxyCount,
	}
	r.Group(func(r chi.Router) {
		r.Use(requireUser(a.backend.stores.Users, resolver, a.server.Auditor, a.logger))
		r.Get(oauth.PathAuthorize, h.ServeAuthorization)
		r.Post(oauth.PathAuthorize, h.ServeAuthorization)
		r.Get(oauth.PathDevice, h.ServeDeviceVerification)
		r.Post(oauth.PathDevice, h.ServeDeviceVerification)
	})

	return r
}

type meResponse struct {
	ClientID  string `json:"client_id"`
	Subject   string `json:"sub,omitempty"`
	Username  string `json:"username,omitempty"`
	Scope     string `json:"scope,omitempty"`
	ExpiresAt int64  `json:"exp"`
}

// serveMe describes the bearer token of the request
func (a *app) serveMe(w http.ResponseWriter, r *http.Request) {
	token, ok := oauth.AccessTokenFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	resp := meResponse{
		ClientID:  token.ClientID,
		Subject:   token.UserID,
		Scope:     strings.Join(token.Scopes, " "),
		ExpiresAt: token.ExpiresAt.Unix(),
	}
	switch {
	case token.UserID == "":
	case a.backend.resourceOnly:
		// remote tokens carry the username in place of the user ID
		resp.Username = token.UserID
	default:
		user, err := a.backend.stores.Users.GetUser(r.Context(), token.UserID)
		switch {
		case err == nil:
			resp.Username = user.Username
		case errors.Is(err, storage.ErrUserNotFound):
		default:
			a.logger.Error("Failed to get user", "error", err)
		}
	}

	security.SetNoStoreHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// Close releases the resources of the app
func (a *app) Close(ctx context.Context) {
	if a.handler != nil {
		a.handler.Close()
	}
	if a.backend != nil {
		a.backend.close()
	}
	if err := a.inst.Shutdown(ctx); err != nil {
		a.logger.Warn("Failed to shut down instrumentation", "error", err)
	}
}
