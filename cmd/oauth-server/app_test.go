package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"

	oauth "github.com/giantswarm/oauth-engine"
	"github.com/giantswarm/oauth-engine/instrumentation"
	"github.com/giantswarm/oauth-engine/server"
)

const testSeed = `clients:
  - client_id: service
    client_secret: service-secret
    confidential: true
    valid_scopes: [read]
    allowed_grant_type: client_credentials
  - client_id: cli
    first_party: true
    allowed_grant_type: password
users:
  - id: user-alice
    username: alice
    password: wonderland
resource_servers:
  - username: api
    password: api-secret
`

func testConfig(t *testing.T) *Config {
	t.Helper()

	seedPath := filepath.Join(t.TempDir(), "seed.yaml")
	if err := os.WriteFile(seedPath, []byte(testSeed), 0o600); err != nil {
		t.Fatalf("failed to write seed: %v", err)
	}

	return &Config{
		Issuer:              "http://localhost",
		Environment:         "development",
		AccessTokenLifetime: time.Hour,
		CodeLifetime:        time.Minute,
		DeviceCodeLifetime:  10 * time.Minute,
		DevicePollInterval:  5 * time.Second,
		Storage: StorageConfig{
			Backend:  BackendMemory,
			SeedFile: seedPath,
		},
		HTTP: HTTPConfig{
			SessionMaxAge:   time.Hour,
			ShutdownTimeout: time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:       "info",
			LogFormat:      "text",
			AuditLogging:   true,
			MetricsEnabled: true,
			TracesExporter: instrumentation.ExporterNone,
		},
	}
}

func startApp(t *testing.T, cfg *Config) *httptest.Server {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	a, err := newApp(ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		cancel()
		t.Fatalf("newApp() error = %v", err)
	}

	ts := httptest.NewServer(a.router)
	t.Cleanup(func() {
		ts.Close()
		a.Close(context.Background())
		cancel()
	})
	return ts
}

func TestApp_ClientCredentials(t *testing.T) {
	ts := startApp(t, testConfig(t))
	ctx := context.Background()

	token, err := clientCredentialsConfig(ts.URL, "service", "service-secret", []string{"read"}).Token(ctx)
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if token.AccessToken == "" {
		t.Fatal("expected an access token")
	}
	if token.Type() != "Bearer" {
		t.Errorf("token type = %q, want Bearer", token.Type())
	}
	if scope := token.Extra("scope"); scope != "read" {
		t.Errorf("scope = %v, want read", scope)
	}

	_, err = clientCredentialsConfig(ts.URL, "service", "wrong", []string{"read"}).Token(ctx)
	if err == nil {
		t.Fatal("expected an error for a wrong secret")
	}
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) || retrieveErr.ErrorCode != oauth.ErrorCodeInvalidClient {
		t.Errorf("error = %v, want invalid_client", err)
	}
}

func TestApp_PasswordGrantAndProtectedResource(t *testing.T) {
	ts := startApp(t, testConfig(t))
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, ts.Client())

	conf := &oauth2.Config{
		ClientID: "cli",
		Endpoint: oauth2.Endpoint{
			TokenURL:  ts.URL + oauth.PathToken,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	token, err := conf.PasswordCredentialsToken(ctx, "alice", "wonderland")
	if err != nil {
		t.Fatalf("PasswordCredentialsToken() error = %v", err)
	}
	if token.RefreshToken == "" {
		t.Error("expected a refresh token")
	}

	resp, err := oauth2.NewClient(ctx, oauth2.StaticTokenSource(token)).Get(ts.URL + "/api/me")
	if err != nil {
		t.Fatalf("GET /api/me error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var me meResponse
	if err := json.NewDecoder(resp.Body).Decode(&me); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if me.ClientID != "cli" || me.Subject != "user-alice" || me.Username != "alice" {
		t.Errorf("me = %+v", me)
	}

	if _, err := conf.PasswordCredentialsToken(ctx, "alice", "queen"); err == nil {
		t.Error("expected an error for a wrong password")
	}
}

func TestApp_RemoteResourceServer(t *testing.T) {
	auth := startApp(t, testConfig(t))
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, auth.Client())

	conf := &oauth2.Config{
		ClientID: "cli",
		Endpoint: oauth2.Endpoint{
			TokenURL:  auth.URL + oauth.PathToken,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	token, err := conf.PasswordCredentialsToken(ctx, "alice", "wonderland")
	if err != nil {
		t.Fatalf("PasswordCredentialsToken() error = %v", err)
	}

	cfg := testConfig(t)
	cfg.Storage = StorageConfig{
		Backend:        BackendRemote,
		RemoteEndpoint: auth.URL + oauth.PathTokenInfo,
		RemoteUsername: "api",
		RemotePassword: "api-secret",
		RemoteCacheTTL: time.Minute,
	}
	resource := startApp(t, cfg)

	resp, err := oauth2.NewClient(ctx, oauth2.StaticTokenSource(token)).Get(resource.URL + "/api/me")
	if err != nil {
		t.Fatalf("GET /api/me error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var me meResponse
	if err := json.NewDecoder(resp.Body).Decode(&me); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if me.ClientID != "cli" || me.Username != "alice" {
		t.Errorf("me = %+v, want client cli and username alice", me)
	}

	tokenResp, err := resource.Client().Post(resource.URL+oauth.PathToken, "application/x-www-form-urlencoded", strings.NewReader("grant_type=password"))
	if err != nil {
		t.Fatal(err)
	}
	tokenResp.Body.Close()
	if tokenResp.StatusCode != http.StatusNotFound {
		t.Errorf("token endpoint status = %d, want %d in resource-only mode", tokenResp.StatusCode, http.StatusNotFound)
	}
}

func TestApp_Routes(t *testing.T) {
	ts := startApp(t, testConfig(t))

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
	}{
		{name: "health", method: http.MethodGet, path: "/healthz", wantStatus: http.StatusOK},
		{name: "metrics", method: http.MethodGet, path: "/metrics", wantStatus: http.StatusOK},
		{name: "metadata", method: http.MethodGet, path: oauth.PathMetadata, wantStatus: http.StatusOK},
		{name: "me without token", method: http.MethodGet, path: "/api/me", wantStatus: http.StatusUnauthorized},
		{name: "authorize without login", method: http.MethodGet, path: oauth.PathAuthorize + "?client_id=cli", wantStatus: http.StatusUnauthorized},
		{name: "device page without login", method: http.MethodGet, path: oauth.PathDevice, wantStatus: http.StatusUnauthorized},
		{name: "token with GET", method: http.MethodGet, path: oauth.PathToken, wantStatus: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, ts.URL+tt.path, nil)
			if err != nil {
				t.Fatal(err)
			}
			resp, err := ts.Client().Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestApp_AuthorizeWithWrongLogin(t *testing.T) {
	ts := startApp(t, testConfig(t))

	req, err := http.NewRequest(http.MethodGet, ts.URL+oauth.PathAuthorize+"?client_id=cli", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.SetBasicAuth("alice", "queen")

	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}
	if got := resp.Header.Get("WWW-Authenticate"); !strings.HasPrefix(got, "Basic ") {
		t.Errorf("WWW-Authenticate = %q, want a Basic challenge", got)
	}
}

func TestNewApp_BadSeed(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.SeedFile = filepath.Join(t.TempDir(), "missing.yaml")

	if _, err := newApp(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
		t.Fatal("expected an error for a missing seed file")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{name: "valid", modify: func(*Config) {}},
		{name: "unknown backend", modify: func(c *Config) { c.Storage.Backend = "etcd" }, wantErr: true},
		{name: "remote without endpoint", modify: func(c *Config) { c.Storage.Backend = BackendRemote }, wantErr: true},
		{
			name: "remote with endpoint",
			modify: func(c *Config) {
				c.Storage.Backend = BackendRemote
				c.Storage.RemoteEndpoint = "https://auth.example.com/oauth/token_info"
			},
		},
		{name: "unknown log format", modify: func(c *Config) { c.Observability.LogFormat = "xml" }, wantErr: true},
		{name: "short jwt key", modify: func(c *Config) { c.JWTKey = "short" }, wantErr: true},
		{name: "jwt key", modify: func(c *Config) { c.JWTKey = strings.Repeat("k", 32) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.modify(cfg)

			err := cfg.validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `addr: ":9090"
issuer: https://auth.example.com
valid_scopes: [read, write]
storage:
  backend: postgres
observability:
  log_format: json
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Addr != ":9090" || cfg.Issuer != "https://auth.example.com" {
		t.Errorf("addr = %q, issuer = %q", cfg.Addr, cfg.Issuer)
	}
	if len(cfg.ValidScopes) != 2 {
		t.Errorf("valid scopes = %v", cfg.ValidScopes)
	}
	if cfg.Storage.Backend != BackendPostgres || cfg.Observability.LogFormat != "json" {
		t.Errorf("backend = %q, log format = %q", cfg.Storage.Backend, cfg.Observability.LogFormat)
	}
	// unset values fall back to env-default
	if cfg.AccessTokenLifetime != time.Hour {
		t.Errorf("access token lifetime = %v, want 1h", cfg.AccessTokenLifetime)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestHashPasswordCommand(t *testing.T) {
	var out bytes.Buffer
	hashPasswordCmd.SetOut(&out)
	hashPasswordCmd.SetIn(strings.NewReader("wonderland\n"))
	t.Cleanup(func() {
		hashPasswordCmd.SetOut(nil)
		hashPasswordCmd.SetIn(nil)
	})

	if err := hashPasswordCmd.RunE(hashPasswordCmd, nil); err != nil {
		t.Fatalf("RunE() error = %v", err)
	}
	if got := strings.TrimSpace(out.String()); !strings.HasPrefix(got, "$2") {
		t.Errorf("output = %q, want a bcrypt hash", got)
	}
}

func TestPages(t *testing.T) {
	p := &pages{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	req := httptest.NewRequest(http.MethodGet, oauth.PathAuthorize, nil)

	t.Run("consent", func(t *testing.T) {
		rr := httptest.NewRecorder()
		p.HandleAuthorizationRequest(rr, req, &oauth.ConsentRequest{
			AuthorizationRequest: &server.AuthorizationRequest{
				ResponseType: "code",
				ClientID:     "web",
				RedirectURI:  "https://app.example.com/callback",
				Scopes:       []string{"read", "write"},
				State:        "xyz",
				CSRFToken:    "csrf-123",
			},
		})

		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
		}
		body := rr.Body.String()
		for _, want := range []string{`name="csrfToken" value="csrf-123"`, `name="scope" value="read write"`, "<li>write</li>"} {
			if !strings.Contains(body, want) {
				t.Errorf("body does not contain %q", want)
			}
		}
		if got := rr.Header().Get("Cache-Control"); got != "no-store" {
			t.Errorf("Cache-Control = %q, want no-store", got)
		}
	})

	t.Run("error", func(t *testing.T) {
		rr := httptest.NewRecorder()
		p.HandleAuthorizationError(rr, req, &oauth.AuthorizationFailure{
			Err:    server.ErrInvalidClientID,
			Status: http.StatusBadRequest,
		})

		if rr.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", rr.Code, http.StatusBadRequest)
		}
		if !strings.Contains(rr.Body.String(), "Authorization failed") {
			t.Error("expected the error page")
		}
	})

	t.Run("device result", func(t *testing.T) {
		rr := httptest.NewRecorder()
		p.HandleDeviceVerificationResult(rr, req, false)

		if !strings.Contains(rr.Body.String(), "Access denied") {
			t.Error("expected the denial page")
		}
	})
}
