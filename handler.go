package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oauth-engine/instrumentation"
	"github.com/giantswarm/oauth-engine/security"
	"github.com/giantswarm/oauth-engine/server"
)

const tokenTypeBearer = "bearer"

// Handler is a thin HTTP adapter for the protocol engine.
// It parses requests, delegates to the Server for business logic and
// formats responses.
type Handler struct {
	server      *server.Server
	renderer    AuthorizeHandler
	config      *HandlerConfig
	logger      *slog.Logger
	tracer      trace.Tracer
	rateLimiter *security.RateLimiter
	ipResolver  security.ClientIPResolver
}

// NewHandler creates a new HTTP handler. renderer presents consent and
// error pages of the authorization endpoint and is required.
func NewHandler(srv *server.Server, renderer AuthorizeHandler, config *HandlerConfig, logger *slog.Logger) (*Handler, error) {
	if srv == nil {
		return nil, errors.New("server is required")
	}
	if renderer == nil {
		return nil, errors.New("authorize handler is required")
	}
	if config == nil {
		config = &HandlerConfig{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	config = applyHandlerDefaults(config)
	h := &Handler{
		server:   srv,
		renderer: renderer,
		config:   config,
		logger:   logger,
		tracer:   srv.Instrumentation.Tracer("http"),
		ipResolver: security.ClientIPResolver{
			TrustProxy:        config.TrustProxy,
			TrustedProxyCount: config.TrustedProxyCount,
		},
	}

	if config.RateLimit.Rate > 0 {
		h.rateLimiter = security.NewRateLimiter(config.RateLimit.Rate, config.RateLimit.Burst, logger)
	}

	return h, nil
}

// Close releases background resources of the handler
func (h *Handler) Close() {
	if h.rateLimiter != nil {
		h.rateLimiter.Stop()
	}
}

// clientIP returns the caller's address
func (h *Handler) clientIP(r *http.Request) string {
	return h.ipResolver.ClientIP(r)
}

// checkRateLimit rejects the request when the caller's IP is rate limited.
// Returns true if the request was rejected.
func (h *Handler) checkRateLimit(w http.ResponseWriter, r *http.Request, clientIP string) bool {
	if h.rateLimiter == nil || h.rateLimiter.Allow(clientIP) {
		return false
	}

	h.logger.Warn("Rate limit exceeded", "ip", clientIP, "endpoint", r.URL.Path)
	h.server.Instrumentation.Metrics().RecordRateLimitExceeded(r.Context(), "ip")
	h.server.Auditor.LogRateLimitExceeded(clientIP, r.URL.Path)

	w.Header().Set("Retry-After", "60")
	h.writeError(w, NewOAuthError(ErrorCodeRateLimitExceeded, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests))
	return true
}

// clientCredentials returns the client credentials of a token-style request.
// HTTP Basic credentials take precedence over the form parameters and are
// form-urlencoded (RFC 6749 section 2.3.1).
func clientCredentials(r *http.Request) (clientID, clientSecret string) {
	if id, secret, ok := r.BasicAuth(); ok && id != "" {
		return formUnescape(id), formUnescape(secret)
	}
	return r.PostFormValue("client_id"), r.PostFormValue("client_secret")
}

func formUnescape(s string) string {
	if v, err := url.QueryUnescape(s); err == nil {
		return v
	}
	return s
}

// writeJSON writes a 2xx JSON body with the no-store headers
func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	security.SetSecurityHeaders(w, h.config.Issuer)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Debug("Failed to write response", "error", err)
	}
}

// writeTokenResponse writes a successful token endpoint response
func (h *Handler) writeTokenResponse(w http.ResponseWriter, set *server.TokenSet) {
	h.writeJSON(w, http.StatusOK, TokenResponse{
		TokenType:    tokenTypeBearer,
		ExpiresIn:    set.ExpiresIn,
		AccessToken:  set.AccessToken,
		RefreshToken: set.RefreshToken,
		Scope:        strings.Join(set.Scopes, " "),
	})
}

// writeError writes an OAuth error body. A zero status is sent as 400.
func (h *Handler) writeError(w http.ResponseWriter, oauthErr *OAuthError) {
	status := oauthErr.Status
	if status == 0 {
		status = http.StatusBadRequest
	}

	security.SetSecurityHeaders(w, h.config.Issuer)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:            oauthErr.Code,
		ErrorDescription: oauthErr.Description,
	})
}

// writeEngineError writes err when it is a wire error and a server_error otherwise
func (h *Handler) writeEngineError(w http.ResponseWriter, err error) {
	var oauthErr *OAuthError
	if errors.As(err, &oauthErr) {
		h.writeError(w, oauthErr)
		return
	}
	h.logger.Error("Request failed", "error", err)
	h.writeError(w, ErrServerError("internal server error"))
}

// formatWWWAuthenticate formats a Bearer challenge per RFC 6750 §3
func formatWWWAuthenticate(errCode, errorDesc, scope string) string {
	params := []string{`realm="oauth"`}
	if scope != "" {
		params = append(params, `scope="`+quoteEscape(scope)+`"`)
	}
	if errCode != "" {
		params = append(params, `error="`+errCode+`"`)
	}
	if errorDesc != "" {
		params = append(params, `error_description="`+quoteEscape(errorDesc)+`"`)
	}
	return "Bearer " + strings.Join(params, ", ")
}

// quoteEscape escapes a value for an HTTP quoted-string
func quoteEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument wraps an endpoint with a server span and HTTP metrics
func (h *Handler) instrument(endpoint string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, span := h.tracer.Start(r.Context(), "http."+endpoint, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fn(rec, r.WithContext(ctx))

		instrumentation.AddHTTPAttributes(span, r.Method, endpoint, rec.status)
		if h.server.Instrumentation.ShouldLogClientIPs() {
			instrumentation.AddSecurityAttributes(span, h.clientIP(r))
		}
		h.server.Instrumentation.Metrics().RecordHTTPRequest(ctx, r.Method, endpoint, rec.status,
			float64(time.Since(start).Microseconds())/1000)
	}
}

// methodNotAllowed writes a 405 listing the allowed methods
func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}

// requestLogger returns the handler logger annotated with the request ID
func (h *Handler) requestLogger(ctx context.Context) *slog.Logger {
	if id := security.GetRequestID(ctx); id != "" {
		return h.logger.With("request_id", id)
	}
	return h.logger
}
