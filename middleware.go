package oauth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/giantswarm/oauth-engine/server"
)

// ValidateToken returns middleware protecting a resource with bearer tokens.
// The token must be active and carry every scope in requiredScopes.
// Invalid tokens answer 401 invalid_token, missing scopes 403
// insufficient_scope. The validated token is available to next through
// AccessTokenFromContext.
func (h *Handler) ValidateToken(requiredScopes ...string) func(http.Handler) http.Handler {
	scope := strings.Join(requiredScopes, " ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			clientIP := h.clientIP(r)

			if h.checkRateLimit(w, r, clientIP) {
				return
			}

			bearer, ok := extractBearerToken(r)
			if !ok {
				h.writeBearerError(w, ErrInvalidToken("missing or malformed Authorization header"), scope)
				return
			}

			token, err := h.server.AuthenticateAccessToken(ctx, bearer, requiredScopes)
			switch {
			case err == nil:
			case errors.Is(err, server.ErrTokenInactive):
				h.requestLogger(ctx).Debug("Bearer token rejected", "ip", clientIP)
				h.writeBearerError(w, ErrInvalidToken("token is invalid or expired"), scope)
				return
			case errors.Is(err, server.ErrInsufficientScopes):
				h.requestLogger(ctx).Debug("Bearer token lacks scope",
					"client_id", token.ClientID,
					"required", scope)
				h.writeBearerError(w, server.ErrInsufficientScope("token lacks required scope"), scope)
				return
			default:
				h.writeEngineError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithAccessToken(ctx, token)))
		})
	}
}

// extractBearerToken returns the token of an "Authorization: Bearer" header
func extractBearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// writeBearerError writes a resource error with a Bearer challenge
func (h *Handler) writeBearerError(w http.ResponseWriter, oauthErr *OAuthError, scope string) {
	w.Header().Set("WWW-Authenticate", formatWWWAuthenticate(oauthErr.Code, oauthErr.Description, scope))
	h.writeError(w, oauthErr)
}
