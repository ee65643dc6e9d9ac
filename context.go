package oauth

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/giantswarm/oauth-engine/storage"
)

type contextKey string

const (
	userIDKey      contextKey = "user_id"
	accessTokenKey contextKey = "access_token"
)

// ContextWithUserID marks the request as made by an authenticated end user.
// Host authentication middleware calls this before the authorization and
// device verification endpoints run.
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext returns the authenticated end user, if any
func UserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDKey).(string)
	return userID, ok && userID != ""
}

// ContextWithAccessToken stores a validated access token
func ContextWithAccessToken(ctx context.Context, token *storage.AccessToken) context.Context {
	return context.WithValue(ctx, accessTokenKey, token)
}

// AccessTokenFromContext returns the access token validated by ValidateToken
func AccessTokenFromContext(ctx context.Context) (*storage.AccessToken, bool) {
	token, ok := ctx.Value(accessTokenKey).(*storage.AccessToken)
	return token, ok && token != nil
}

// sessionID resolves the session identifier of r. When the handler keeps its
// own cookie and create is true, a missing session is started by setting a
// fresh cookie on w.
// errNoSession answers a consent or device page request that has no session
// to bind the CSRF token to
var errNoSession = ErrInvalidRequest("no session for the request")

func (h *Handler) sessionID(w http.ResponseWriter, r *http.Request, create bool) (string, bool) {
	if h.config.SessionID != nil {
		return h.config.SessionID(r)
	}

	if c, err := r.Cookie(h.config.SessionCookieName); err == nil && c.Value != "" {
		return c.Value, true
	}
	if !create {
		return "", false
	}

	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     h.config.SessionCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(h.config.SessionCookieMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   h.config.secureCookies(),
		SameSite: http.SameSiteLaxMode,
	})
	return id, true
}
