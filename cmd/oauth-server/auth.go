package main

import (
	"errors"
	"log/slog"
	"net/http"

	oauth "github.com/giantswarm/oauth-engine"
	"github.com/giantswarm/oauth-engine/security"
	"github.com/giantswarm/oauth-engine/storage"
)

const loginRealm = `Basic realm="oauth-server login", charset="UTF-8"`

// requireUser authenticates the end user with HTTP Basic credentials checked
// against the user store, and marks the request with the user's ID.
func requireUser(users storage.UserManager, resolver security.ClientIPResolver, auditor *security.Auditor, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			username, password, ok := r.BasicAuth()
			if !ok {
				challenge(w)
				return
			}

			userID, err := users.AuthenticateUser(r.Context(), username, password)
			if err != nil {
				if errors.Is(err, storage.ErrInvalidCredentials) || errors.Is(err, storage.ErrUserNotFound) {
					clientIP := resolver.ClientIP(r)
					logger.Warn(security.LoginWarningMessage(username), "ip", clientIP)
					auditor.LogLoginWarning(username, "", clientIP)
					challenge(w)
					return
				}
				logger.Error("Failed to authenticate user", "error", err)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			next.ServeHTTP(w, r.WithContext(oauth.ContextWithUserID(r.Context(), userID)))
		})
	}
}

func challenge(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", loginRealm)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}
