package server

import (
	"context"
	"crypto/subtle"
	"errors"

	"github.com/giantswarm/oauth-engine/internal/util"
	"github.com/giantswarm/oauth-engine/security"
	"github.com/giantswarm/oauth-engine/storage"
)

// Introspection is the token introspection result (RFC 7662 §2.2).
// Only Active is meaningful when the token is inactive.
type Introspection struct {
	Active    bool
	ClientID  string
	Scope     string
	Username  string
	ExpiresAt int64 // unix seconds
}

// AuthenticateResourceServer checks the Basic-auth credentials of an
// introspection caller.
func (s *Server) AuthenticateResourceServer(ctx context.Context, username, password string) error {
	if s.resourceServers == nil || username == "" {
		return ErrResourceServerUnauthorized
	}

	rs, err := s.resourceServers.GetServer(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrResourceServerNotFound) {
			s.Auditor.LogAuthFailure("", "", "", "unknown_resource_server")
			return ErrResourceServerUnauthorized
		}
		return err
	}

	if subtle.ConstantTimeCompare([]byte(rs.Password), []byte(password)) != 1 {
		s.Auditor.LogAuthFailure("", "", "", "resource_server_password_mismatch")
		return ErrResourceServerUnauthorized
	}
	return nil
}

// Introspect reports whether token is an active access token. Unknown and
// expired tokens are inactive, which is a normal outcome and not an error.
func (s *Server) Introspect(ctx context.Context, token string) (*Introspection, error) {
	ctx, span := s.tracer.Start(ctx, "server.Introspect")
	defer span.End()

	if token == "" {
		return nil, ErrMissingToken("token is required")
	}

	metrics := s.Instrumentation.Metrics()

	access, err := s.tokens.GetAccessToken(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			metrics.RecordIntrospection(ctx, false)
			return &Introspection{Active: false}, nil
		}
		s.Logger.Error("Failed to get access token", "error", err)
		return nil, ErrServerError("internal server error")
	}

	if access.IsExpired(s.Config.Now()) {
		metrics.RecordIntrospection(ctx, false)
		return &Introspection{Active: false}, nil
	}

	result := &Introspection{
		Active:    true,
		ClientID:  access.ClientID,
		Scope:     util.JoinScopes(access.Scopes),
		ExpiresAt: access.ExpiresAt.Unix(),
	}

	if access.UserID != "" && s.users != nil {
		user, err := s.users.GetUser(ctx, access.UserID)
		switch {
		case err == nil:
			result.Username = user.Username
		case errors.Is(err, storage.ErrUserNotFound):
			s.Logger.Debug("Token user no longer exists", "client_id", access.ClientID)
		default:
			s.Logger.Error("Failed to get user", "error", err)
			return nil, ErrServerError("internal server error")
		}
	}

	s.Auditor.LogEvent(security.Event{
		Type:     security.EventTokenIntrospected,
		UserID:   access.UserID,
		ClientID: access.ClientID,
	})
	metrics.RecordIntrospection(ctx, true)
	return result, nil
}
