package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/giantswarm/oauth-engine/internal/util"
	"github.com/giantswarm/oauth-engine/storage"
)

// ValidateRefreshToken checks that a refresh token belongs to clientID
func (s *Server) ValidateRefreshToken(token *storage.RefreshToken, clientID string) error {
	if token.ClientID != clientID {
		return ErrTokenClientMismatch
	}
	return nil
}

// ValidateAccessToken checks that an access token carries every required scope.
// No required scope always passes.
func (s *Server) ValidateAccessToken(token *storage.AccessToken, requiredScopes []string) error {
	if !util.ContainsAll(token.Scopes, requiredScopes) {
		return ErrInsufficientScopes
	}
	return nil
}

// AuthenticateAccessToken resolves a bearer token presented to a protected
// resource. It fails with ErrTokenInactive when the token is unknown or
// expired, and with ErrInsufficientScopes when a required scope is missing.
func (s *Server) AuthenticateAccessToken(ctx context.Context, tokenString string, requiredScopes []string) (*storage.AccessToken, error) {
	token, err := s.tokens.GetAccessToken(ctx, tokenString)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return nil, ErrTokenInactive
		}
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}

	if token.IsExpired(s.Config.Now()) {
		return nil, ErrTokenInactive
	}

	if err := s.ValidateAccessToken(token, requiredScopes); err != nil {
		return token, err
	}
	return token, nil
}
