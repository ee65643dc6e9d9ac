package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/giantswarm/oauth-engine/internal/util"
	"github.com/giantswarm/oauth-engine/storage"
	"github.com/giantswarm/oauth-engine/tokengen"
)

// ============================================================
// TokenManager Implementation
// ============================================================

// GenerateAccessToken issues an access token stored with a TTL of its lifetime
func (s *Store) GenerateAccessToken(ctx context.Context, clientID, userID string, scopes []string, lifetime time.Duration) (*storage.AccessToken, error) {
	access, data, err := s.newAccessToken(ctx, clientID, userID, scopes, lifetime)
	if err != nil {
		return nil, err
	}

	if err := s.client.Do(ctx,
		s.client.B().Set().Key(s.accessTokenKey(access.Token)).Value(data).Ex(lifetime).Build(),
	).Error(); err != nil {
		return nil, fmt.Errorf("failed to save access token: %w", err)
	}
	return access, nil
}

// GenerateAccessRefreshTokens issues an access token and a refresh token.
// Both are written in a single MULTI/EXEC transaction. Refresh tokens do not expire.
func (s *Store) GenerateAccessRefreshTokens(ctx context.Context, clientID, userID string, scopes []string, accessLifetime time.Duration) (*storage.AccessToken, *storage.RefreshToken, error) {
	access, accessData, err := s.newAccessToken(ctx, clientID, userID, scopes, accessLifetime)
	if err != nil {
		return nil, nil, err
	}

	refresh := &storage.RefreshToken{
		Token:    tokengen.Random(),
		ClientID: clientID,
		UserID:   userID,
		Scopes:   scopes,
	}
	refreshData, err := marshal(refresh)
	if err != nil {
		return nil, nil, err
	}

	results := s.client.DoMulti(ctx,
		s.client.B().Multi().Build(),
		s.client.B().Set().Key(s.accessTokenKey(access.Token)).Value(accessData).Ex(accessLifetime).Build(),
		s.client.B().Set().Key(s.refreshTokenKey(refresh.Token)).Value(refreshData).Build(),
		s.client.B().Exec().Build(),
	)
	for _, result := range results {
		if err := result.Error(); err != nil {
			return nil, nil, fmt.Errorf("failed to save tokens: %w", err)
		}
	}

	s.logger.Debug("Issued token pair",
		"client_id", clientID,
		"refresh_prefix", util.SecretPrefix(refresh.Token))
	return access, refresh, nil
}

func (s *Store) newAccessToken(ctx context.Context, clientID, userID string, scopes []string, lifetime time.Duration) (*storage.AccessToken, string, error) {
	if lifetime <= 0 {
		return nil, "", fmt.Errorf("access token lifetime must be positive")
	}

	now := s.now()
	claims := tokengen.Claims{
		ClientID:  clientID,
		UserID:    userID,
		Scopes:    scopes,
		IssuedAt:  now,
		ExpiresAt: now.Add(lifetime),
	}
	token, err := s.generator.AccessToken(ctx, claims)
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate access token: %w", err)
	}

	access := &storage.AccessToken{
		Token:     token,
		ClientID:  clientID,
		UserID:    userID,
		Scopes:    scopes,
		ExpiresAt: time.Unix(claims.ExpiresAt.Unix(), 0),
	}
	data, err := marshal(&accessTokenRecord{
		Token:     token,
		ClientID:  clientID,
		UserID:    userID,
		Scopes:    scopes,
		ExpiresAt: access.ExpiresAt.Unix(),
	})
	if err != nil {
		return nil, "", err
	}
	return access, data, nil
}

// GetAccessToken retrieves an access token. Valkey drops it once its TTL elapses.
func (s *Store) GetAccessToken(ctx context.Context, token string) (*storage.AccessToken, error) {
	if len(token) > MaxTokenLength {
		return nil, storage.ErrTokenNotFound
	}
	return getAndUnmarshal(ctx, s, s.accessTokenKey(token), storage.ErrTokenNotFound, fromAccessTokenRecord)
}

// GetRefreshToken retrieves a refresh token
func (s *Store) GetRefreshToken(ctx context.Context, token string) (*storage.RefreshToken, error) {
	if len(token) > MaxTokenLength {
		return nil, storage.ErrTokenNotFound
	}
	return getAndUnmarshal(ctx, s, s.refreshTokenKey(token), storage.ErrTokenNotFound, identity[storage.RefreshToken])
}

// UpdateRefreshToken replaces the stored scopes of a refresh token.
// A token deleted in the meantime is not recreated.
func (s *Store) UpdateRefreshToken(ctx context.Context, token *storage.RefreshToken, scopes []string) error {
	updated := *token
	updated.Scopes = scopes
	data, err := marshal(&updated)
	if err != nil {
		return err
	}

	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaReplaceIfExists).
			Numkeys(1).
			Key(s.refreshTokenKey(token.Token)).
			Arg(data).
			Build(),
	).ToString()
	if err != nil {
		return fmt.Errorf("failed to update refresh token: %w", err)
	}
	if result == "NOT_FOUND" {
		return storage.ErrTokenNotFound
	}
	return nil
}

// RevokeAccessToken deletes an access token. Unknown tokens are ignored.
func (s *Store) RevokeAccessToken(ctx context.Context, token string) error {
	if err := s.client.Do(ctx, s.client.B().Del().Key(s.accessTokenKey(token)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to revoke access token: %w", err)
	}
	return nil
}

// RevokeRefreshToken deletes a refresh token. Unknown tokens are ignored.
func (s *Store) RevokeRefreshToken(ctx context.Context, token string) error {
	if err := s.client.Do(ctx, s.client.B().Del().Key(s.refreshTokenKey(token)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return nil
}

func marshal(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal data: %w", err)
	}
	return string(data), nil
}
