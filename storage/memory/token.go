package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/giantswarm/oauth-engine/storage"
	"github.com/giantswarm/oauth-engine/tokengen"
)

// ============================================================
// TokenManager Implementation
// ============================================================

// GenerateAccessToken issues and stores an access token
func (s *Store) GenerateAccessToken(ctx context.Context, clientID, userID string, scopes []string, lifetime time.Duration) (_ *storage.AccessToken, err error) {
	startTime := time.Now()
	ctx, span := s.startStorageSpan(ctx, "generate_access_token")
	defer func() { s.recordStorageOperation(ctx, span, "generate_access_token", err, startTime) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	access, err := s.newAccessTokenLocked(ctx, clientID, userID, scopes, lifetime)
	if err != nil {
		return nil, err
	}
	s.updateCountsLocked()

	a := *access
	return &a, nil
}

// GenerateAccessRefreshTokens issues and stores an access token and a refresh token
func (s *Store) GenerateAccessRefreshTokens(ctx context.Context, clientID, userID string, scopes []string, accessLifetime time.Duration) (_ *storage.AccessToken, _ *storage.RefreshToken, err error) {
	startTime := time.Now()
	ctx, span := s.startStorageSpan(ctx, "generate_access_refresh_tokens")
	defer func() { s.recordStorageOperation(ctx, span, "generate_access_refresh_tokens", err, startTime) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	access, err := s.newAccessTokenLocked(ctx, clientID, userID, scopes, accessLifetime)
	if err != nil {
		return nil, nil, err
	}

	refresh := &storage.RefreshToken{
		Token:    tokengen.Random(),
		ClientID: clientID,
		UserID:   userID,
		Scopes:   cloneScopes(scopes),
	}
	s.refreshTokens[refresh.Token] = refresh
	s.updateCountsLocked()

	a, r := *access, *refresh
	return &a, &r, nil
}

func (s *Store) newAccessTokenLocked(ctx context.Context, clientID, userID string, scopes []string, lifetime time.Duration) (*storage.AccessToken, error) {
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
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	access := &storage.AccessToken{
		Token:     token,
		ClientID:  clientID,
		UserID:    userID,
		Scopes:    cloneScopes(scopes),
		ExpiresAt: claims.ExpiresAt,
	}
	s.accessTokens[token] = access
	return access, nil
}

// GetAccessToken returns a copy of the access token. Expired tokens are
// still returned until they are purged; callers check expiry.
func (s *Store) GetAccessToken(ctx context.Context, token string) (_ *storage.AccessToken, err error) {
	startTime := time.Now()
	ctx, span := s.startStorageSpan(ctx, "get_access_token")
	defer func() { s.recordStorageOperation(ctx, span, "get_access_token", err, startTime) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	access, ok := s.accessTokens[token]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	a := *access
	return &a, nil
}

// GetRefreshToken returns a copy of the refresh token
func (s *Store) GetRefreshToken(ctx context.Context, token string) (_ *storage.RefreshToken, err error) {
	startTime := time.Now()
	ctx, span := s.startStorageSpan(ctx, "get_refresh_token")
	defer func() { s.recordStorageOperation(ctx, span, "get_refresh_token", err, startTime) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	refresh, ok := s.refreshTokens[token]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	r := *refresh
	return &r, nil
}

// UpdateRefreshToken replaces the stored scopes of a refresh token
func (s *Store) UpdateRefreshToken(ctx context.Context, token *storage.RefreshToken, scopes []string) (err error) {
	startTime := time.Now()
	ctx, span := s.startStorageSpan(ctx, "update_refresh_token")
	defer func() { s.recordStorageOperation(ctx, span, "update_refresh_token", err, startTime) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	refresh, ok := s.refreshTokens[token.Token]
	if !ok {
		return storage.ErrTokenNotFound
	}
	refresh.Scopes = cloneScopes(scopes)
	return nil
}

// RevokeAccessToken deletes an access token
func (s *Store) RevokeAccessToken(ctx context.Context, token string) (err error) {
	startTime := time.Now()
	ctx, span := s.startStorageSpan(ctx, "revoke_access_token")
	defer func() { s.recordStorageOperation(ctx, span, "revoke_access_token", err, startTime) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.accessTokens, token)
	s.updateCountsLocked()
	return nil
}

// RevokeRefreshToken deletes a refresh token
func (s *Store) RevokeRefreshToken(ctx context.Context, token string) (err error) {
	startTime := time.Now()
	ctx, span := s.startStorageSpan(ctx, "revoke_refresh_token")
	defer func() { s.recordStorageOperation(ctx, span, "revoke_refresh_token", err, startTime) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.refreshTokens, token)
	s.updateCountsLocked()
	return nil
}
