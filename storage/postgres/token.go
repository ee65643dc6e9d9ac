package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/giantswarm/oauth-engine/storage"
	"github.com/giantswarm/oauth-engine/tokengen"
)

// GenerateAccessToken issues and stores an access token
func (s *Store) GenerateAccessToken(ctx context.Context, clientID, userID string, scopes []string, lifetime time.Duration) (*storage.AccessToken, error) {
	access, err := s.newAccessToken(ctx, clientID, userID, scopes, lifetime)
	if err != nil {
		return nil, err
	}
	if err := insertAccessToken(ctx, s.pool, access); err != nil {
		return nil, err
	}
	return access, nil
}

// GenerateAccessRefreshTokens issues an access token and a refresh token in one transaction
func (s *Store) GenerateAccessRefreshTokens(ctx context.Context, clientID, userID string, scopes []string, accessLifetime time.Duration) (*storage.AccessToken, *storage.RefreshToken, error) {
	access, err := s.newAccessToken(ctx, clientID, userID, scopes, accessLifetime)
	if err != nil {
		return nil, nil, err
	}
	refresh := &storage.RefreshToken{
		Token:    tokengen.Random(),
		ClientID: clientID,
		UserID:   userID,
		Scopes:   scopes,
	}

	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := insertAccessToken(ctx, tx, access); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO oauth_refresh_tokens (token, client_id, user_id, scopes) VALUES ($1, $2, $3, $4)`,
			refresh.Token, refresh.ClientID, refresh.UserID, refresh.Scopes)
		if err != nil {
			return fmt.Errorf("failed to save refresh token: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return access, refresh, nil
}

func (s *Store) newAccessToken(ctx context.Context, clientID, userID string, scopes []string, lifetime time.Duration) (*storage.AccessToken, error) {
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
	return &storage.AccessToken{
		Token:     token,
		ClientID:  clientID,
		UserID:    userID,
		Scopes:    scopes,
		ExpiresAt: claims.ExpiresAt,
	}, nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertAccessToken(ctx context.Context, db execer, access *storage.AccessToken) error {
	_, err := db.Exec(ctx, `
		INSERT INTO oauth_access_tokens (token, client_id, user_id, scopes, expires_at) VALUES ($1, $2, $3, $4, $5)`,
		access.Token, access.ClientID, access.UserID, access.Scopes, access.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to save access token: %w", err)
	}
	return nil
}

// GetAccessToken retrieves an access token. Expired tokens are returned
// until they are purged; callers check expiry.
func (s *Store) GetAccessToken(ctx context.Context, token string) (*storage.AccessToken, error) {
	var a storage.AccessToken
	err := s.pool.QueryRow(ctx, `
		SELECT token, client_id, user_id, scopes, expires_at FROM oauth_access_tokens WHERE token = $1`, token,
	).Scan(&a.Token, &a.ClientID, &a.UserID, &a.Scopes, &a.ExpiresAt)
	if err != nil {
		return nil, notFound(err, storage.ErrTokenNotFound, "get access token")
	}
	return &a, nil
}

// GetRefreshToken retrieves a refresh token
func (s *Store) GetRefreshToken(ctx context.Context, token string) (*storage.RefreshToken, error) {
	var r storage.RefreshToken
	err := s.pool.QueryRow(ctx, `
		SELECT token, client_id, user_id, scopes FROM oauth_refresh_tokens WHERE token = $1`, token,
	).Scan(&r.Token, &r.ClientID, &r.UserID, &r.Scopes)
	if err != nil {
		return nil, notFound(err, storage.ErrTokenNotFound, "get refresh token")
	}
	return &r, nil
}

// UpdateRefreshToken replaces the stored scopes of a refresh token
func (s *Store) UpdateRefreshToken(ctx context.Context, token *storage.RefreshToken, scopes []string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE oauth_refresh_tokens SET scopes = $2 WHERE token = $1`, token.Token, scopes)
	if err != nil {
		return fmt.Errorf("failed to update refresh token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrTokenNotFound
	}
	return nil
}

// RevokeAccessToken deletes an access token. Unknown tokens are ignored.
func (s *Store) RevokeAccessToken(ctx context.Context, token string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM oauth_access_tokens WHERE token = $1`, token); err != nil {
		return fmt.Errorf("failed to revoke access token: %w", err)
	}
	return nil
}

// RevokeRefreshToken deletes a refresh token. Unknown tokens are ignored.
func (s *Store) RevokeRefreshToken(ctx context.Context, token string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM oauth_refresh_tokens WHERE token = $1`, token); err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return nil
}
