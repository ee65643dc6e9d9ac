package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/giantswarm/oauth-engine/internal/util"
	"github.com/giantswarm/oauth-engine/storage"
	"github.com/giantswarm/oauth-engine/tokengen"
)

// GenerateCode stores a new authorization code
func (s *Store) GenerateCode(ctx context.Context, userID, clientID, redirectURI string, scopes []string, pkce *storage.PKCE, nonce string) (string, error) {
	code := tokengen.Random()

	var challenge, method string
	if pkce != nil {
		challenge, method = pkce.Challenge, pkce.Method
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO oauth_codes (code, client_id, redirect_uri, user_id, expires_at, scopes, code_challenge, code_challenge_method, nonce)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		code, clientID, redirectURI, userID, s.now().Add(s.codeLifetime), scopes, challenge, method, nonce)
	if err != nil {
		return "", fmt.Errorf("failed to save authorization code: %w", err)
	}

	s.logger.Debug("Saved authorization code",
		"client_id", clientID,
		"code_prefix", util.SecretPrefix(code))
	return code, nil
}

// GetCode retrieves an authorization code without consuming it.
// Expired codes are returned until they are purged; callers check expiry.
func (s *Store) GetCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	var c storage.AuthorizationCode
	err := s.pool.QueryRow(ctx, `
		SELECT code, client_id, redirect_uri, user_id, expires_at, scopes, code_challenge, code_challenge_method, nonce
		FROM oauth_codes WHERE code = $1`, code,
	).Scan(&c.Code, &c.ClientID, &c.RedirectURI, &c.UserID, &c.ExpiresAt, &c.Scopes,
		&c.CodeChallenge, &c.CodeChallengeMethod, &c.Nonce)
	if err != nil {
		return nil, notFound(err, storage.ErrCodeNotFound, "get authorization code")
	}
	return &c, nil
}

// CodeUsed deletes the code. Only the caller whose DELETE removed the row succeeds.
func (s *Store) CodeUsed(ctx context.Context, code *storage.AuthorizationCode) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM oauth_codes WHERE code = $1`, code.Code)
	if err != nil {
		return fmt.Errorf("failed to consume authorization code: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrCodeNotFound
	}
	return nil
}

// GenerateDeviceCode stores a new pending device authorization.
// User code collisions are retried.
func (s *Store) GenerateDeviceCode(ctx context.Context, clientID string, scopes []string, lifetime time.Duration) (*storage.DeviceCode, error) {
	device := &storage.DeviceCode{
		DeviceCode: tokengen.Random(),
		ClientID:   clientID,
		ExpiresAt:  s.now().Add(lifetime),
		Scopes:     scopes,
	}

	for attempt := 0; attempt < userCodeAttempts; attempt++ {
		userCode, err := tokengen.UserCode()
		if err != nil {
			return nil, err
		}
		device.UserCode = userCode

		_, err = s.pool.Exec(ctx, `
			INSERT INTO oauth_device_codes (device_code, user_code, client_id, expires_at, scopes)
			VALUES ($1, $2, $3, $4, $5)`,
			device.DeviceCode, device.UserCode, device.ClientID, device.ExpiresAt, device.Scopes)
		if err == nil {
			return device, nil
		}

		var pgErr *pgconn.PgError
		if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
			return nil, fmt.Errorf("failed to save device code: %w", err)
		}
	}

	return nil, errors.New("failed to allocate a unique user code")
}

const deviceColumns = `device_code, user_code, client_id, user_id, expires_at, scopes`

func (s *Store) getDeviceCode(ctx context.Context, where string, arg string) (*storage.DeviceCode, error) {
	var d storage.DeviceCode
	err := s.pool.QueryRow(ctx, `SELECT `+deviceColumns+` FROM oauth_device_codes WHERE `+where+` = $1`, arg).
		Scan(&d.DeviceCode, &d.UserCode, &d.ClientID, &d.UserID, &d.ExpiresAt, &d.Scopes)
	if err != nil {
		return nil, notFound(err, storage.ErrDeviceCodeNotFound, "get device code")
	}
	return &d, nil
}

// GetDeviceCode retrieves a device code by its device code string
func (s *Store) GetDeviceCode(ctx context.Context, deviceCode string) (*storage.DeviceCode, error) {
	return s.getDeviceCode(ctx, "device_code", deviceCode)
}

// GetDeviceCodeByUserCode retrieves the device code bound to userCode
func (s *Store) GetDeviceCodeByUserCode(ctx context.Context, userCode string) (*storage.DeviceCode, error) {
	return s.getDeviceCode(ctx, "user_code", userCode)
}

// ApproveDeviceCode binds userID to the pending device code
func (s *Store) ApproveDeviceCode(ctx context.Context, deviceCode *storage.DeviceCode, userID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE oauth_device_codes SET user_id = $2 WHERE device_code = $1 AND user_id = ''`,
		deviceCode.DeviceCode, userID)
	if err != nil {
		return fmt.Errorf("failed to approve device code: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM oauth_device_codes WHERE device_code = $1)`,
		deviceCode.DeviceCode).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check device code: %w", err)
	}
	if exists {
		return storage.ErrDeviceCodeApproved
	}
	return storage.ErrDeviceCodeNotFound
}

// DeviceCodeUsed deletes the device code. Only the first caller succeeds.
func (s *Store) DeviceCodeUsed(ctx context.Context, deviceCode *storage.DeviceCode) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM oauth_device_codes WHERE device_code = $1`, deviceCode.DeviceCode)
	if err != nil {
		return fmt.Errorf("failed to consume device code: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrDeviceCodeNotFound
	}
	return nil
}
