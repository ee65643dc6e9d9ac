package valkey

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/giantswarm/oauth-engine/internal/util"
	"github.com/giantswarm/oauth-engine/storage"
	"github.com/giantswarm/oauth-engine/tokengen"
)

// ============================================================
// CodeManager Implementation
// ============================================================

// GenerateCode stores a new authorization code with a TTL of the code lifetime
func (s *Store) GenerateCode(ctx context.Context, userID, clientID, redirectURI string, scopes []string, pkce *storage.PKCE, nonce string) (string, error) {
	code := &storage.AuthorizationCode{
		Code:        tokengen.Random(),
		ClientID:    clientID,
		RedirectURI: redirectURI,
		UserID:      userID,
		ExpiresAt:   s.now().Add(s.codeLifetime),
		Scopes:      scopes,
		Nonce:       nonce,
	}
	if pkce != nil {
		code.CodeChallenge = pkce.Challenge
		code.CodeChallengeMethod = pkce.Method
	}

	if err := s.setJSON(ctx, s.codeKey(code.Code), toCodeRecord(code), s.codeLifetime); err != nil {
		return "", fmt.Errorf("failed to save authorization code: %w", err)
	}

	s.logger.Debug("Saved authorization code",
		"client_id", clientID,
		"code_prefix", util.SecretPrefix(code.Code))
	return code.Code, nil
}

// GetCode retrieves an authorization code without consuming it.
// Codes past their expiry are still returned until Valkey drops them.
func (s *Store) GetCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	if len(code) > MaxTokenLength {
		return nil, storage.ErrCodeNotFound
	}
	return getAndUnmarshal(ctx, s, s.codeKey(code), storage.ErrCodeNotFound, fromCodeRecord)
}

// CodeUsed deletes the code. DEL reports how many keys it removed, so only
// one of several concurrent callers succeeds.
func (s *Store) CodeUsed(ctx context.Context, code *storage.AuthorizationCode) error {
	n, err := s.client.Do(ctx, s.client.B().Del().Key(s.codeKey(code.Code)).Build()).AsInt64()
	if err != nil {
		return fmt.Errorf("failed to consume authorization code: %w", err)
	}
	if n == 0 {
		return storage.ErrCodeNotFound
	}

	s.logger.Debug("Consumed authorization code",
		"code_prefix", util.SecretPrefix(code.Code))
	return nil
}

// GenerateDeviceCode stores a new pending device authorization and its user code lookup
func (s *Store) GenerateDeviceCode(ctx context.Context, clientID string, scopes []string, lifetime time.Duration) (*storage.DeviceCode, error) {
	if lifetime <= 0 {
		return nil, fmt.Errorf("device code lifetime must be positive")
	}

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

		data, err := marshal(toDeviceRecord(device))
		if err != nil {
			return nil, err
		}

		result, err := s.client.Do(ctx,
			s.client.B().Eval().Script(luaReserveDeviceCode).
				Numkeys(2).
				Key(s.deviceKey(device.DeviceCode), s.userCodeKey(userCode)).
				Arg(data, device.DeviceCode, strconv.FormatInt(ttlSeconds(lifetime), 10)).
				Build(),
		).ToString()
		if err != nil {
			return nil, fmt.Errorf("failed to save device code: %w", err)
		}
		if result == "OK" {
			s.logger.Debug("Saved device code",
				"client_id", clientID,
				"user_code", userCode)
			return device, nil
		}
	}

	return nil, fmt.Errorf("failed to allocate a unique user code")
}

// GetDeviceCode retrieves a device code by its device code string
func (s *Store) GetDeviceCode(ctx context.Context, deviceCode string) (*storage.DeviceCode, error) {
	if len(deviceCode) > MaxTokenLength {
		return nil, storage.ErrDeviceCodeNotFound
	}
	return getAndUnmarshal(ctx, s, s.deviceKey(deviceCode), storage.ErrDeviceCodeNotFound, fromDeviceRecord)
}

// GetDeviceCodeByUserCode retrieves the device code bound to userCode
func (s *Store) GetDeviceCodeByUserCode(ctx context.Context, userCode string) (*storage.DeviceCode, error) {
	if len(userCode) > MaxIDLength {
		return nil, storage.ErrDeviceCodeNotFound
	}

	deviceCode, err := s.client.Do(ctx, s.client.B().Get().Key(s.userCodeKey(userCode)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrDeviceCodeNotFound
		}
		return nil, fmt.Errorf("failed to get user code: %w", err)
	}
	return s.GetDeviceCode(ctx, deviceCode)
}

// ApproveDeviceCode binds userID to the pending device code
func (s *Store) ApproveDeviceCode(ctx context.Context, deviceCode *storage.DeviceCode, userID string) error {
	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaApproveDeviceCode).
			Numkeys(1).
			Key(s.deviceKey(deviceCode.DeviceCode)).
			Arg(userID).
			Build(),
	).ToString()
	if err != nil {
		return fmt.Errorf("failed to approve device code: %w", err)
	}
	switch result {
	case "NOT_FOUND":
		return storage.ErrDeviceCodeNotFound
	case "APPROVED":
		return storage.ErrDeviceCodeApproved
	}
	return nil
}

// DeviceCodeUsed atomically deletes the device code and its user code lookup
func (s *Store) DeviceCodeUsed(ctx context.Context, deviceCode *storage.DeviceCode) error {
	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaConsumeDeviceCode).
			Numkeys(2).
			Key(s.deviceKey(deviceCode.DeviceCode), s.userCodeKey(deviceCode.UserCode)).
			Build(),
	).ToString()
	if err != nil {
		return fmt.Errorf("failed to consume device code: %w", err)
	}
	if result == "NOT_FOUND" {
		return storage.ErrDeviceCodeNotFound
	}
	return nil
}
