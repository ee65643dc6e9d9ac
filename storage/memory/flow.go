package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/giantswarm/oauth-engine/internal/util"
	"github.com/giantswarm/oauth-engine/storage"
	"github.com/giantswarm/oauth-engine/tokengen"
)

// ============================================================
// CodeManager Implementation
// ============================================================

// GenerateCode stores a new authorization code valid for the store's code lifetime
func (s *Store) GenerateCode(ctx context.Context, userID, clientID, redirectURI string, scopes []string, pkce *storage.PKCE, nonce string) (_ string, err error) {
	startTime := time.Now()
	ctx, span := s.startStorageSpan(ctx, "generate_code")
	defer func() { s.recordStorageOperation(ctx, span, "generate_code", err, startTime) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	authCode := &storage.AuthorizationCode{
		Code:        tokengen.Random(),
		ClientID:    clientID,
		RedirectURI: redirectURI,
		UserID:      userID,
		ExpiresAt:   s.now().Add(s.codeLifetime),
		Scopes:      cloneScopes(scopes),
		Nonce:       nonce,
	}
	if pkce != nil {
		authCode.CodeChallenge = pkce.Challenge
		authCode.CodeChallengeMethod = pkce.Method
	}

	s.codes[authCode.Code] = authCode
	s.updateCountsLocked()

	s.logger.Debug("Stored authorization code",
		"client_id", clientID,
		"code_prefix", util.SecretPrefix(authCode.Code))
	return authCode.Code, nil
}

// GetCode returns a copy of the authorization code
func (s *Store) GetCode(ctx context.Context, code string) (_ *storage.AuthorizationCode, err error) {
	startTime := time.Now()
	ctx, span := s.startStorageSpan(ctx, "get_code")
	defer func() { s.recordStorageOperation(ctx, span, "get_code", err, startTime) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	authCode, ok := s.codes[code]
	if !ok {
		return nil, storage.ErrCodeNotFound
	}
	c := *authCode
	return &c, nil
}

// CodeUsed atomically deletes the code. Only the first caller succeeds.
func (s *Store) CodeUsed(ctx context.Context, code *storage.AuthorizationCode) (err error) {
	startTime := time.Now()
	ctx, span := s.startStorageSpan(ctx, "code_used")
	defer func() { s.recordStorageOperation(ctx, span, "code_used", err, startTime) }()

	s.mu.Lock() // MUST use write lock for atomic compare-and-delete
	defer s.mu.Unlock()

	if _, ok := s.codes[code.Code]; !ok {
		return storage.ErrCodeNotFound
	}
	delete(s.codes, code.Code)
	s.updateCountsLocked()
	return nil
}

// GenerateDeviceCode stores a new pending device authorization
func (s *Store) GenerateDeviceCode(ctx context.Context, clientID string, scopes []string, lifetime time.Duration) (_ *storage.DeviceCode, err error) {
	startTime := time.Now()
	ctx, span := s.startStorageSpan(ctx, "generate_device_code")
	defer func() { s.recordStorageOperation(ctx, span, "generate_device_code", err, startTime) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	// User codes are short; retry on the rare collision with a pending one
	var userCode string
	for attempt := 0; ; attempt++ {
		if attempt == 5 {
			return nil, fmt.Errorf("failed to allocate a unique user code")
		}
		userCode, err = tokengen.UserCode()
		if err != nil {
			return nil, err
		}
		if _, taken := s.userCodes[userCode]; !taken {
			break
		}
	}

	device := &storage.DeviceCode{
		DeviceCode: tokengen.Random(),
		UserCode:   userCode,
		ClientID:   clientID,
		ExpiresAt:  s.now().Add(lifetime),
		Scopes:     cloneScopes(scopes),
	}
	s.deviceCodes[device.DeviceCode] = device
	s.userCodes[userCode] = device.DeviceCode
	s.updateCountsLocked()

	d := *device
	return &d, nil
}

// GetDeviceCode returns a copy of the device code
func (s *Store) GetDeviceCode(ctx context.Context, deviceCode string) (_ *storage.DeviceCode, err error) {
	startTime := time.Now()
	ctx, span := s.startStorageSpan(ctx, "get_device_code")
	defer func() { s.recordStorageOperation(ctx, span, "get_device_code", err, startTime) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	device, ok := s.deviceCodes[deviceCode]
	if !ok {
		return nil, storage.ErrDeviceCodeNotFound
	}
	d := *device
	return &d, nil
}

// GetDeviceCodeByUserCode returns a copy of the device code bound to userCode
func (s *Store) GetDeviceCodeByUserCode(ctx context.Context, userCode string) (_ *storage.DeviceCode, err error) {
	startTime := time.Now()
	ctx, span := s.startStorageSpan(ctx, "get_device_code_by_user_code")
	defer func() { s.recordStorageOperation(ctx, span, "get_device_code_by_user_code", err, startTime) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	deviceCode, ok := s.userCodes[userCode]
	if !ok {
		return nil, storage.ErrDeviceCodeNotFound
	}
	device, ok := s.deviceCodes[deviceCode]
	if !ok {
		return nil, storage.ErrDeviceCodeNotFound
	}
	d := *device
	return &d, nil
}

// ApproveDeviceCode binds userID to the pending device code
func (s *Store) ApproveDeviceCode(ctx context.Context, deviceCode *storage.DeviceCode, userID string) (err error) {
	startTime := time.Now()
	ctx, span := s.startStorageSpan(ctx, "approve_device_code")
	defer func() { s.recordStorageOperation(ctx, span, "approve_device_code", err, startTime) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	device, ok := s.deviceCodes[deviceCode.DeviceCode]
	if !ok {
		return storage.ErrDeviceCodeNotFound
	}
	if device.IsApproved() {
		return storage.ErrDeviceCodeApproved
	}
	device.UserID = userID
	return nil
}

// DeviceCodeUsed atomically deletes the device code. Only the first caller succeeds.
func (s *Store) DeviceCodeUsed(ctx context.Context, deviceCode *storage.DeviceCode) (err error) {
	startTime := time.Now()
	ctx, span := s.startStorageSpan(ctx, "device_code_used")
	defer func() { s.recordStorageOperation(ctx, span, "device_code_used", err, startTime) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	device, ok := s.deviceCodes[deviceCode.DeviceCode]
	if !ok {
		return storage.ErrDeviceCodeNotFound
	}
	delete(s.deviceCodes, device.DeviceCode)
	delete(s.userCodes, device.UserCode)
	s.updateCountsLocked()
	return nil
}

func cloneScopes(scopes []string) []string {
	if scopes == nil {
		return nil
	}
	return append([]string(nil), scopes...)
}
