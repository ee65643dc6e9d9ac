package server

import (
	"context"
	"errors"
	"net/url"

	"github.com/giantswarm/oauth-engine/internal/util"
	"github.com/giantswarm/oauth-engine/security"
	"github.com/giantswarm/oauth-engine/storage"
	"github.com/giantswarm/oauth-engine/tokengen"
)

// DeviceAuthorization is the device authorization response (RFC 8628 §3.2)
type DeviceAuthorization struct {
	DeviceCode              string
	UserCode                string
	VerificationURI         string
	VerificationURIComplete string
	ExpiresIn               int64
	Interval                int64
}

// AuthorizeDevice starts a device flow for a client registered for the
// device_code grant. Every failure is returned as a *Error.
func (s *Server) AuthorizeDevice(ctx context.Context, clientID, clientSecret string, scopes []string, clientIP string) (*DeviceAuthorization, error) {
	if clientID == "" {
		return nil, ErrInvalidRequest("client_id is required")
	}

	client, err := s.AuthenticateClient(ctx, clientID, clientSecret, storage.GrantTypeDeviceCode, false)
	if err != nil {
		return nil, s.clientAuthFailure(&TokenRequest{ClientID: clientID, ClientIP: clientIP}, err)
	}

	if err := s.validateScopes(client, scopes); err != nil {
		return nil, scopeError(err)
	}

	device, err := s.codes.GenerateDeviceCode(ctx, client.ClientID, scopes, s.Config.DeviceCodeLifetime)
	if err != nil {
		s.Logger.Error("Failed to generate device code", "error", err)
		return nil, ErrServerError("internal server error")
	}

	s.Instrumentation.Metrics().RecordDeviceAuthorization(ctx)
	s.Logger.Info("Device authorization started",
		"client_id", client.ClientID,
		"user_code", device.UserCode)

	resp := &DeviceAuthorization{
		DeviceCode:      device.DeviceCode,
		UserCode:        device.UserCode,
		VerificationURI: s.Config.DeviceVerificationURI,
		ExpiresIn:       int64(s.Config.DeviceCodeLifetime.Seconds()),
		Interval:        int64(s.Config.DevicePollInterval.Seconds()),
	}
	if s.Config.DeviceVerificationURI != "" {
		resp.VerificationURIComplete = verificationURIComplete(s.Config.DeviceVerificationURI, device.UserCode)
	}
	return resp, nil
}

// LookupDeviceCode resolves a user-entered code to its pending device authorization
func (s *Server) LookupDeviceCode(ctx context.Context, userCode string) (*storage.DeviceCode, error) {
	device, err := s.codes.GetDeviceCodeByUserCode(ctx, tokengen.NormalizeUserCode(userCode))
	if err != nil {
		if errors.Is(err, storage.ErrDeviceCodeNotFound) {
			return nil, ErrInvalidRequest("unknown user code")
		}
		s.Logger.Error("Failed to get device code", "error", err)
		return nil, ErrServerError("internal server error")
	}
	if device.IsExpired(s.Config.Now()) {
		return nil, ErrExpiredToken("user code expired")
	}
	if device.IsApproved() {
		return nil, ErrInvalidRequest("user code already used")
	}
	return device, nil
}

// VerifyDevice records the user's decision for a pending device authorization.
// Approval binds userID to the device code; denial discards it so that the
// device's next poll fails.
func (s *Server) VerifyDevice(ctx context.Context, userCode, userID string, approved bool, clientIP string) error {
	device, err := s.LookupDeviceCode(ctx, userCode)
	if err != nil {
		return err
	}

	if !approved {
		if err := s.codes.DeviceCodeUsed(ctx, device); err != nil && !errors.Is(err, storage.ErrDeviceCodeNotFound) {
			s.Logger.Error("Failed to discard device code", "error", err)
			return ErrServerError("internal server error")
		}
		s.Auditor.LogEvent(security.Event{
			Type:      security.EventAuthorizationDenied,
			UserID:    userID,
			ClientID:  device.ClientID,
			IPAddress: clientIP,
		})
		return nil
	}

	if err := s.codes.ApproveDeviceCode(ctx, device, userID); err != nil {
		switch {
		case errors.Is(err, storage.ErrDeviceCodeNotFound):
			return ErrInvalidRequest("unknown user code")
		case errors.Is(err, storage.ErrDeviceCodeApproved):
			return ErrInvalidRequest("user code already used")
		}
		s.Logger.Error("Failed to approve device code", "error", err)
		return ErrServerError("internal server error")
	}

	s.Auditor.LogEvent(security.Event{
		Type:      security.EventDeviceCodeApproved,
		UserID:    userID,
		ClientID:  device.ClientID,
		IPAddress: clientIP,
		Details:   map[string]any{"scope": util.JoinScopes(device.Scopes)},
	})
	return nil
}

func verificationURIComplete(verificationURI, userCode string) string {
	u, err := url.Parse(verificationURI)
	if err != nil {
		return ""
	}
	query := u.Query()
	query.Set("user_code", userCode)
	u.RawQuery = query.Encode()
	return u.String()
}
