package server

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/giantswarm/oauth-engine/instrumentation"
	"github.com/giantswarm/oauth-engine/internal/util"
	"github.com/giantswarm/oauth-engine/security"
	"github.com/giantswarm/oauth-engine/storage"
)

// grantTypeDeviceCodeAlias is the short grant_type accepted for the device flow
const grantTypeDeviceCodeAlias = "device_code"

// TokenRequest holds the token endpoint parameters. Fields not used by the
// requested grant are ignored.
type TokenRequest struct {
	GrantType    string
	ClientID     string
	ClientSecret string

	// authorization_code
	Code         string
	RedirectURI  string
	CodeVerifier string

	// password
	Username string
	Password string

	// refresh_token
	RefreshToken string

	// device_code
	DeviceCode string

	// Scopes holds the optional requested scopes
	Scopes []string

	// ClientIP is recorded in audit events only
	ClientIP string
}

// TokenSet is the outcome of a successful grant
type TokenSet struct {
	AccessToken  string
	RefreshToken string // empty when no refresh token was issued
	ExpiresIn    int64  // access token lifetime in seconds
	Scopes       []string
}

// Token dispatches a token request to the handler of its grant type.
// Every failure is returned as a *Error.
func (s *Server) Token(ctx context.Context, req *TokenRequest) (*TokenSet, error) {
	ctx, span := s.tracer.Start(ctx, "server.Token")
	defer span.End()
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrGrantType, req.GrantType))
	instrumentation.AddOAuthFlowAttributes(span, req.ClientID, "", util.JoinScopes(req.Scopes))

	var (
		set *TokenSet
		err error
	)
	switch storage.GrantType(req.GrantType) {
	case storage.GrantTypeAuthorizationCode:
		set, err = s.ExchangeAuthorizationCode(ctx, req)
	case storage.GrantTypePassword:
		set, err = s.PasswordGrant(ctx, req)
	case storage.GrantTypeClientCredentials:
		set, err = s.ClientCredentialsGrant(ctx, req)
	case storage.GrantTypeRefreshToken:
		set, err = s.RefreshTokenGrant(ctx, req)
	case storage.GrantTypeDeviceCode, grantTypeDeviceCodeAlias:
		set, err = s.DeviceCodeGrant(ctx, req)
	default:
		err = ErrUnsupportedGrantType("unsupported grant_type")
	}

	metrics := s.Instrumentation.Metrics()
	if err != nil {
		oauthErr := wireError(err)
		instrumentation.SetSpanError(span, oauthErr.Code)
		metrics.RecordGrantFailure(ctx, req.GrantType, oauthErr.Code)
		return nil, oauthErr
	}

	instrumentation.SetSpanSuccess(span)
	metrics.RecordTokenIssued(ctx, req.GrantType)
	return set, nil
}

// ExchangeAuthorizationCode implements the authorization_code grant.
// The code is consumed only after the token pair has been minted; if another
// request consumed it first, the freshly minted tokens are revoked.
func (s *Server) ExchangeAuthorizationCode(ctx context.Context, req *TokenRequest) (*TokenSet, error) {
	switch {
	case req.Code == "":
		return nil, ErrInvalidRequest("code is required")
	case req.RedirectURI == "":
		return nil, ErrInvalidRequest("redirect_uri is required")
	case req.ClientID == "":
		return nil, ErrInvalidRequest("client_id is required")
	}

	client, err := s.AuthenticateClient(ctx, req.ClientID, req.ClientSecret, storage.GrantTypeAuthorizationCode, false)
	if err != nil {
		return nil, s.clientAuthFailure(req, err)
	}

	code, err := s.codes.GetCode(ctx, req.Code)
	if err != nil {
		if errors.Is(err, storage.ErrCodeNotFound) {
			s.Logger.Debug("Authorization code not found",
				"client_id", client.ClientID,
				"code_prefix", util.SecretPrefix(req.Code))
			s.Auditor.LogAuthFailure("", client.ClientID, req.ClientIP, "invalid_authorization_code")
			return nil, ErrInvalidGrant("invalid authorization code")
		}
		s.Logger.Error("Failed to get authorization code", "error", err)
		return nil, ErrServerError("internal server error")
	}

	if err := s.ValidateCode(code, client.ClientID, req.RedirectURI, req.CodeVerifier); err != nil {
		s.Logger.Debug("Authorization code validation failed",
			"reason", err.Error(),
			"client_id", client.ClientID,
			"code_prefix", util.SecretPrefix(req.Code))
		if isPKCEError(err) {
			s.Instrumentation.Metrics().RecordPKCEValidationFailed(ctx, code.CodeChallengeMethod)
			s.Auditor.LogEvent(security.Event{
				Type:      security.EventInvalidPKCE,
				UserID:    code.UserID,
				ClientID:  client.ClientID,
				IPAddress: req.ClientIP,
				Details:   map[string]any{"reason": err.Error()},
			})
		} else {
			s.Auditor.LogAuthFailure(code.UserID, client.ClientID, req.ClientIP, err.Error())
		}
		return nil, ErrInvalidGrant("invalid authorization code")
	}

	access, refresh, err := s.tokens.GenerateAccessRefreshTokens(ctx, client.ClientID, code.UserID, code.Scopes, s.Config.AccessTokenLifetime)
	if err != nil {
		s.Logger.Error("Failed to generate tokens", "error", err)
		return nil, ErrServerError("internal server error")
	}

	if err := s.codes.CodeUsed(ctx, code); err != nil {
		s.revokeIssued(ctx, access.Token, refresh.Token)
		if errors.Is(err, storage.ErrCodeNotFound) {
			s.Logger.Warn("Authorization code consumed concurrently",
				"client_id", client.ClientID,
				"code_prefix", util.SecretPrefix(req.Code))
			s.Instrumentation.Metrics().RecordCodeReuseDetected(ctx)
			s.Auditor.LogEvent(security.Event{
				Type:      security.EventAuthorizationCodeReuseDetected,
				UserID:    code.UserID,
				ClientID:  client.ClientID,
				IPAddress: req.ClientIP,
			})
			return nil, ErrInvalidGrant("invalid authorization code")
		}
		s.Logger.Error("Failed to consume authorization code", "error", err)
		return nil, ErrServerError("internal server error")
	}

	s.Logger.Info("Token exchange successful",
		"grant_type", req.GrantType,
		"client_id", client.ClientID)
	s.Auditor.LogTokenIssued(code.UserID, client.ClientID, req.ClientIP, string(storage.GrantTypeAuthorizationCode), util.JoinScopes(access.Scopes))

	return s.tokenSet(access, refresh), nil
}

// PasswordGrant implements the resource owner password credentials grant.
// It is reserved to first-party clients.
func (s *Server) PasswordGrant(ctx context.Context, req *TokenRequest) (*TokenSet, error) {
	switch {
	case req.Username == "":
		return nil, ErrInvalidRequest("username is required")
	case req.Password == "":
		return nil, ErrInvalidRequest("password is required")
	case req.ClientID == "":
		return nil, ErrInvalidRequest("client_id is required")
	}

	client, err := s.AuthenticateClient(ctx, req.ClientID, req.ClientSecret, storage.GrantTypePassword, false)
	if err != nil {
		return nil, s.clientAuthFailure(req, err)
	}

	if err := s.validateScopes(client, req.Scopes); err != nil {
		return nil, scopeError(err)
	}

	if s.users == nil {
		return nil, ErrUnsupportedGrantType("password grant is not enabled")
	}

	userID, err := s.users.AuthenticateUser(ctx, req.Username, req.Password)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidCredentials) || errors.Is(err, storage.ErrUserNotFound) {
			s.Logger.Warn(security.LoginWarningMessage(req.Username),
				"client_id", client.ClientID)
			s.Auditor.LogLoginWarning(req.Username, client.ClientID, req.ClientIP)
			return nil, ErrInvalidGrant("invalid user credentials")
		}
		s.Logger.Error("Failed to authenticate user", "error", err)
		return nil, ErrServerError("internal server error")
	}

	access, refresh, err := s.tokens.GenerateAccessRefreshTokens(ctx, client.ClientID, userID, req.Scopes, s.Config.AccessTokenLifetime)
	if err != nil {
		s.Logger.Error("Failed to generate tokens", "error", err)
		return nil, ErrServerError("internal server error")
	}

	s.Auditor.LogTokenIssued(userID, client.ClientID, req.ClientIP, string(storage.GrantTypePassword), util.JoinScopes(access.Scopes))
	return s.tokenSet(access, refresh), nil
}

// ClientCredentialsGrant implements the client_credentials grant.
// Tokens carry no user.
func (s *Server) ClientCredentialsGrant(ctx context.Context, req *TokenRequest) (*TokenSet, error) {
	switch {
	case req.ClientID == "":
		return nil, ErrInvalidRequest("client_id is required")
	case req.ClientSecret == "":
		return nil, ErrInvalidRequest("client_secret is required")
	}

	client, err := s.AuthenticateClient(ctx, req.ClientID, req.ClientSecret, storage.GrantTypeClientCredentials, true)
	if err != nil {
		return nil, s.clientAuthFailure(req, err)
	}

	if err := s.validateScopes(client, req.Scopes); err != nil {
		return nil, scopeError(err)
	}

	access, refresh, err := s.tokens.GenerateAccessRefreshTokens(ctx, client.ClientID, "", req.Scopes, s.Config.AccessTokenLifetime)
	if err != nil {
		s.Logger.Error("Failed to generate tokens", "error", err)
		return nil, ErrServerError("internal server error")
	}

	s.Auditor.LogTokenIssued("", client.ClientID, req.ClientIP, string(storage.GrantTypeClientCredentials), util.JoinScopes(access.Scopes))
	return s.tokenSet(access, refresh), nil
}

// RefreshTokenGrant implements the refresh_token grant. Requested scopes may
// only narrow the refresh token's stored scopes; the narrowed set is written
// back to the refresh token. Only a new access token is issued.
func (s *Server) RefreshTokenGrant(ctx context.Context, req *TokenRequest) (*TokenSet, error) {
	switch {
	case req.ClientID == "":
		return nil, ErrInvalidRequest("client_id is required")
	case req.ClientSecret == "":
		return nil, ErrInvalidRequest("client_secret is required")
	case req.RefreshToken == "":
		return nil, ErrInvalidRequest("refresh_token is required")
	}

	client, err := s.AuthenticateClient(ctx, req.ClientID, req.ClientSecret, "", true)
	if err != nil {
		return nil, s.clientAuthFailure(req, err)
	}

	refresh, err := s.tokens.GetRefreshToken(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return nil, ErrInvalidGrant("invalid refresh token")
		}
		s.Logger.Error("Failed to get refresh token", "error", err)
		return nil, ErrServerError("internal server error")
	}

	if err := s.ValidateRefreshToken(refresh, client.ClientID); err != nil {
		s.Auditor.LogAuthFailure(refresh.UserID, client.ClientID, req.ClientIP, "refresh_token_client_mismatch")
		return nil, ErrInvalidGrant("invalid refresh token")
	}

	scopes := refresh.Scopes
	narrowed := len(req.Scopes) > 0
	if narrowed {
		if err := s.validateScopes(client, req.Scopes); err != nil {
			return nil, scopeError(err)
		}
		if !util.ContainsAll(refresh.Scopes, req.Scopes) {
			return nil, scopeError(ErrScopeElevated)
		}
		scopes = req.Scopes
	}

	access, err := s.tokens.GenerateAccessToken(ctx, client.ClientID, refresh.UserID, scopes, s.Config.AccessTokenLifetime)
	if err != nil {
		s.Logger.Error("Failed to generate access token", "error", err)
		return nil, ErrServerError("internal server error")
	}

	if narrowed {
		if err := s.tokens.UpdateRefreshToken(ctx, refresh, scopes); err != nil {
			s.revokeIssued(ctx, access.Token, "")
			s.Logger.Error("Failed to update refresh token", "error", err)
			return nil, ErrServerError("internal server error")
		}
	}

	s.Auditor.LogTokenRefreshed(refresh.UserID, client.ClientID, req.ClientIP, narrowed)
	return s.tokenSet(access, nil), nil
}

// DeviceCodeGrant implements the device_code grant (RFC 8628 §3.4).
// Polling before approval answers authorization_pending.
func (s *Server) DeviceCodeGrant(ctx context.Context, req *TokenRequest) (*TokenSet, error) {
	switch {
	case req.DeviceCode == "":
		return nil, ErrInvalidRequest("device_code is required")
	case req.ClientID == "":
		return nil, ErrInvalidRequest("client_id is required")
	}

	client, err := s.AuthenticateClient(ctx, req.ClientID, req.ClientSecret, storage.GrantTypeDeviceCode, false)
	if err != nil {
		return nil, s.clientAuthFailure(req, err)
	}

	device, err := s.codes.GetDeviceCode(ctx, req.DeviceCode)
	if err != nil {
		if errors.Is(err, storage.ErrDeviceCodeNotFound) {
			return nil, ErrInvalidGrant("invalid device code")
		}
		s.Logger.Error("Failed to get device code", "error", err)
		return nil, ErrServerError("internal server error")
	}

	if device.ClientID != client.ClientID {
		return nil, ErrInvalidGrant("invalid device code")
	}
	if device.IsExpired(s.Config.Now()) {
		return nil, ErrExpiredToken("device code expired")
	}
	if !device.IsApproved() {
		return nil, ErrAuthorizationPending("authorization pending")
	}

	access, refresh, err := s.tokens.GenerateAccessRefreshTokens(ctx, client.ClientID, device.UserID, device.Scopes, s.Config.AccessTokenLifetime)
	if err != nil {
		s.Logger.Error("Failed to generate tokens", "error", err)
		return nil, ErrServerError("internal server error")
	}

	if err := s.codes.DeviceCodeUsed(ctx, device); err != nil {
		s.revokeIssued(ctx, access.Token, refresh.Token)
		if errors.Is(err, storage.ErrDeviceCodeNotFound) {
			return nil, ErrInvalidGrant("invalid device code")
		}
		s.Logger.Error("Failed to consume device code", "error", err)
		return nil, ErrServerError("internal server error")
	}

	s.Auditor.LogTokenIssued(device.UserID, client.ClientID, req.ClientIP, string(storage.GrantTypeDeviceCode), util.JoinScopes(access.Scopes))
	return s.tokenSet(access, refresh), nil
}

func (s *Server) clientAuthFailure(req *TokenRequest, err error) *Error {
	oauthErr := clientAuthError(err)
	if oauthErr.Code == ErrorCodeServerError {
		s.Logger.Error("Failed to authenticate client", "error", err)
	} else {
		s.Auditor.LogAuthFailure("", req.ClientID, req.ClientIP, err.Error())
	}
	return oauthErr
}

func (s *Server) tokenSet(access *storage.AccessToken, refresh *storage.RefreshToken) *TokenSet {
	set := &TokenSet{
		AccessToken: access.Token,
		ExpiresIn:   int64(s.Config.AccessTokenLifetime / time.Second),
		Scopes:      access.Scopes,
	}
	if refresh != nil {
		set.RefreshToken = refresh.Token
	}
	return set
}

// revokeIssued withdraws tokens minted for a grant that could not complete.
// Empty token strings are skipped.
func (s *Server) revokeIssued(ctx context.Context, accessToken, refreshToken string) {
	revoker, ok := s.tokens.(storage.TokenRevoker)
	if !ok {
		s.Logger.Warn("Token manager cannot revoke tokens, orphaned tokens stay valid until expiry")
		return
	}
	if accessToken != "" {
		if err := revoker.RevokeAccessToken(ctx, accessToken); err != nil {
			s.Logger.Error("Failed to revoke orphaned access token", "error", err)
		}
	}
	if refreshToken != "" {
		if err := revoker.RevokeRefreshToken(ctx, refreshToken); err != nil {
			s.Logger.Error("Failed to revoke orphaned refresh token", "error", err)
		}
	}
}

func isPKCEError(err error) bool {
	return errors.Is(err, ErrPKCEMismatch) ||
		errors.Is(err, ErrPKCEVerifierMissing) ||
		errors.Is(err, ErrPKCEMethodUnsupported)
}
