package oauth

import (
	"github.com/giantswarm/oauth-engine/server"
)

// OAuth error codes as constants
const (
	ErrorCodeInvalidRequest       = server.ErrorCodeInvalidRequest
	ErrorCodeInvalidGrant         = server.ErrorCodeInvalidGrant
	ErrorCodeInvalidClient        = server.ErrorCodeInvalidClient
	ErrorCodeInvalidScope         = server.ErrorCodeInvalidScope
	ErrorCodeInvalidToken         = server.ErrorCodeInvalidToken
	ErrorCodeUnauthorizedClient   = server.ErrorCodeUnauthorizedClient
	ErrorCodeUnsupportedGrantType = server.ErrorCodeUnsupportedGrantType
	ErrorCodeMissingToken         = server.ErrorCodeMissingToken
	ErrorCodeExpiredToken         = server.ErrorCodeExpiredToken
	ErrorCodeAccessDenied         = server.ErrorCodeAccessDenied
	ErrorCodeInsufficientScope    = server.ErrorCodeInsufficientScope
	ErrorCodeServerError          = server.ErrorCodeServerError
	ErrorCodeRateLimitExceeded    = server.ErrorCodeRateLimitExceeded
)

// OAuthError represents an OAuth 2.0 error response.
// It is the engine's wire error, so values returned by the Server can be
// written as they are.
type OAuthError = server.Error

// NewOAuthError creates a new OAuth error
func NewOAuthError(code, description string, status int) *OAuthError {
	return server.NewError(code, description, status)
}

// Common OAuth errors
var (
	// ErrInvalidRequest indicates the request is malformed or missing required parameters
	ErrInvalidRequest = server.ErrInvalidRequest

	// ErrInvalidGrant indicates the code, device code or refresh token is invalid
	ErrInvalidGrant = server.ErrInvalidGrant

	// ErrInvalidClient indicates client authentication failed
	ErrInvalidClient = server.ErrInvalidClient

	// ErrInvalidScope indicates the requested scope is invalid or unsupported
	ErrInvalidScope = server.ErrInvalidScope

	// ErrInvalidToken indicates the access token is unknown or expired
	ErrInvalidToken = server.ErrInvalidToken

	// ErrUnauthorizedClient indicates the client may not use the requested grant
	ErrUnauthorizedClient = server.ErrUnauthorizedClient

	// ErrUnsupportedGrantType indicates the grant type is not supported
	ErrUnsupportedGrantType = server.ErrUnsupportedGrantType

	// ErrMissingToken indicates the introspection request carried no token
	ErrMissingToken = server.ErrMissingToken

	// ErrServerError indicates an internal server error occurred
	ErrServerError = server.ErrServerError
)
