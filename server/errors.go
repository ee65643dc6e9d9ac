package server

import (
	"errors"
	"fmt"
	"net/http"
)

// OAuth error codes
const (
	ErrorCodeInvalidRequest       = "invalid_request"
	ErrorCodeInvalidScope         = "invalid_scope"
	ErrorCodeInvalidClient        = "invalid_client"
	ErrorCodeUnauthorizedClient   = "unauthorized_client"
	ErrorCodeUnsupportedGrantType = "unsupported_grant_type"
	ErrorCodeInvalidGrant         = "invalid_grant"
	ErrorCodeMissingToken         = "missing_token"
	ErrorCodeExpiredToken         = "expired_token"
	ErrorCodeAccessDenied         = "access_denied"
	ErrorCodeAuthorizationPending = "authorization_pending"
	ErrorCodeInvalidToken         = "invalid_token"
	ErrorCodeInsufficientScope    = "insufficient_scope"
	ErrorCodeServerError          = "server_error"
	ErrorCodeRateLimitExceeded    = "rate_limit_exceeded"
)

// Error is an OAuth 2.0 error as it is put on the wire
type Error struct {
	Code        string // OAuth error code (e.g., "invalid_request", "invalid_grant")
	Description string // Human-readable error description
	Status      int    // HTTP status code
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewError creates a new OAuth error
func NewError(code, description string, status int) *Error {
	return &Error{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// Constructors for the wire errors emitted by the engine
var (
	ErrInvalidRequest = func(desc string) *Error {
		return NewError(ErrorCodeInvalidRequest, desc, http.StatusBadRequest)
	}

	ErrInvalidScope = func(desc string) *Error {
		return NewError(ErrorCodeInvalidScope, desc, http.StatusBadRequest)
	}

	ErrInvalidClient = func(desc string) *Error {
		return NewError(ErrorCodeInvalidClient, desc, http.StatusUnauthorized)
	}

	ErrUnauthorizedClient = func(desc string) *Error {
		return NewError(ErrorCodeUnauthorizedClient, desc, http.StatusBadRequest)
	}

	ErrUnsupportedGrantType = func(desc string) *Error {
		return NewError(ErrorCodeUnsupportedGrantType, desc, http.StatusBadRequest)
	}

	ErrInvalidGrant = func(desc string) *Error {
		return NewError(ErrorCodeInvalidGrant, desc, http.StatusBadRequest)
	}

	ErrMissingToken = func(desc string) *Error {
		return NewError(ErrorCodeMissingToken, desc, http.StatusBadRequest)
	}

	ErrExpiredToken = func(desc string) *Error {
		return NewError(ErrorCodeExpiredToken, desc, http.StatusBadRequest)
	}

	ErrAuthorizationPending = func(desc string) *Error {
		return NewError(ErrorCodeAuthorizationPending, desc, http.StatusBadRequest)
	}

	ErrInvalidToken = func(desc string) *Error {
		return NewError(ErrorCodeInvalidToken, desc, http.StatusUnauthorized)
	}

	ErrInsufficientScope = func(desc string) *Error {
		return NewError(ErrorCodeInsufficientScope, desc, http.StatusForbidden)
	}

	ErrServerError = func(desc string) *Error {
		return NewError(ErrorCodeServerError, desc, http.StatusInternalServerError)
	}
)

// ClientErrorKind enumerates client authentication failures
type ClientErrorKind int

const (
	ClientUnauthorized ClientErrorKind = iota
	ClientNotFirstParty
	ClientNotConfidential
)

func (k ClientErrorKind) String() string {
	switch k {
	case ClientUnauthorized:
		return "unauthorized"
	case ClientNotFirstParty:
		return "not first party"
	case ClientNotConfidential:
		return "not confidential"
	default:
		return "unknown"
	}
}

// ClientError is returned by AuthenticateClient
type ClientError struct {
	Kind     ClientErrorKind
	ClientID string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("client %q: %s", e.ClientID, e.Kind)
}

// Is matches any *ClientError of the same kind
func (e *ClientError) Is(target error) bool {
	t, ok := target.(*ClientError)
	return ok && t.Kind == e.Kind
}

// ScopeErrorKind enumerates scope validation failures
type ScopeErrorKind int

const (
	// ScopeUnknown means the scope is not in the provider-wide allow-list
	ScopeUnknown ScopeErrorKind = iota
	// ScopeInvalid means the scope is not in the client's allow-list
	ScopeInvalid
	// ScopeElevated means a refresh request asked for scopes the refresh token never had
	ScopeElevated
)

func (k ScopeErrorKind) String() string {
	switch k {
	case ScopeUnknown:
		return "unknown scope"
	case ScopeInvalid:
		return "invalid scope"
	case ScopeElevated:
		return "elevated scopes"
	default:
		return "unknown"
	}
}

// ScopeError is returned by the scope validator
type ScopeError struct {
	Kind  ScopeErrorKind
	Scope string
}

func (e *ScopeError) Error() string {
	if e.Scope == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Scope)
}

// Is matches any *ScopeError of the same kind
func (e *ScopeError) Is(target error) bool {
	t, ok := target.(*ScopeError)
	return ok && t.Kind == e.Kind
}

// AuthorizationErrorKind enumerates authorization request failures
type AuthorizationErrorKind int

const (
	InvalidClientID AuthorizationErrorKind = iota
	InvalidRedirectURI
	ConfidentialClientTokenGrant
	HTTPRedirectURI
	InvalidCodeChallengeMethod
)

func (k AuthorizationErrorKind) String() string {
	switch k {
	case InvalidClientID:
		return "invalid client_id"
	case InvalidRedirectURI:
		return "invalid redirect_uri"
	case ConfidentialClientTokenGrant:
		return "confidential client cannot use the token response type"
	case HTTPRedirectURI:
		return "redirect_uri must use https"
	case InvalidCodeChallengeMethod:
		return "unsupported code_challenge_method"
	default:
		return "unknown"
	}
}

// AuthorizationError is returned by ValidateClient
type AuthorizationError struct {
	Kind AuthorizationErrorKind
}

func (e *AuthorizationError) Error() string {
	return e.Kind.String()
}

// Is matches any *AuthorizationError of the same kind
func (e *AuthorizationError) Is(target error) bool {
	t, ok := target.(*AuthorizationError)
	return ok && t.Kind == e.Kind
}

// Validator sentinels
var (
	ErrClientUnauthorized    = &ClientError{Kind: ClientUnauthorized}
	ErrClientNotFirstParty   = &ClientError{Kind: ClientNotFirstParty}
	ErrClientNotConfidential = &ClientError{Kind: ClientNotConfidential}

	ErrScopeUnknown  = &ScopeError{Kind: ScopeUnknown}
	ErrScopeInvalid  = &ScopeError{Kind: ScopeInvalid}
	ErrScopeElevated = &ScopeError{Kind: ScopeElevated}

	ErrInvalidClientID              = &AuthorizationError{Kind: InvalidClientID}
	ErrInvalidRedirectURI           = &AuthorizationError{Kind: InvalidRedirectURI}
	ErrConfidentialClientTokenGrant = &AuthorizationError{Kind: ConfidentialClientTokenGrant}
	ErrHTTPRedirectURI              = &AuthorizationError{Kind: HTTPRedirectURI}
	ErrInvalidCodeChallengeMethod   = &AuthorizationError{Kind: InvalidCodeChallengeMethod}

	// ErrForbidden means the client is not allowed to use the requested grant
	ErrForbidden = errors.New("grant type not allowed for client")

	ErrCodeClientMismatch   = errors.New("authorization code was issued to another client")
	ErrCodeExpired          = errors.New("authorization code expired")
	ErrCodeRedirectMismatch = errors.New("redirect_uri does not match authorization code")

	ErrPKCEVerifierMissing   = errors.New("code_verifier is required")
	ErrPKCEMismatch          = errors.New("code_verifier does not match code_challenge")
	ErrPKCEMethodUnsupported = errors.New("unsupported code_challenge_method")

	ErrTokenClientMismatch = errors.New("token was issued to another client")
	ErrTokenInactive       = errors.New("token is not active")
	ErrInsufficientScopes  = errors.New("token lacks required scope")

	ErrCSRFMismatch               = errors.New("csrf token mismatch")
	ErrResourceServerUnauthorized = errors.New("resource server authentication failed")
)

// wireError returns err as a wire error, falling back to server_error
func wireError(err error) *Error {
	var oauthErr *Error
	if errors.As(err, &oauthErr) {
		return oauthErr
	}
	return ErrServerError("internal server error")
}
