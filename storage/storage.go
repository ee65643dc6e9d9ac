package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by storage implementations. Lookups of absent
// records must return the matching Err*NotFound so the engine can tell
// "absent" apart from a backend failure.
var (
	ErrClientNotFound         = errors.New("client not found")
	ErrCodeNotFound           = errors.New("authorization code not found")
	ErrDeviceCodeNotFound     = errors.New("device code not found")
	ErrTokenNotFound          = errors.New("token not found")
	ErrUserNotFound           = errors.New("user not found")
	ErrInvalidCredentials     = errors.New("invalid user credentials")
	ErrResourceServerNotFound = errors.New("resource server not found")
	ErrSessionValueNotFound   = errors.New("session value not found")
	ErrReadOnly               = errors.New("storage is read-only")

	// ErrDeviceCodeApproved is returned by ApproveDeviceCode when another
	// user already approved the device code
	ErrDeviceCodeApproved = errors.New("device code already approved")
)

// ClientRetriever resolves registered OAuth clients.
type ClientRetriever interface {
	// GetClient returns the client or ErrClientNotFound
	GetClient(ctx context.Context, clientID string) (*Client, error)
}

// CodeManager issues, resolves and consumes authorization and device codes.
// All methods accept context.Context for tracing and cancellation.
//
// CodeUsed and DeviceCodeUsed MUST be atomic compare-and-delete operations:
// when two callers consume the same code concurrently exactly one of them
// gets a nil error, the other gets ErrCodeNotFound / ErrDeviceCodeNotFound.
// Once consumed, GetCode / GetDeviceCode must report the code as absent.
type CodeManager interface {
	// GenerateCode stores a new authorization code and returns its string
	GenerateCode(ctx context.Context, userID, clientID, redirectURI string, scopes []string, pkce *PKCE, nonce string) (string, error)

	// GetCode returns the code or ErrCodeNotFound
	GetCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// CodeUsed consumes the code
	CodeUsed(ctx context.Context, code *AuthorizationCode) error

	// GenerateDeviceCode stores a new pending device authorization
	GenerateDeviceCode(ctx context.Context, clientID string, scopes []string, lifetime time.Duration) (*DeviceCode, error)

	// GetDeviceCode returns the device code or ErrDeviceCodeNotFound
	GetDeviceCode(ctx context.Context, deviceCode string) (*DeviceCode, error)

	// GetDeviceCodeByUserCode returns the device code bound to a user code or ErrDeviceCodeNotFound
	GetDeviceCodeByUserCode(ctx context.Context, userCode string) (*DeviceCode, error)

	// ApproveDeviceCode binds the approving user to the device code. It is
	// an atomic compare-and-set: a device code that already carries a user
	// is left unchanged and ErrDeviceCodeApproved is returned.
	ApproveDeviceCode(ctx context.Context, deviceCode *DeviceCode, userID string) error

	// DeviceCodeUsed consumes the device code (also used to discard a denied request)
	DeviceCodeUsed(ctx context.Context, deviceCode *DeviceCode) error
}

// TokenManager issues and resolves access and refresh tokens.
type TokenManager interface {
	// GenerateAccessToken issues an access token only
	GenerateAccessToken(ctx context.Context, clientID, userID string, scopes []string, lifetime time.Duration) (*AccessToken, error)

	// GenerateAccessRefreshTokens issues an access token and a refresh token
	GenerateAccessRefreshTokens(ctx context.Context, clientID, userID string, scopes []string, accessLifetime time.Duration) (*AccessToken, *RefreshToken, error)

	// GetAccessToken returns the access token or ErrTokenNotFound
	GetAccessToken(ctx context.Context, token string) (*AccessToken, error)

	// GetRefreshToken returns the refresh token or ErrTokenNotFound
	GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error)

	// UpdateRefreshToken replaces the stored scopes of a refresh token
	UpdateRefreshToken(ctx context.Context, token *RefreshToken, scopes []string) error
}

// TokenRevoker is implemented by TokenManagers able to withdraw issued tokens.
// This is optional: the engine uses it to discard tokens minted for a code
// that another request consumed first.
type TokenRevoker interface {
	RevokeAccessToken(ctx context.Context, token string) error
	RevokeRefreshToken(ctx context.Context, token string) error
}

// UserManager authenticates end users and resolves user records.
type UserManager interface {
	// AuthenticateUser returns the user ID or ErrInvalidCredentials
	AuthenticateUser(ctx context.Context, username, password string) (string, error)

	// GetUser returns the user or ErrUserNotFound
	GetUser(ctx context.Context, userID string) (*User, error)
}

// ResourceServerRetriever resolves resource servers allowed to introspect tokens.
type ResourceServerRetriever interface {
	// GetServer returns the resource server or ErrResourceServerNotFound
	GetServer(ctx context.Context, username string) (*ResourceServer, error)
}

// SessionStore keeps string values keyed by session identifier.
// A Set followed by a Get for the same session and key must observe the
// written value; concurrent writers resolve as last-write-wins.
type SessionStore interface {
	// Get returns the value or ErrSessionValueNotFound
	Get(ctx context.Context, sessionID, key string) (string, error)

	// Set stores the value
	Set(ctx context.Context, sessionID, key, value string) error
}

// IsNotFound reports whether err is one of the "absent record" sentinels
func IsNotFound(err error) bool {
	return errors.Is(err, ErrClientNotFound) ||
		errors.Is(err, ErrCodeNotFound) ||
		errors.Is(err, ErrDeviceCodeNotFound) ||
		errors.Is(err, ErrTokenNotFound) ||
		errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrResourceServerNotFound) ||
		errors.Is(err, ErrSessionValueNotFound)
}
