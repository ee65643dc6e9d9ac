package storage

import "time"

// GrantType identifies an OAuth 2.0 grant. The values are the literal
// grant_type parameters accepted at the token endpoint, except for
// GrantTypeImplicit which is only ever reached through response_type=token.
type GrantType string

const (
	GrantTypeAuthorizationCode GrantType = "authorization_code"
	GrantTypeImplicit          GrantType = "implicit"
	GrantTypePassword          GrantType = "password"
	GrantTypeClientCredentials GrantType = "client_credentials"
	GrantTypeRefreshToken      GrantType = "refresh_token"
	GrantTypeDeviceCode        GrantType = "urn:ietf:params:oauth:grant-type:device_code"
)

// PKCE methods (RFC 7636)
const (
	PKCEMethodS256  = "S256"
	PKCEMethodPlain = "plain"
)

// Client represents a registered OAuth client. Clients are managed by the host
// and are read-only to the engine.
type Client struct {
	// ClientID is the unique client identifier
	ClientID string `json:"client_id" yaml:"client_id"`

	// ClientSecret is the shared secret. Empty means the client has no secret,
	// which only matches a request that also presents none.
	ClientSecret string `json:"client_secret,omitempty" yaml:"client_secret,omitempty"`

	// RedirectURIs is the set of registered redirect URIs, compared by exact match
	RedirectURIs []string `json:"redirect_uris" yaml:"redirect_uris"`

	// ValidScopes restricts the scopes this client may request.
	// A nil list inherits the provider-wide list; a non-nil empty list allows none.
	ValidScopes []string `json:"valid_scopes" yaml:"valid_scopes"`

	// Confidential is true for clients able to keep their secret confidential
	Confidential bool `json:"confidential" yaml:"confidential"`

	// FirstParty marks clients operated by the server owner (required for the password grant)
	FirstParty bool `json:"first_party" yaml:"first_party"`

	// AllowedGrantType is the single grant this client may use
	AllowedGrantType GrantType `json:"allowed_grant_type" yaml:"allowed_grant_type"`
}

// PKCE carries a proof key challenge bound to an authorization code.
type PKCE struct {
	Challenge string `json:"code_challenge"`
	Method    string `json:"code_challenge_method,omitempty"`
}

// AuthorizationCode is a single-use code issued on user approval.
type AuthorizationCode struct {
	Code                string    `json:"code"`
	ClientID            string    `json:"client_id"`
	RedirectURI         string    `json:"redirect_uri"`
	UserID              string    `json:"user_id"`
	ExpiresAt           time.Time `json:"expires_at"`
	Scopes              []string  `json:"scopes,omitempty"`
	CodeChallenge       string    `json:"code_challenge,omitempty"`
	CodeChallengeMethod string    `json:"code_challenge_method,omitempty"`
	Nonce               string    `json:"nonce,omitempty"`
}

// DeviceCode is a pending device authorization (RFC 8628). It is approved once
// a user has entered the UserCode and bound their UserID to it.
type DeviceCode struct {
	DeviceCode string    `json:"device_code"`
	UserCode   string    `json:"user_code"`
	ClientID   string    `json:"client_id"`
	UserID     string    `json:"user_id,omitempty"`
	ExpiresAt  time.Time `json:"expires_at"`
	Scopes     []string  `json:"scopes,omitempty"`
}

// IsExpired reports whether the device code has expired at the given instant.
func (d *DeviceCode) IsExpired(now time.Time) bool {
	return !now.Before(d.ExpiresAt)
}

// IsApproved reports whether a user has approved the device code.
func (d *DeviceCode) IsApproved() bool {
	return d.UserID != ""
}

// AccessToken is an issued bearer token. It is immutable once issued.
type AccessToken struct {
	Token     string    `json:"token"`
	ClientID  string    `json:"client_id"`
	UserID    string    `json:"user_id,omitempty"`
	Scopes    []string  `json:"scopes,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired reports whether the token has expired at the given instant.
func (t *AccessToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// RefreshToken is an issued refresh token. Its scopes can only ever be narrowed.
type RefreshToken struct {
	Token    string   `json:"token"`
	ClientID string   `json:"client_id"`
	UserID   string   `json:"user_id,omitempty"`
	Scopes   []string `json:"scopes,omitempty"`
}

// User is an end-user account known to the UserManager.
type User struct {
	ID           string `json:"id" yaml:"id"`
	Username     string `json:"username" yaml:"username"`
	EmailAddress string `json:"email_address,omitempty" yaml:"email_address,omitempty"`

	// PasswordHash is the bcrypt hash of the user's password. Never serialized to clients.
	PasswordHash string `json:"-" yaml:"password_hash"`
}

// ResourceServer holds the Basic-auth credentials a resource server uses to
// call the introspection endpoint. Unrelated to end-user accounts.
type ResourceServer struct {
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
}
