package valkey

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/giantswarm/oauth-engine/storage"
	"github.com/giantswarm/oauth-engine/tokengen"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys
	DefaultKeyPrefix = "oauth:"

	// DefaultCodeLifetime is how long authorization codes are valid
	DefaultCodeLifetime = 60 * time.Second

	// DefaultSessionLifetime is how long an idle session keeps its values
	DefaultSessionLifetime = 24 * time.Hour

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second

	// userCodeAttempts bounds retries on user code collisions
	userCodeAttempts = 5

	// MaxTokenLength is the maximum allowed length for token strings.
	// Longer lookups are rejected as not found without a round trip.
	MaxTokenLength = 512

	// MaxIDLength is the maximum allowed length for identifiers (client IDs, usernames, session IDs)
	MaxIDLength = 256
)

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "oauth:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger

	// CodeLifetime is the lifetime of authorization codes (default 60s)
	CodeLifetime time.Duration

	// SessionLifetime is the idle lifetime of session values (default 24h)
	SessionLifetime time.Duration

	// TokenGenerator mints access token strings (default: opaque random tokens)
	TokenGenerator tokengen.Generator
}

// Store is a Valkey-backed implementation of all storage interfaces.
// Expiring records carry a TTL, so Valkey itself purges them.
type Store struct {
	client          valkeygo.Client
	prefix          string
	logger          *slog.Logger
	generator       tokengen.Generator
	codeLifetime    time.Duration
	sessionLifetime time.Duration
	now             func() time.Time
}

// Compile-time interface checks
var (
	_ storage.ClientRetriever         = (*Store)(nil)
	_ storage.CodeManager             = (*Store)(nil)
	_ storage.TokenManager            = (*Store)(nil)
	_ storage.TokenRevoker            = (*Store)(nil)
	_ storage.UserManager             = (*Store)(nil)
	_ storage.ResourceServerRetriever = (*Store)(nil)
	_ storage.SessionStore            = (*Store)(nil)
)

// New creates a new Valkey-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	codeLifetime := cfg.CodeLifetime
	if codeLifetime <= 0 {
		codeLifetime = DefaultCodeLifetime
	}
	sessionLifetime := cfg.SessionLifetime
	if sessionLifetime <= 0 {
		sessionLifetime = DefaultSessionLifetime
	}

	generator := cfg.TokenGenerator
	if generator == nil {
		generator = tokengen.Opaque{}
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client:          client,
		prefix:          prefix,
		logger:          logger,
		generator:       generator,
		codeLifetime:    codeLifetime,
		sessionLifetime: sessionLifetime,
		now:             time.Now,
	}, nil
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// ============================================================
// Key Helpers
// ============================================================

// clientKey returns the key for a client: {prefix}client:{clientID}
func (s *Store) clientKey(clientID string) string {
	return fmt.Sprintf("%sclient:%s", s.prefix, clientID)
}

// userKey returns the key for a user: {prefix}user:{userID}
func (s *Store) userKey(userID string) string {
	return fmt.Sprintf("%suser:%s", s.prefix, userID)
}

// usernameKey returns the lookup key for a lower-cased username: {prefix}username:{username}
func (s *Store) usernameKey(username string) string {
	return fmt.Sprintf("%susername:%s", s.prefix, username)
}

// resourceServerKey returns the key for a resource server: {prefix}rs:{username}
func (s *Store) resourceServerKey(username string) string {
	return fmt.Sprintf("%srs:%s", s.prefix, username)
}

// codeKey returns the key for an authorization code: {prefix}code:{code}
func (s *Store) codeKey(code string) string {
	return fmt.Sprintf("%scode:%s", s.prefix, code)
}

// deviceKey returns the key for a device code: {prefix}device:{deviceCode}
func (s *Store) deviceKey(deviceCode string) string {
	return fmt.Sprintf("%sdevice:%s", s.prefix, deviceCode)
}

// userCodeKey returns the lookup key for a user code: {prefix}usercode:{userCode}
func (s *Store) userCodeKey(userCode string) string {
	return fmt.Sprintf("%susercode:%s", s.prefix, userCode)
}

// accessTokenKey returns the key for an access token: {prefix}access:{token}
func (s *Store) accessTokenKey(token string) string {
	return fmt.Sprintf("%saccess:%s", s.prefix, token)
}

// refreshTokenKey returns the key for a refresh token: {prefix}refresh:{token}
func (s *Store) refreshTokenKey(token string) string {
	return fmt.Sprintf("%srefresh:%s", s.prefix, token)
}

// sessionKey returns the hash key holding a session's values: {prefix}session:{sessionID}
func (s *Store) sessionKey(sessionID string) string {
	return fmt.Sprintf("%ssession:%s", s.prefix, sessionID)
}

// ============================================================
// Lua Scripts for Atomic Operations
// ============================================================

// luaReserveDeviceCode stores a device code together with its user code
// lookup, unless the user code is already taken by a pending authorization.
//
// KEYS[1] = device code key
// KEYS[2] = user code key
// ARGV[1] = device code JSON
// ARGV[2] = device code string
// ARGV[3] = TTL in seconds
//
// Returns "OK" or "TAKEN".
const luaReserveDeviceCode = `
if redis.call('EXISTS', KEYS[2]) == 1 then
    return 'TAKEN'
end
redis.call('SET', KEYS[1], ARGV[1], 'EX', ARGV[3])
redis.call('SET', KEYS[2], ARGV[2], 'EX', ARGV[3])
return 'OK'
`

// luaApproveDeviceCode binds a user to a pending device code, keeping its TTL.
// A device code already bound to a user is left unchanged.
//
// KEYS[1] = device code key
// ARGV[1] = user ID
//
// Returns "OK", "NOT_FOUND" or "APPROVED".
const luaApproveDeviceCode = `
local data = redis.call('GET', KEYS[1])
if not data then
    return 'NOT_FOUND'
end
local device = cjson.decode(data)
if type(device.user_id) == 'string' and device.user_id ~= '' then
    return 'APPROVED'
end
device.user_id = ARGV[1]
redis.call('SET', KEYS[1], cjson.encode(device), 'KEEPTTL')
return 'OK'
`

// luaConsumeDeviceCode deletes a device code and its user code lookup.
// Only the first of several concurrent callers sees "OK".
//
// KEYS[1] = device code key
// KEYS[2] = user code key
//
// Returns "OK" or "NOT_FOUND".
const luaConsumeDeviceCode = `
if redis.call('DEL', KEYS[1]) == 0 then
    return 'NOT_FOUND'
end
redis.call('DEL', KEYS[2])
return 'OK'
`

// luaReplaceIfExists overwrites a key without TTL only if it still exists.
//
// KEYS[1] = key
// ARGV[1] = new value
//
// Returns "OK" or "NOT_FOUND".
const luaReplaceIfExists = `
if redis.call('EXISTS', KEYS[1]) == 0 then
    return 'NOT_FOUND'
end
redis.call('SET', KEYS[1], ARGV[1])
return 'OK'
`

// ============================================================
// JSON Records
// ============================================================

// Timestamps are stored as unix seconds so that Lua scripts can re-encode
// records without loss.

type codeRecord struct {
	Code                string   `json:"code"`
	ClientID            string   `json:"client_id"`
	RedirectURI         string   `json:"redirect_uri"`
	UserID              string   `json:"user_id"`
	ExpiresAt           int64    `json:"expires_at"`
	Scopes              []string `json:"scopes,omitempty"`
	CodeChallenge       string   `json:"code_challenge,omitempty"`
	CodeChallengeMethod string   `json:"code_challenge_method,omitempty"`
	Nonce               string   `json:"nonce,omitempty"`
}

func toCodeRecord(code *storage.AuthorizationCode) *codeRecord {
	return &codeRecord{
		Code:                code.Code,
		ClientID:            code.ClientID,
		RedirectURI:         code.RedirectURI,
		UserID:              code.UserID,
		ExpiresAt:           code.ExpiresAt.Unix(),
		Scopes:              code.Scopes,
		CodeChallenge:       code.CodeChallenge,
		CodeChallengeMethod: code.CodeChallengeMethod,
		Nonce:               code.Nonce,
	}
}

func fromCodeRecord(r *codeRecord) *storage.AuthorizationCode {
	return &storage.AuthorizationCode{
		Code:                r.Code,
		ClientID:            r.ClientID,
		RedirectURI:         r.RedirectURI,
		UserID:              r.UserID,
		ExpiresAt:           time.Unix(r.ExpiresAt, 0),
		Scopes:              r.Scopes,
		CodeChallenge:       r.CodeChallenge,
		CodeChallengeMethod: r.CodeChallengeMethod,
		Nonce:               r.Nonce,
	}
}

type deviceRecord struct {
	DeviceCode string   `json:"device_code"`
	UserCode   string   `json:"user_code"`
	ClientID   string   `json:"client_id"`
	UserID     string   `json:"user_id,omitempty"`
	ExpiresAt  int64    `json:"expires_at"`
	Scopes     []string `json:"scopes,omitempty"`
}

func toDeviceRecord(d *storage.DeviceCode) *deviceRecord {
	return &deviceRecord{
		DeviceCode: d.DeviceCode,
		UserCode:   d.UserCode,
		ClientID:   d.ClientID,
		UserID:     d.UserID,
		ExpiresAt:  d.ExpiresAt.Unix(),
		Scopes:     d.Scopes,
	}
}

func fromDeviceRecord(r *deviceRecord) *storage.DeviceCode {
	return &storage.DeviceCode{
		DeviceCode: r.DeviceCode,
		UserCode:   r.UserCode,
		ClientID:   r.ClientID,
		UserID:     r.UserID,
		ExpiresAt:  time.Unix(r.ExpiresAt, 0),
		Scopes:     r.Scopes,
	}
}

type accessTokenRecord struct {
	Token     string   `json:"token"`
	ClientID  string   `json:"client_id"`
	UserID    string   `json:"user_id,omitempty"`
	Scopes    []string `json:"scopes,omitempty"`
	ExpiresAt int64    `json:"expires_at"`
}

func fromAccessTokenRecord(r *accessTokenRecord) *storage.AccessToken {
	return &storage.AccessToken{
		Token:     r.Token,
		ClientID:  r.ClientID,
		UserID:    r.UserID,
		Scopes:    r.Scopes,
		ExpiresAt: time.Unix(r.ExpiresAt, 0),
	}
}

// userRecord keeps the password hash, which storage.User never serializes
type userRecord struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	EmailAddress string `json:"email_address,omitempty"`
	PasswordHash string `json:"password_hash"`
}

func fromUserRecord(r *userRecord) *storage.User {
	return &storage.User{
		ID:           r.ID,
		Username:     r.Username,
		EmailAddress: r.EmailAddress,
		PasswordHash: r.PasswordHash,
	}
}

func identity[T any](v *T) *T { return v }

// ============================================================
// Helper methods
// ============================================================

// getAndUnmarshal fetches a key, unmarshals its JSON data and converts it
// to the target type. A missing key yields notFoundErr.
func getAndUnmarshal[J any, T any](
	ctx context.Context,
	s *Store,
	key string,
	notFoundErr error,
	fromJSON func(*J) *T,
) (*T, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, notFoundErr
		}
		return nil, fmt.Errorf("failed to get data: %w", err)
	}

	var j J
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal data: %w", err)
	}

	return fromJSON(&j), nil
}

// setJSON marshals value and stores it under key. A zero ttl stores the key without expiry.
func (s *Store) setJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := marshal(value)
	if err != nil {
		return err
	}

	cmd := s.client.B().Set().Key(key).Value(data)
	if ttl > 0 {
		return s.client.Do(ctx, cmd.Ex(ttl).Build()).Error()
	}
	return s.client.Do(ctx, cmd.Build()).Error()
}

// ttlSeconds rounds a TTL up to whole seconds, at least one
func ttlSeconds(ttl time.Duration) int64 {
	secs := int64((ttl + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}
