package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/giantswarm/oauth-engine/internal/util"
	"github.com/giantswarm/oauth-engine/storage"
)

const (
	// DefaultTimeout bounds a single introspection call
	DefaultTimeout = 10 * time.Second

	// DefaultCacheTTL is how long an active introspection result is reused
	DefaultCacheTTL = 30 * time.Second

	// DefaultCleanupInterval is how often stale cache entries are evicted
	DefaultCleanupInterval = time.Minute

	// maxResponseSize caps the introspection response body
	maxResponseSize = 64 * 1024
)

// ErrUnauthorized means the introspection endpoint rejected the resource
// server credentials.
var ErrUnauthorized = errors.New("introspection credentials rejected")

// Config configures a remote TokenManager
type Config struct {
	// Endpoint is the full URL of the introspection endpoint (required)
	Endpoint string

	// Username and Password are the resource server credentials (required)
	Username string
	Password string

	// HTTPClient performs the calls. Default: client with DefaultTimeout.
	HTTPClient *http.Client

	// CacheTTL is how long active results are reused. Zero selects
	// DefaultCacheTTL; a negative value disables caching.
	CacheTTL time.Duration

	// CleanupInterval is how often stale cache entries are evicted
	// (default: DefaultCleanupInterval)
	CleanupInterval time.Duration

	// Logger for debug and error output (default: slog.Default())
	Logger *slog.Logger

	// Now returns the current time (default: time.Now)
	Now func() time.Time
}

type cachedToken struct {
	token     *storage.AccessToken
	fetchedAt time.Time
}

// TokenManager resolves access tokens through a remote introspection endpoint
type TokenManager struct {
	endpoint   string
	username   string
	password   string
	httpClient *http.Client
	cacheTTL   time.Duration
	logger     *slog.Logger
	now        func() time.Time

	cache sync.Map // token -> *cachedToken

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

var _ storage.TokenManager = (*TokenManager)(nil)

// introspectionRequest is the JSON body sent to the introspection endpoint
type introspectionRequest struct {
	Token string `json:"token"`
}

// introspectionResponse mirrors the introspection endpoint's reply
type introspectionResponse struct {
	Active   bool   `json:"active"`
	ClientID string `json:"client_id,omitempty"`
	Scope    string `json:"scope,omitempty"`
	Username string `json:"username,omitempty"`
	Exp      int64  `json:"exp,omitempty"`
}

// New creates a remote TokenManager
func New(cfg Config) (*TokenManager, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("introspection endpoint is required")
	}
	u, err := url.Parse(cfg.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid introspection endpoint %q", cfg.Endpoint)
	}
	if cfg.Username == "" {
		return nil, errors.New("resource server username is required")
	}

	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}

	m := &TokenManager{
		endpoint:    cfg.Endpoint,
		username:    cfg.Username,
		password:    cfg.Password,
		httpClient:  cfg.HTTPClient,
		cacheTTL:    cfg.CacheTTL,
		logger:      cfg.Logger,
		now:         cfg.Now,
		stopCleanup: make(chan struct{}),
	}
	if m.cacheTTL > 0 {
		go m.cleanupLoop(cfg.CleanupInterval)
	}
	return m, nil
}

// Close stops the cache cleanup goroutine. Safe to call more than once.
func (m *TokenManager) Close() {
	m.stopOnce.Do(func() { close(m.stopCleanup) })
}

func (m *TokenManager) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCleanup:
			return
		case <-ticker.C:
			m.evictStale()
		}
	}
}

// evictStale drops cache entries past the cache TTL or the token expiry
func (m *TokenManager) evictStale() {
	now := m.now()
	evicted := 0
	m.cache.Range(func(key, value any) bool {
		if !m.fresh(value.(*cachedToken), now) {
			m.cache.Delete(key)
			evicted++
		}
		return true
	})
	if evicted > 0 {
		m.logger.Debug("Evicted stale introspection results", "count", evicted)
	}
}

func (m *TokenManager) fresh(entry *cachedToken, now time.Time) bool {
	return now.Sub(entry.fetchedAt) < m.cacheTTL && !entry.token.IsExpired(now)
}

// GetAccessToken introspects token at the remote endpoint. Inactive tokens
// are reported as storage.ErrTokenNotFound. The returned token's UserID holds
// the remote username, since user IDs are not part of the introspection
// response.
func (m *TokenManager) GetAccessToken(ctx context.Context, token string) (*storage.AccessToken, error) {
	if token == "" {
		return nil, storage.ErrTokenNotFound
	}

	now := m.now()
	if cached, ok := m.cache.Load(token); ok {
		entry := cached.(*cachedToken)
		if m.fresh(entry, now) {
			return copyToken(entry.token), nil
		}
		m.cache.Delete(token)
	}

	resp, err := m.introspect(ctx, token)
	if err != nil {
		return nil, err
	}
	if !resp.Active {
		m.logger.Debug("Remote token is inactive", "token", util.SecretPrefix(token))
		return nil, storage.ErrTokenNotFound
	}

	access := &storage.AccessToken{
		Token:     token,
		ClientID:  resp.ClientID,
		UserID:    resp.Username,
		Scopes:    util.ParseScopes(resp.Scope),
		ExpiresAt: time.Unix(resp.Exp, 0),
	}
	if access.IsExpired(now) {
		return nil, storage.ErrTokenNotFound
	}

	if m.cacheTTL > 0 {
		m.cache.Store(token, &cachedToken{token: access, fetchedAt: now})
	}
	return copyToken(access), nil
}

func (m *TokenManager) introspect(ctx context.Context, token string) (*introspectionResponse, error) {
	body, err := json.Marshal(introspectionRequest{Token: token})
	if err != nil {
		return nil, fmt.Errorf("failed to encode introspection request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create introspection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(m.username, m.password)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call introspection endpoint: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		m.logger.Error("Introspection endpoint rejected resource server credentials", "username", m.username)
		return nil, ErrUnauthorized
	default:
		return nil, fmt.Errorf("introspection failed with status %d", resp.StatusCode)
	}

	var out introspectionResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode introspection response: %w", err)
	}
	return &out, nil
}

// GenerateAccessToken is not supported by the remote backend
func (m *TokenManager) GenerateAccessToken(_ context.Context, _, _ string, _ []string, _ time.Duration) (*storage.AccessToken, error) {
	return nil, storage.ErrReadOnly
}

// GenerateAccessRefreshTokens is not supported by the remote backend
func (m *TokenManager) GenerateAccessRefreshTokens(_ context.Context, _, _ string, _ []string, _ time.Duration) (*storage.AccessToken, *storage.RefreshToken, error) {
	return nil, nil, storage.ErrReadOnly
}

// GetRefreshToken always reports the token as absent: refresh tokens are
// never exposed through introspection.
func (m *TokenManager) GetRefreshToken(_ context.Context, _ string) (*storage.RefreshToken, error) {
	return nil, storage.ErrTokenNotFound
}

// UpdateRefreshToken is not supported by the remote backend
func (m *TokenManager) UpdateRefreshToken(_ context.Context, _ *storage.RefreshToken, _ []string) error {
	return storage.ErrReadOnly
}

// Forget drops a cached result, e.g. after the host learned of a revocation
func (m *TokenManager) Forget(token string) {
	m.cache.Delete(token)
}

func copyToken(t *storage.AccessToken) *storage.AccessToken {
	out := *t
	out.Scopes = append([]string(nil), t.Scopes...)
	return &out
}
