package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/oauth-engine/storage"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeIntrospection serves a token_info endpoint knowing a single active token
type fakeIntrospection struct {
	calls atomic.Int32
	exp   int64
}

func (f *fakeIntrospection) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.calls.Add(1)

	user, pass, ok := r.BasicAuth()
	if !ok || user != "api" || pass != "api-secret" {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_client"})
		return
	}

	var body introspectionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Token == "" {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "missing_token"})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if body.Token != "good-token" {
		_ = json.NewEncoder(w).Encode(introspectionResponse{Active: false})
		return
	}
	_ = json.NewEncoder(w).Encode(introspectionResponse{
		Active:   true,
		ClientID: "web",
		Scope:    "read write",
		Username: "alice",
		Exp:      f.exp,
	})
}

func newTestManager(t *testing.T, handler http.Handler, password string, cacheTTL time.Duration) *TokenManager {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	m, err := New(Config{
		Endpoint: srv.URL + "/oauth/token_info",
		Username: "api",
		Password: password,
		CacheTTL: cacheTTL,
		Now:      func() time.Time { return testNow },
	})
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing endpoint", Config{Username: "api"}},
		{"relative endpoint", Config{Endpoint: "/oauth/token_info", Username: "api"}},
		{"missing username", Config{Endpoint: "https://auth.example.com/oauth/token_info"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestGetAccessToken(t *testing.T) {
	fake := &fakeIntrospection{exp: testNow.Add(time.Hour).Unix()}
	m := newTestManager(t, fake, "api-secret", -1)
	ctx := context.Background()

	t.Run("active token", func(t *testing.T) {
		token, err := m.GetAccessToken(ctx, "good-token")
		require.NoError(t, err)
		assert.Equal(t, "good-token", token.Token)
		assert.Equal(t, "web", token.ClientID)
		assert.Equal(t, "alice", token.UserID)
		assert.Equal(t, []string{"read", "write"}, token.Scopes)
		assert.Equal(t, fake.exp, token.ExpiresAt.Unix())
	})

	t.Run("inactive token", func(t *testing.T) {
		_, err := m.GetAccessToken(ctx, "unknown")
		assert.ErrorIs(t, err, storage.ErrTokenNotFound)
	})

	t.Run("empty token", func(t *testing.T) {
		_, err := m.GetAccessToken(ctx, "")
		assert.ErrorIs(t, err, storage.ErrTokenNotFound)
	})
}

func TestGetAccessToken_ExpiredByClock(t *testing.T) {
	fake := &fakeIntrospection{exp: testNow.Add(-time.Second).Unix()}
	m := newTestManager(t, fake, "api-secret", 0)

	_, err := m.GetAccessToken(context.Background(), "good-token")
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)
}

func TestGetAccessToken_BadCredentials(t *testing.T) {
	m := newTestManager(t, &fakeIntrospection{}, "wrong", 0)

	_, err := m.GetAccessToken(context.Background(), "good-token")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestGetAccessToken_ServerError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	m := newTestManager(t, handler, "api-secret", 0)

	_, err := m.GetAccessToken(context.Background(), "good-token")
	require.Error(t, err)
	assert.False(t, storage.IsNotFound(err), "backend failures must not look like absent tokens")
}

func TestGetAccessToken_Cache(t *testing.T) {
	fake := &fakeIntrospection{exp: testNow.Add(time.Hour).Unix()}
	m := newTestManager(t, fake, "api-secret", time.Minute)
	ctx := context.Background()

	first, err := m.GetAccessToken(ctx, "good-token")
	require.NoError(t, err)
	first.Scopes[0] = "mutated"

	second, err := m.GetAccessToken(ctx, "good-token")
	require.NoError(t, err)
	assert.Equal(t, []string{"read", "write"}, second.Scopes)
	assert.Equal(t, int32(1), fake.calls.Load())

	m.Forget("good-token")
	_, err = m.GetAccessToken(ctx, "good-token")
	require.NoError(t, err)
	assert.Equal(t, int32(2), fake.calls.Load())
}

func TestEvictStale(t *testing.T) {
	exp := testNow.Add(time.Hour).Unix()
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(introspectionResponse{Active: true, ClientID: "web", Exp: exp})
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	var clock atomic.Int64
	clock.Store(testNow.UnixNano())
	m, err := New(Config{
		Endpoint: srv.URL + "/oauth/token_info",
		Username: "api",
		Password: "api-secret",
		CacheTTL: time.Minute,
		Now:      func() time.Time { return time.Unix(0, clock.Load()) },
	})
	require.NoError(t, err)
	t.Cleanup(m.Close)

	ctx := context.Background()
	for i := 0; i < 100; i++ {
		_, err := m.GetAccessToken(ctx, fmt.Sprintf("token-%d", i))
		require.NoError(t, err)
	}
	assert.Equal(t, 100, cacheSize(m))

	clock.Store(testNow.Add(30 * time.Second).UnixNano())
	_, err = m.GetAccessToken(ctx, "token-late")
	require.NoError(t, err)
	m.evictStale()
	assert.Equal(t, 101, cacheSize(m), "fresh entries are kept")

	clock.Store(testNow.Add(75 * time.Second).UnixNano())
	m.evictStale()
	assert.Equal(t, 1, cacheSize(m), "only the entry fetched later is still fresh")

	clock.Store(testNow.Add(2 * time.Hour).UnixNano())
	m.evictStale()
	assert.Equal(t, 0, cacheSize(m))
}

func TestCleanupLoop(t *testing.T) {
	fake := &fakeIntrospection{exp: testNow.Add(time.Hour).Unix()}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	var clock atomic.Int64
	clock.Store(testNow.UnixNano())
	m, err := New(Config{
		Endpoint:        srv.URL,
		Username:        "api",
		Password:        "api-secret",
		CacheTTL:        time.Minute,
		CleanupInterval: 10 * time.Millisecond,
		Now:             func() time.Time { return time.Unix(0, clock.Load()) },
	})
	require.NoError(t, err)
	t.Cleanup(m.Close)

	_, err = m.GetAccessToken(context.Background(), "good-token")
	require.NoError(t, err)
	require.Equal(t, 1, cacheSize(m))

	clock.Store(testNow.Add(2 * time.Minute).UnixNano())
	assert.Eventually(t, func() bool { return cacheSize(m) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func cacheSize(m *TokenManager) int {
	n := 0
	m.cache.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func TestReadOnlyOperations(t *testing.T) {
	m := newTestManager(t, &fakeIntrospection{}, "api-secret", 0)
	ctx := context.Background()

	_, err := m.GenerateAccessToken(ctx, "web", "", nil, time.Hour)
	assert.ErrorIs(t, err, storage.ErrReadOnly)

	_, _, err = m.GenerateAccessRefreshTokens(ctx, "web", "", nil, time.Hour)
	assert.ErrorIs(t, err, storage.ErrReadOnly)

	err = m.UpdateRefreshToken(ctx, &storage.RefreshToken{Token: "r"}, nil)
	assert.ErrorIs(t, err, storage.ErrReadOnly)

	_, err = m.GetRefreshToken(ctx, "r")
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)
}
