package valkey

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/oauth-engine/storage"
)

// testStore creates a test store connected to a local Valkey instance.
// Tests are skipped if no Valkey is reachable at VALKEY_TEST_ADDR (default localhost:6379).
// Each test gets a unique prefix to ensure test isolation.
func testStore(t *testing.T) *Store {
	t.Helper()

	addr := os.Getenv("VALKEY_TEST_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	store, err := New(Config{
		Address:   addr,
		KeyPrefix: fmt.Sprintf("oauthtest:%s:", t.Name()),
	})
	if err != nil {
		t.Skipf("Skipping test: could not connect to Valkey at %s: %v", addr, err)
	}

	t.Cleanup(func() {
		cleanupTestKeys(t, store)
		store.Close()
	})

	cleanupTestKeys(t, store)
	return store
}

// cleanupTestKeys removes all keys under the store's prefix
func cleanupTestKeys(t *testing.T, s *Store) {
	t.Helper()

	ctx := context.Background()
	var cursor uint64
	for {
		result, err := s.client.Do(ctx,
			s.client.B().Scan().Cursor(cursor).Match(s.prefix+"*").Count(100).Build(),
		).AsScanEntry()
		if err != nil {
			t.Logf("Warning: failed to scan for cleanup: %v", err)
			return
		}

		for _, key := range result.Elements {
			_ = s.client.Do(ctx, s.client.B().Del().Key(key).Build())
		}

		cursor = result.Cursor
		if cursor == 0 {
			break
		}
	}
}

func TestNew_MissingAddress(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestNew_InvalidAddress(t *testing.T) {
	_, err := New(Config{Address: "invalid:99999"})
	assert.Error(t, err)
}

func TestTTLSeconds(t *testing.T) {
	assert.Equal(t, int64(1), ttlSeconds(0))
	assert.Equal(t, int64(1), ttlSeconds(time.Millisecond))
	assert.Equal(t, int64(60), ttlSeconds(time.Minute))
	assert.Equal(t, int64(61), ttlSeconds(time.Minute+time.Millisecond))
}

func TestClients(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	client := &storage.Client{
		ClientID:         "web",
		ClientSecret:     "secret",
		RedirectURIs:     []string{"https://app.example.com/cb"},
		ValidScopes:      []string{},
		Confidential:     true,
		AllowedGrantType: storage.GrantTypeAuthorizationCode,
	}
	require.NoError(t, s.SaveClient(ctx, client))

	got, err := s.GetClient(ctx, "web")
	require.NoError(t, err)
	assert.Equal(t, client, got)
	assert.NotNil(t, got.ValidScopes, "an empty scope list must stay distinct from nil")

	_, err = s.GetClient(ctx, "unknown")
	assert.ErrorIs(t, err, storage.ErrClientNotFound)
}

func TestAuthorizationCode_SingleUse(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	code, err := s.GenerateCode(ctx, "user-1", "web", "https://app.example.com/cb", []string{"read"},
		&storage.PKCE{Challenge: "challenge", Method: storage.PKCEMethodS256}, "n-1")
	require.NoError(t, err)

	got, err := s.GetCode(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, []string{"read"}, got.Scopes)
	assert.Equal(t, "challenge", got.CodeChallenge)
	assert.Equal(t, storage.PKCEMethodS256, got.CodeChallengeMethod)
	assert.Equal(t, "n-1", got.Nonce)
	assert.WithinDuration(t, time.Now().Add(DefaultCodeLifetime), got.ExpiresAt, 2*time.Second)

	require.NoError(t, s.CodeUsed(ctx, got))
	assert.ErrorIs(t, s.CodeUsed(ctx, got), storage.ErrCodeNotFound)

	_, err = s.GetCode(ctx, code)
	assert.ErrorIs(t, err, storage.ErrCodeNotFound)
}

func TestAuthorizationCode_ConcurrentConsumption(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	code, err := s.GenerateCode(ctx, "user-1", "web", "https://app.example.com/cb", nil, nil, "")
	require.NoError(t, err)
	authCode, err := s.GetCode(ctx, code)
	require.NoError(t, err)

	const goroutines = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		notFound  int
	)
	start := make(chan struct{})
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := s.CodeUsed(ctx, authCode)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case storage.IsNotFound(err):
				notFound++
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes, "exactly one consumer may win")
	assert.Equal(t, goroutines-1, notFound)
}

func TestDeviceCode_Lifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	device, err := s.GenerateDeviceCode(ctx, "tv", []string{"read"}, time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, device.DeviceCode)
	assert.Len(t, device.UserCode, 9)

	byUserCode, err := s.GetDeviceCodeByUserCode(ctx, device.UserCode)
	require.NoError(t, err)
	assert.Equal(t, device.DeviceCode, byUserCode.DeviceCode)
	assert.False(t, byUserCode.IsApproved())

	require.NoError(t, s.ApproveDeviceCode(ctx, device, "user-1"))

	approved, err := s.GetDeviceCode(ctx, device.DeviceCode)
	require.NoError(t, err)
	assert.Equal(t, "user-1", approved.UserID)
	assert.Equal(t, []string{"read"}, approved.Scopes)

	ttl, err := s.client.Do(ctx, s.client.B().Ttl().Key(s.deviceKey(device.DeviceCode)).Build()).AsInt64()
	require.NoError(t, err)
	assert.Greater(t, ttl, int64(0), "approval must keep the TTL")

	assert.ErrorIs(t, s.ApproveDeviceCode(ctx, device, "user-2"), storage.ErrDeviceCodeApproved)
	approved, err = s.GetDeviceCode(ctx, device.DeviceCode)
	require.NoError(t, err)
	assert.Equal(t, "user-1", approved.UserID, "the first approval wins")

	require.NoError(t, s.DeviceCodeUsed(ctx, approved))
	assert.ErrorIs(t, s.DeviceCodeUsed(ctx, approved), storage.ErrDeviceCodeNotFound)

	_, err = s.GetDeviceCodeByUserCode(ctx, device.UserCode)
	assert.ErrorIs(t, err, storage.ErrDeviceCodeNotFound)
	assert.ErrorIs(t, s.ApproveDeviceCode(ctx, device, "user-1"), storage.ErrDeviceCodeNotFound)
}

func TestTokens(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	access, refresh, err := s.GenerateAccessRefreshTokens(ctx, "web", "user-1", []string{"read", "write"}, time.Hour)
	require.NoError(t, err)

	gotAccess, err := s.GetAccessToken(ctx, access.Token)
	require.NoError(t, err)
	assert.Equal(t, access, gotAccess)

	gotRefresh, err := s.GetRefreshToken(ctx, refresh.Token)
	require.NoError(t, err)
	assert.Equal(t, refresh, gotRefresh)

	require.NoError(t, s.UpdateRefreshToken(ctx, gotRefresh, []string{"read"}))
	narrowed, err := s.GetRefreshToken(ctx, refresh.Token)
	require.NoError(t, err)
	assert.Equal(t, []string{"read"}, narrowed.Scopes)

	require.NoError(t, s.RevokeAccessToken(ctx, access.Token))
	require.NoError(t, s.RevokeRefreshToken(ctx, refresh.Token))

	_, err = s.GetAccessToken(ctx, access.Token)
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)
	_, err = s.GetRefreshToken(ctx, refresh.Token)
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)
	assert.ErrorIs(t, s.UpdateRefreshToken(ctx, refresh, nil), storage.ErrTokenNotFound)
}

func TestAccessToken_Expires(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	access, err := s.GenerateAccessToken(ctx, "service", "", nil, time.Second)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, err := s.GetAccessToken(ctx, access.Token)
		return storage.IsNotFound(err)
	}, 5*time.Second, 100*time.Millisecond)
}

func TestOversizedLookups(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	long := string(make([]byte, MaxTokenLength+1))

	_, err := s.GetAccessToken(ctx, long)
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)
	_, err = s.GetCode(ctx, long)
	assert.ErrorIs(t, err, storage.ErrCodeNotFound)
}

func TestUsers(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	id, err := s.CreateUser(ctx, "Alice", "wonderland")
	require.NoError(t, err)

	got, err := s.AuthenticateUser(ctx, "alice", "wonderland")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = s.AuthenticateUser(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, storage.ErrInvalidCredentials)
	_, err = s.AuthenticateUser(ctx, "bob", "wonderland")
	assert.ErrorIs(t, err, storage.ErrInvalidCredentials)

	user, err := s.GetUser(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Alice", user.Username)

	_, err = s.CreateUser(ctx, "ALICE", "other")
	assert.Error(t, err, "usernames are unique regardless of case")

	_, err = s.GetUser(ctx, "unknown")
	assert.ErrorIs(t, err, storage.ErrUserNotFound)
}

func TestResourceServers(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveResourceServer(ctx, &storage.ResourceServer{Username: "api", Password: "secret"}))

	rs, err := s.GetServer(ctx, "api")
	require.NoError(t, err)
	assert.Equal(t, "secret", rs.Password)

	_, err = s.GetServer(ctx, "other")
	assert.ErrorIs(t, err, storage.ErrResourceServerNotFound)
}

func TestSessions(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "session-1", "csrf")
	assert.ErrorIs(t, err, storage.ErrSessionValueNotFound)

	require.NoError(t, s.Set(ctx, "session-1", "csrf", "first"))
	require.NoError(t, s.Set(ctx, "session-1", "csrf", "second"))
	require.NoError(t, s.Set(ctx, "session-1", "other", "value"))

	value, err := s.Get(ctx, "session-1", "csrf")
	require.NoError(t, err)
	assert.Equal(t, "second", value)

	_, err = s.Get(ctx, "session-2", "csrf")
	assert.ErrorIs(t, err, storage.ErrSessionValueNotFound)
}
