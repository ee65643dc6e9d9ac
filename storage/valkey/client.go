package valkey

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/oauth-engine/storage"
)

// dummyHash is compared against when a username is unknown, so that lookups
// of unknown and known users take the same time (bcrypt hash of "test").
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// ============================================================
// ClientRetriever Implementation
// ============================================================

// SaveClient registers or replaces a client
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	if client == nil || client.ClientID == "" {
		return fmt.Errorf("invalid client")
	}

	if err := s.setJSON(ctx, s.clientKey(client.ClientID), client, 0); err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}

	s.logger.Debug("Saved client", "client_id", client.ClientID)
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	if len(clientID) > MaxIDLength {
		return nil, storage.ErrClientNotFound
	}
	return getAndUnmarshal(ctx, s, s.clientKey(clientID), storage.ErrClientNotFound, identity[storage.Client])
}

// ============================================================
// UserManager Implementation
// ============================================================

// CreateUser registers a user with a bcrypt hash of password and returns its ID
func (s *Store) CreateUser(ctx context.Context, username, password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	user := &storage.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: string(hash),
	}
	if err := s.SaveUser(ctx, user); err != nil {
		return "", err
	}
	return user.ID, nil
}

// SaveUser registers or replaces a user. PasswordHash must be a bcrypt hash.
// Usernames are unique regardless of case.
func (s *Store) SaveUser(ctx context.Context, user *storage.User) error {
	if user == nil || user.ID == "" || user.Username == "" {
		return errors.New("user ID and username are required")
	}

	usernameKey := s.usernameKey(strings.ToLower(user.Username))
	owner, err := s.client.Do(ctx, s.client.B().Get().Key(usernameKey).Build()).ToString()
	switch {
	case err == nil && owner != user.ID:
		return fmt.Errorf("username %q is already taken", user.Username)
	case err != nil && !isNilError(err):
		return fmt.Errorf("failed to check username: %w", err)
	}

	record, err := marshal(&userRecord{
		ID:           user.ID,
		Username:     user.Username,
		EmailAddress: user.EmailAddress,
		PasswordHash: user.PasswordHash,
	})
	if err != nil {
		return err
	}

	results := s.client.DoMulti(ctx,
		s.client.B().Set().Key(s.userKey(user.ID)).Value(record).Build(),
		s.client.B().Set().Key(usernameKey).Value(user.ID).Build(),
	)
	for _, result := range results {
		if err := result.Error(); err != nil {
			return fmt.Errorf("failed to save user: %w", err)
		}
	}
	return nil
}

// AuthenticateUser verifies a username/password pair and returns the user ID.
// Usernames are case-insensitive.
func (s *Store) AuthenticateUser(ctx context.Context, username, password string) (string, error) {
	var user *storage.User

	userID, err := s.client.Do(ctx, s.client.B().Get().Key(s.usernameKey(strings.ToLower(username))).Build()).ToString()
	switch {
	case err == nil:
		user, err = s.GetUser(ctx, userID)
		if err != nil && !errors.Is(err, storage.ErrUserNotFound) {
			return "", err
		}
	case !isNilError(err):
		return "", fmt.Errorf("failed to get username: %w", err)
	}

	hash := dummyHash
	if user != nil {
		hash = user.PasswordHash
	}
	bcryptErr := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))

	if user == nil || bcryptErr != nil {
		return "", storage.ErrInvalidCredentials
	}
	return user.ID, nil
}

// GetUser retrieves a user by ID
func (s *Store) GetUser(ctx context.Context, userID string) (*storage.User, error) {
	if len(userID) > MaxIDLength {
		return nil, storage.ErrUserNotFound
	}
	return getAndUnmarshal(ctx, s, s.userKey(userID), storage.ErrUserNotFound, fromUserRecord)
}

// ============================================================
// ResourceServerRetriever Implementation
// ============================================================

// SaveResourceServer registers or replaces introspection credentials
func (s *Store) SaveResourceServer(ctx context.Context, rs *storage.ResourceServer) error {
	if rs == nil || rs.Username == "" {
		return errors.New("resource server username is required")
	}
	if err := s.setJSON(ctx, s.resourceServerKey(rs.Username), rs, 0); err != nil {
		return fmt.Errorf("failed to save resource server: %w", err)
	}
	return nil
}

// GetServer retrieves a resource server by its username
func (s *Store) GetServer(ctx context.Context, username string) (*storage.ResourceServer, error) {
	if len(username) > MaxIDLength {
		return nil, storage.ErrResourceServerNotFound
	}
	return getAndUnmarshal(ctx, s, s.resourceServerKey(username), storage.ErrResourceServerNotFound, identity[storage.ResourceServer])
}

// ============================================================
// SessionStore Implementation
// ============================================================

// Get returns a session value and extends the session's idle lifetime
func (s *Store) Get(ctx context.Context, sessionID, key string) (string, error) {
	if len(sessionID) > MaxIDLength {
		return "", storage.ErrSessionValueNotFound
	}

	sessionKey := s.sessionKey(sessionID)
	value, err := s.client.Do(ctx, s.client.B().Hget().Key(sessionKey).Field(key).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return "", storage.ErrSessionValueNotFound
		}
		return "", fmt.Errorf("failed to get session value: %w", err)
	}

	if err := s.client.Do(ctx, s.client.B().Expire().Key(sessionKey).Seconds(ttlSeconds(s.sessionLifetime)).Build()).Error(); err != nil {
		s.logger.Warn("Failed to extend session lifetime", "error", err)
	}
	return value, nil
}

// Set stores a session value, replacing any earlier value for key
func (s *Store) Set(ctx context.Context, sessionID, key, value string) error {
	if len(sessionID) > MaxIDLength {
		return fmt.Errorf("session ID exceeds maximum length of %d bytes", MaxIDLength)
	}

	sessionKey := s.sessionKey(sessionID)
	results := s.client.DoMulti(ctx,
		s.client.B().Hset().Key(sessionKey).FieldValue().FieldValue(key, value).Build(),
		s.client.B().Expire().Key(sessionKey).Seconds(ttlSeconds(s.sessionLifetime)).Build(),
	)
	for _, result := range results {
		if err := result.Error(); err != nil {
			return fmt.Errorf("failed to set session value: %w", err)
		}
	}
	return nil
}
