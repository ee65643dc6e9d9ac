package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/oauth-engine/storage"
)

// ============================================================
// Clients, users and resource servers
// ============================================================

// SaveClient registers or replaces a client
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	if client == nil {
		return errors.New("client cannot be nil")
	}
	if client.ClientID == "" {
		return errors.New("client ID cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := *client
	s.clients[c.ClientID] = &c
	s.logger.Debug("Saved client", "client_id", c.ClientID)
	return nil
}

// GetClient returns a copy of the client
func (s *Store) GetClient(ctx context.Context, clientID string) (_ *storage.Client, err error) {
	startTime := time.Now()
	ctx, span := s.startStorageSpan(ctx, "get_client")
	defer func() { s.recordStorageOperation(ctx, span, "get_client", err, startTime) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		return nil, storage.ErrClientNotFound
	}
	c := *client
	return &c, nil
}

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
func (s *Store) SaveUser(ctx context.Context, user *storage.User) error {
	if user == nil || user.ID == "" || user.Username == "" {
		return errors.New("user ID and username are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(user.Username)
	if id, taken := s.usernames[key]; taken && id != user.ID {
		return fmt.Errorf("username %q is already taken", user.Username)
	}

	u := *user
	s.users[u.ID] = &u
	s.usernames[key] = u.ID
	return nil
}

// AuthenticateUser verifies a username/password pair and returns the user ID.
// Usernames are case-insensitive.
func (s *Store) AuthenticateUser(ctx context.Context, username, password string) (_ string, err error) {
	startTime := time.Now()
	ctx, span := s.startStorageSpan(ctx, "authenticate_user")
	defer func() { s.recordStorageOperation(ctx, span, "authenticate_user", err, startTime) }()

	s.mu.RLock()
	id, ok := s.usernames[strings.ToLower(username)]
	var hash string
	if ok {
		hash = s.users[id].PasswordHash
	}
	s.mu.RUnlock()

	if !ok {
		return "", storage.ErrInvalidCredentials
	}
	// bcrypt runs outside the lock
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return "", storage.ErrInvalidCredentials
	}
	return id, nil
}

// GetUser returns a copy of the user
func (s *Store) GetUser(ctx context.Context, userID string) (_ *storage.User, err error) {
	startTime := time.Now()
	ctx, span := s.startStorageSpan(ctx, "get_user")
	defer func() { s.recordStorageOperation(ctx, span, "get_user", err, startTime) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[userID]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	u := *user
	return &u, nil
}

// SaveResourceServer registers or replaces introspection credentials
func (s *Store) SaveResourceServer(ctx context.Context, rs *storage.ResourceServer) error {
	if rs == nil || rs.Username == "" {
		return errors.New("resource server username is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r := *rs
	s.resourceServers[r.Username] = &r
	return nil
}

// GetServer returns a copy of the resource server
func (s *Store) GetServer(ctx context.Context, username string) (_ *storage.ResourceServer, err error) {
	startTime := time.Now()
	ctx, span := s.startStorageSpan(ctx, "get_resource_server")
	defer func() { s.recordStorageOperation(ctx, span, "get_resource_server", err, startTime) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	rs, ok := s.resourceServers[username]
	if !ok {
		return nil, storage.ErrResourceServerNotFound
	}
	r := *rs
	return &r, nil
}

// ============================================================
// SessionStore Implementation
// ============================================================

// Get returns a session value
func (s *Store) Get(ctx context.Context, sessionID, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return "", storage.ErrSessionValueNotFound
	}
	value, ok := sess.values[key]
	if !ok {
		return "", storage.ErrSessionValueNotFound
	}
	sess.lastAccess = s.now()
	return value, nil
}

// Set stores a session value, replacing any earlier value for key
func (s *Store) Set(ctx context.Context, sessionID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &session{values: make(map[string]string)}
		s.sessions[sessionID] = sess
	}
	sess.values[key] = value
	sess.lastAccess = s.now()
	return nil
}
