package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/oauth-engine/storage"
)

// SaveClient registers or replaces a client
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	if client == nil || client.ClientID == "" {
		return errors.New("invalid client")
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO oauth_clients (client_id, client_secret, redirect_uris, valid_scopes, confidential, first_party, allowed_grant_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (client_id) DO UPDATE SET
			client_secret = EXCLUDED.client_secret,
			redirect_uris = EXCLUDED.redirect_uris,
			valid_scopes = EXCLUDED.valid_scopes,
			confidential = EXCLUDED.confidential,
			first_party = EXCLUDED.first_party,
			allowed_grant_type = EXCLUDED.allowed_grant_type`,
		client.ClientID, client.ClientSecret, client.RedirectURIs, client.ValidScopes,
		client.Confidential, client.FirstParty, string(client.AllowedGrantType))
	if err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	var (
		client    storage.Client
		grantType string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT client_id, client_secret, redirect_uris, valid_scopes, confidential, first_party, allowed_grant_type
		FROM oauth_clients WHERE client_id = $1`, clientID,
	).Scan(&client.ClientID, &client.ClientSecret, &client.RedirectURIs, &client.ValidScopes,
		&client.Confidential, &client.FirstParty, &grantType)
	if err != nil {
		return nil, notFound(err, storage.ErrClientNotFound, "get client")
	}
	client.AllowedGrantType = storage.GrantType(grantType)
	return &client, nil
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
// Usernames are unique regardless of case.
func (s *Store) SaveUser(ctx context.Context, user *storage.User) error {
	if user == nil || user.ID == "" || user.Username == "" {
		return errors.New("user ID and username are required")
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO oauth_users (id, username, email_address, password_hash)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			username = EXCLUDED.username,
			email_address = EXCLUDED.email_address,
			password_hash = EXCLUDED.password_hash`,
		user.ID, user.Username, user.EmailAddress, user.PasswordHash)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("username %q is already taken", user.Username)
		}
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

// AuthenticateUser verifies a username/password pair and returns the user ID.
// Usernames are case-insensitive.
func (s *Store) AuthenticateUser(ctx context.Context, username, password string) (string, error) {
	var id, hash string
	err := s.pool.QueryRow(ctx,
		`SELECT id, password_hash FROM oauth_users WHERE lower(username) = lower($1)`, username,
	).Scan(&id, &hash)
	if err != nil {
		return "", notFound(err, storage.ErrInvalidCredentials, "get user")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return "", storage.ErrInvalidCredentials
	}
	return id, nil
}

// GetUser retrieves a user by ID
func (s *Store) GetUser(ctx context.Context, userID string) (*storage.User, error) {
	var user storage.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, email_address, password_hash FROM oauth_users WHERE id = $1`, userID,
	).Scan(&user.ID, &user.Username, &user.EmailAddress, &user.PasswordHash)
	if err != nil {
		return nil, notFound(err, storage.ErrUserNotFound, "get user")
	}
	return &user, nil
}

// SaveResourceServer registers or replaces introspection credentials
func (s *Store) SaveResourceServer(ctx context.Context, rs *storage.ResourceServer) error {
	if rs == nil || rs.Username == "" {
		return errors.New("resource server username is required")
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO oauth_resource_servers (username, password) VALUES ($1, $2)
		ON CONFLICT (username) DO UPDATE SET password = EXCLUDED.password`,
		rs.Username, rs.Password)
	if err != nil {
		return fmt.Errorf("failed to save resource server: %w", err)
	}
	return nil
}

// GetServer retrieves a resource server by its username
func (s *Store) GetServer(ctx context.Context, username string) (*storage.ResourceServer, error) {
	var rs storage.ResourceServer
	err := s.pool.QueryRow(ctx,
		`SELECT username, password FROM oauth_resource_servers WHERE username = $1`, username,
	).Scan(&rs.Username, &rs.Password)
	if err != nil {
		return nil, notFound(err, storage.ErrResourceServerNotFound, "get resource server")
	}
	return &rs, nil
}

// Get returns a session value and marks the session as active
func (s *Store) Get(ctx context.Context, sessionID, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx, `
		UPDATE oauth_sessions SET updated_at = $3
		WHERE session_id = $1 AND key = $2
		RETURNING value`, sessionID, key, s.now(),
	).Scan(&value)
	if err != nil {
		return "", notFound(err, storage.ErrSessionValueNotFound, "get session value")
	}
	return value, nil
}

// Set stores a session value, replacing any earlier value for key
func (s *Store) Set(ctx context.Context, sessionID, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO oauth_sessions (session_id, key, value, updated_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id, key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		sessionID, key, value, s.now())
	if err != nil {
		return fmt.Errorf("failed to set session value: %w", err)
	}
	return nil
}
