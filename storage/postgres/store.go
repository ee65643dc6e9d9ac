package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/giantswarm/oauth-engine/storage"
	"github.com/giantswarm/oauth-engine/tokengen"
)

const (
	// DefaultCodeLifetime is how long authorization codes are valid
	DefaultCodeLifetime = 60 * time.Second

	// DefaultSessionLifetime is how long an idle session keeps its values
	DefaultSessionLifetime = 24 * time.Hour

	userCodeAttempts = 5

	// uniqueViolation is the SQLSTATE of a unique constraint violation
	uniqueViolation = "23505"
)

//go:embed schema.sql
var schema string

// Store is a PostgreSQL implementation of all storage interfaces.
type Store struct {
	pool            *pgxpool.Pool
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

// New wraps an existing connection pool
func New(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, errors.New("database pool cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		pool:            pool,
		logger:          logger,
		generator:       tokengen.Opaque{},
		codeLifetime:    DefaultCodeLifetime,
		sessionLifetime: DefaultSessionLifetime,
		now:             time.Now,
	}, nil
}

// Connect opens a connection pool for databaseURL and verifies it
func Connect(ctx context.Context, databaseURL string, logger *slog.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return New(pool, logger)
}

// Close closes the underlying pool
func (s *Store) Close() {
	s.pool.Close()
}

// SetTokenGenerator replaces the access token generator
func (s *Store) SetTokenGenerator(gen tokengen.Generator) {
	s.generator = gen
}

// SetCodeLifetime sets the lifetime of newly generated authorization codes
func (s *Store) SetCodeLifetime(d time.Duration) {
	if d > 0 {
		s.codeLifetime = d
	}
}

// Migrate creates the storage tables if they do not exist
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Purge deletes expired codes and access tokens and sessions idle for longer
// than the session lifetime. Refresh tokens never expire.
func (s *Store) Purge(ctx context.Context) (int64, error) {
	now := s.now()
	statements := []struct {
		sql string
		arg time.Time
	}{
		{`DELETE FROM oauth_codes WHERE expires_at <= $1`, now},
		{`DELETE FROM oauth_device_codes WHERE expires_at <= $1`, now},
		{`DELETE FROM oauth_access_tokens WHERE expires_at <= $1`, now},
		{`DELETE FROM oauth_sessions WHERE updated_at <= $1`, now.Add(-s.sessionLifetime)},
	}

	var purged int64
	for _, stmt := range statements {
		tag, err := s.pool.Exec(ctx, stmt.sql, stmt.arg)
		if err != nil {
			return purged, fmt.Errorf("failed to purge expired rows: %w", err)
		}
		purged += tag.RowsAffected()
	}
	return purged, nil
}

// RunCleanup calls Purge every interval until ctx is cancelled
func (s *Store) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := s.Purge(ctx)
			if err != nil {
				s.logger.Error("Failed to purge expired rows", "error", err)
				continue
			}
			if purged > 0 {
				s.logger.Debug("Cleaned up expired entries", "count", purged)
			}
		}
	}
}

// notFound maps pgx.ErrNoRows to the given sentinel
func notFound(err, sentinel error, action string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return sentinel
	}
	return fmt.Errorf("failed to %s: %w", action, err)
}
