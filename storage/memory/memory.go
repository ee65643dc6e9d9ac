package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oauth-engine/instrumentation"
	"github.com/giantswarm/oauth-engine/security"
	"github.com/giantswarm/oauth-engine/storage"
	"github.com/giantswarm/oauth-engine/tokengen"
)

const (
	// DefaultCodeLifetime is how long authorization codes are valid
	DefaultCodeLifetime = 60 * time.Second

	// DefaultSessionLifetime is how long an idle session keeps its values
	DefaultSessionLifetime = 24 * time.Hour

	backendName = "memory"
)

type session struct {
	values     map[string]string
	lastAccess time.Time
}

// Store is an in-memory implementation of all storage interfaces.
type Store struct {
	mu sync.RWMutex

	clients         map[string]*storage.Client
	users           map[string]*storage.User // user ID -> user
	usernames       map[string]string        // username -> user ID
	resourceServers map[string]*storage.ResourceServer

	codes       map[string]*storage.AuthorizationCode
	deviceCodes map[string]*storage.DeviceCode
	userCodes   map[string]string // user code -> device code

	accessTokens  map[string]*storage.AccessToken
	refreshTokens map[string]*storage.RefreshToken

	sessions map[string]*session

	generator       tokengen.Generator
	codeLifetime    time.Duration
	sessionLifetime time.Duration
	now             func() time.Time

	// Instrumentation
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer

	// Atomic counters for metrics (lock-free access during metric collection)
	codesCountAtomic  atomic.Int64
	tokensCountAtomic atomic.Int64

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
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

// New creates a new in-memory store with the default cleanup interval (1 minute)
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with a custom cleanup interval.
// If cleanupInterval is 0 or negative, uses the default of 1 minute.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		clients:         make(map[string]*storage.Client),
		users:           make(map[string]*storage.User),
		usernames:       make(map[string]string),
		resourceServers: make(map[string]*storage.ResourceServer),
		codes:           make(map[string]*storage.AuthorizationCode),
		deviceCodes:     make(map[string]*storage.DeviceCode),
		userCodes:       make(map[string]string),
		accessTokens:    make(map[string]*storage.AccessToken),
		refreshTokens:   make(map[string]*storage.RefreshToken),
		sessions:        make(map[string]*session),
		generator:       tokengen.Opaque{},
		codeLifetime:    DefaultCodeLifetime,
		sessionLifetime: DefaultSessionLifetime,
		now:             time.Now,
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetTokenGenerator sets the generator used for access token strings
func (s *Store) SetTokenGenerator(gen tokengen.Generator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generator = gen
}

// SetCodeLifetime sets the lifetime of new authorization codes
func (s *Store) SetCodeLifetime(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d > 0 {
		s.codeLifetime = d
	}
}

// SetClock replaces time.Now, mainly for tests
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}
	s.updateCountsLocked()
	s.mu.Unlock()

	if inst != nil {
		err := inst.RegisterStorageSizeCallbacks(
			func() int64 { return s.codesCountAtomic.Load() },
			func() int64 { return s.tokensCountAtomic.Load() },
		)
		if err != nil {
			s.logger.Warn("Failed to register storage size callbacks", "error", err)
		}
	}
}

// Stop gracefully stops the cleanup goroutine
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

// updateCountsLocked refreshes the metric counters. Callers hold s.mu.
func (s *Store) updateCountsLocked() {
	s.codesCountAtomic.Store(int64(len(s.codes) + len(s.deviceCodes)))
	s.tokensCountAtomic.Store(int64(len(s.accessTokens) + len(s.refreshTokens)))
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cleaned := 0

	for code, authCode := range s.codes {
		if security.IsPurgeable(authCode.ExpiresAt, now) {
			delete(s.codes, code)
			cleaned++
		}
	}

	for code, device := range s.deviceCodes {
		if security.IsPurgeable(device.ExpiresAt, now) {
			delete(s.deviceCodes, code)
			delete(s.userCodes, device.UserCode)
			cleaned++
		}
	}

	// Refresh tokens do not expire; only access tokens are purged
	for token, access := range s.accessTokens {
		if security.IsPurgeable(access.ExpiresAt, now) {
			delete(s.accessTokens, token)
			cleaned++
		}
	}

	for id, sess := range s.sessions {
		if security.IsPurgeable(sess.lastAccess.Add(s.sessionLifetime), now) {
			delete(s.sessions, id)
			cleaned++
		}
	}

	s.updateCountsLocked()

	if cleaned > 0 {
		s.logger.Debug("Cleaned up expired entries", "count", cleaned)
	}
}

// ============================================================
// Instrumentation Helpers
// ============================================================

// startStorageSpan starts a new span for a storage operation
func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	ctx, span := s.tracer.Start(ctx, fmt.Sprintf("storage.%s", operation))
	instrumentation.AddStorageAttributes(span, operation, backendName)
	return ctx, span
}

// recordStorageOperation records metrics for a storage operation and sets span status.
// Not-found outcomes are expected and count as success.
func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if s.instrumentation == nil {
		return
	}

	durationMs := float64(time.Since(startTime).Milliseconds())
	result := "success"
	if err != nil && !storage.IsNotFound(err) {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()

	s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}
