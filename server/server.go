package server

import (
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oauth-engine/instrumentation"
	"github.com/giantswarm/oauth-engine/security"
	"github.com/giantswarm/oauth-engine/storage"
)

// Stores bundles the storage collaborators the engine depends on.
// Clients, Codes, Tokens and Sessions are required. Users enables the
// password grant, introspection usernames and device verification;
// ResourceServers enables introspection.
type Stores struct {
	Clients         storage.ClientRetriever
	Codes           storage.CodeManager
	Tokens          storage.TokenManager
	Users           storage.UserManager
	ResourceServers storage.ResourceServerRetriever
	Sessions        storage.SessionStore
}

// Server implements the OAuth 2.0 protocol engine.
// It is safe for concurrent use; all mutable state lives in the stores.
type Server struct {
	clients         storage.ClientRetriever
	codes           storage.CodeManager
	tokens          storage.TokenManager
	users           storage.UserManager
	resourceServers storage.ResourceServerRetriever
	sessions        storage.SessionStore

	Auditor         *security.Auditor
	Instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
	Logger          *slog.Logger
	Config          *Config
}

// New creates a protocol engine from its collaborators
func New(stores Stores, config *Config, logger *slog.Logger) (*Server, error) {
	if stores.Clients == nil {
		return nil, errors.New("client retriever is required")
	}
	if stores.Codes == nil {
		return nil, errors.New("code manager is required")
	}
	if stores.Tokens == nil {
		return nil, errors.New("token manager is required")
	}
	if stores.Sessions == nil {
		return nil, errors.New("session store is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	// Disabled instrumentation hands out no-op providers
	inst, err := instrumentation.New(instrumentation.Config{Enabled: false})
	if err != nil {
		return nil, fmt.Errorf("failed to create instrumentation: %w", err)
	}

	srv := &Server{
		clients:         stores.Clients,
		codes:           stores.Codes,
		tokens:          stores.Tokens,
		users:           stores.Users,
		resourceServers: stores.ResourceServers,
		sessions:        stores.Sessions,
		Logger:          logger,
		Config:          applyDefaults(config, logger),
	}
	srv.SetInstrumentation(inst)

	return srv, nil
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetInstrumentation sets OpenTelemetry instrumentation for the engine
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst == nil {
		return
	}
	s.Instrumentation = inst
	s.tracer = inst.Tracer("server")
}
