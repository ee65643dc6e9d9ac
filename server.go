package oauth

import (
	"log/slog"

	"github.com/giantswarm/oauth-engine/server"
)

// Server is the protocol engine the Handler adapts to HTTP
type Server = server.Server

// ServerConfig holds protocol engine configuration
type ServerConfig = server.Config

// Stores bundles the storage collaborators of a Server
type Stores = server.Stores

// NewServer creates a protocol engine from its collaborators.
// It is a shorthand for server.New.
func NewServer(stores Stores, config *ServerConfig, logger *slog.Logger) (*Server, error) {
	return server.New(stores, config, logger)
}
