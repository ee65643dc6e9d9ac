package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/giantswarm/oauth-engine/instrumentation"
	"github.com/giantswarm/oauth-engine/server"
	"github.com/giantswarm/oauth-engine/storage"
	"github.com/giantswarm/oauth-engine/storage/memory"
	"github.com/giantswarm/oauth-engine/storage/postgres"
	"github.com/giantswarm/oauth-engine/storage/remote"
	"github.com/giantswarm/oauth-engine/storage/valkey"
	"github.com/giantswarm/oauth-engine/tokengen"
)

// backend is an opened storage backend
type backend struct {
	stores server.Stores
	seeder memory.Seeder

	// resourceOnly is set when tokens are resolved remotely and the
	// authorization endpoints cannot be served
	resourceOnly bool

	close func()
}

// openBackend opens the configured storage backend. Background work such as
// expiry cleanup stops when ctx is cancelled.
func openBackend(ctx context.Context, cfg *Config, gen tokengen.Generator, inst *instrumentation.Instrumentation, logger *slog.Logger) (*backend, error) {
	sc := cfg.Storage

	switch sc.Backend {
	case BackendValkey:
		store, err := valkey.New(valkey.Config{
			Address:         sc.ValkeyAddress,
			Password:        sc.ValkeyPassword,
			DB:              sc.ValkeyDB,
			KeyPrefix:       sc.ValkeyKeyPrefix,
			Logger:          logger,
			CodeLifetime:    cfg.CodeLifetime,
			SessionLifetime: cfg.HTTP.SessionMaxAge,
			TokenGenerator:  gen,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open valkey storage: %w", err)
		}
		return &backend{stores: allStores(store), seeder: store, close: store.Close}, nil

	case BackendPostgres:
		store, err := postgres.Connect(ctx, sc.PostgresURL, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres storage: %w", err)
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to migrate postgres schema: %w", err)
		}
		store.SetCodeLifetime(cfg.CodeLifetime)
		if gen != nil {
			store.SetTokenGenerator(gen)
		}
		go store.RunCleanup(ctx, sc.PostgresCleanupInterval)
		return &backend{stores: allStores(store), seeder: store, close: store.Close}, nil

	case BackendRemote:
		tokens, err := remote.New(remote.Config{
			Endpoint: sc.RemoteEndpoint,
			Username: sc.RemoteUsername,
			Password: sc.RemotePassword,
			CacheTTL: sc.RemoteCacheTTL,
			Logger:   logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create remote token manager: %w", err)
		}
		// The engine still needs the other collaborators; they stay empty
		// unless seeded.
		local := newMemoryStore(cfg, gen, inst, logger)
		stores := allStores(local)
		stores.Tokens = tokens
		closeAll := func() {
			tokens.Close()
			local.Stop()
		}
		return &backend{stores: stores, seeder: local, resourceOnly: true, close: closeAll}, nil

	default:
		store := newMemoryStore(cfg, gen, inst, logger)
		return &backend{stores: allStores(store), seeder: store, close: store.Stop}, nil
	}
}

func newMemoryStore(cfg *Config, gen tokengen.Generator, inst *instrumentation.Instrumentation, logger *slog.Logger) *memory.Store {
	store := memory.New()
	store.SetLogger(logger)
	store.SetCodeLifetime(cfg.CodeLifetime)
	store.SetInstrumentation(inst)
	if gen != nil {
		store.SetTokenGenerator(gen)
	}
	return store
}

// fullStore is a backend implementing every collaborator
type fullStore interface {
	storage.ClientRetriever
	storage.CodeManager
	storage.TokenManager
	storage.UserManager
	storage.ResourceServerRetriever
	storage.SessionStore
}

func allStores(store fullStore) server.Stores {
	return server.Stores{
		Clients:         store,
		Codes:           store,
		Tokens:          store,
		Users:           store,
		ResourceServers: store,
		Sessions:        store,
	}
}
