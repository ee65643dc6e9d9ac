// Package memory provides an in-memory implementation of every storage
// interface the engine consumes.
//
// Store keeps clients, codes, tokens, users, resource servers and session
// values in maps guarded by a sync.RWMutex. Codes and device codes are
// consumed with a compare-and-delete under the write lock, so two concurrent
// exchanges of the same code cannot both succeed. A background goroutine
// purges expired records.
//
// It is suitable for development, testing and single-instance deployments.
// Use storage/valkey or storage/postgres when state must survive restarts or
// be shared between instances.
//
// Example usage:
//
//	store := memory.New()
//	defer store.Stop()
//
//	if err := store.LoadSeedFile("seed.yaml"); err != nil {
//	    log.Fatal(err)
//	}
//	srv, _ := server.New(server.Stores{Clients: store, Codes: store, Tokens: store, Sessions: store}, nil, logger)
package memory
