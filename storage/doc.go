// Package storage defines the data model and the collaborator interfaces the
// authorization engine consumes.
//
// The engine never persists anything itself. Every lookup and mutation goes
// through one of the capability interfaces declared here:
//   - ClientRetriever: resolves registered clients
//   - CodeManager: issues, resolves and consumes authorization and device codes
//   - TokenManager: issues and resolves access and refresh tokens
//   - UserManager: authenticates end users and resolves user records
//   - ResourceServerRetriever: resolves resource servers allowed to introspect tokens
//   - SessionStore: session-keyed values used for CSRF binding
//
// Implementations are provided in subpackages and are interchangeable:
//   - storage/memory: In-memory storage for development, testing and single instances
//   - storage/valkey: Valkey/Redis-compatible distributed storage
//   - storage/postgres: PostgreSQL storage built on pgx
//   - storage/remote: read-only TokenManager resolving tokens through remote introspection
package storage
