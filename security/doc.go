// Package security holds the protective concerns shared by the HTTP adapter
// and the engine.
//
// # Audit logging
//
// Auditor writes "security_audit" records through log/slog. User identifiers
// are hashed before they are logged; client IDs are not secret and are
// logged as-is.
//
// # Rate limiting
//
// RateLimiter is a per-identifier token bucket (golang.org/x/time/rate) with
// LRU eviction, used by the HTTP adapter to protect the token, introspection
// and device authorization endpoints per client IP.
//
// # Headers, client IPs and request IDs
//
// SetNoStoreHeaders / SetSecurityHeaders, ClientIPResolver and
// RequestIDMiddleware are small helpers used on every response path.
package security
