// Package testutil provides fixtures shared by the engine and HTTP adapter
// tests: a seeded in-memory store, PKCE pairs, a controllable clock and a
// small request builder.
package testutil
