// Package tokengen produces the strings handed out as tokens and codes.
//
// Refresh tokens, authorization codes, device codes and CSRF tokens are always
// opaque high-entropy strings (32 random bytes, base64url encoded). Access
// tokens are produced by a Generator, which is either Opaque or JWT; storage
// backends accept a Generator so deployments can switch to self-describing
// access tokens without touching the engine.
package tokengen
