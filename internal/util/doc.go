// Package util provides common utility functions used across the oauth-engine module.
//
// This package contains helpers for scope list handling and log-safe string
// formatting that are shared by the engine, the HTTP adapter and the storage
// backends.
//
// Key utilities:
//   - ParseScopes / JoinScopes: convert between the space-delimited wire form and lists
//   - ContainsAll: subset checks used for scope validation and narrowing
//   - SecretPrefix: the log-safe prefix of a token, code or secret
package util
