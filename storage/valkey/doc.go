// Package valkey provides a Valkey storage backend for the OAuth engine.
//
// Valkey is a key-value store that is wire-compatible with Redis. The Store
// type implements every storage interface the engine consumes, so several
// engine instances can share codes, tokens and sessions.
//
// # Key Schema
//
// All keys use a configurable prefix (default "oauth:"):
//
//	{prefix}client:{clientID}      -> JSON(Client)
//	{prefix}user:{userID}          -> JSON(user record incl. bcrypt hash)
//	{prefix}username:{username}    -> userID (lower-cased username)
//	{prefix}rs:{username}          -> JSON(ResourceServer)
//	{prefix}code:{code}            -> JSON(AuthorizationCode), TTL = code lifetime
//	{prefix}device:{deviceCode}    -> JSON(DeviceCode), TTL = device code lifetime
//	{prefix}usercode:{userCode}    -> deviceCode, same TTL
//	{prefix}access:{token}         -> JSON(AccessToken), TTL = token lifetime
//	{prefix}refresh:{token}        -> JSON(RefreshToken), no TTL
//	{prefix}session:{sessionID}    -> HASH of session values, sliding TTL
//
// # Atomic Operations
//
// Consuming an authorization code is a single DEL: Valkey reports how many
// keys it removed, so exactly one of several concurrent exchanges succeeds.
// Device codes, which carry a user code lookup, are reserved, approved and
// consumed through Lua scripts.
//
// # Configuration
//
//	store, err := valkey.New(valkey.Config{
//	    Address:   "localhost:6379",
//	    KeyPrefix: "oauth:",
//	})
//
// With TLS:
//
//	store, err := valkey.New(valkey.Config{
//	    Address:  "valkey.example.com:6379",
//	    Password: os.Getenv("VALKEY_PASSWORD"),
//	    TLS:      &tls.Config{MinVersion: tls.VersionTLS12},
//	})
package valkey
