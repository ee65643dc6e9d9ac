// Package remote provides a read-only storage.TokenManager that resolves
// access tokens by asking another engine instance.
//
// Resource servers that do not share a database with the authorization
// server use it to validate bearer tokens through the authorization server's
// introspection endpoint (POST /oauth/token_info). Every lookup authenticates
// with the resource server's Basic-auth credentials.
//
// Issuing and refreshing tokens is not possible through this backend: the
// Generate* methods and UpdateRefreshToken return storage.ErrReadOnly, and
// GetRefreshToken always reports storage.ErrTokenNotFound.
//
// Active results are cached for a short time (never beyond the token's own
// expiry) to spare the authorization server a round trip per request.
//
// Example:
//
//	tokens, err := remote.New(remote.Config{
//	    Endpoint: "https://auth.example.com/oauth/token_info",
//	    Username: "api",
//	    Password: os.Getenv("RESOURCE_SERVER_PASSWORD"),
//	})
//	if err != nil {
//	    return err
//	}
//	token, err := tokens.GetAccessToken(ctx, bearer)
package remote
