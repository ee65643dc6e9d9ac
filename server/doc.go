// Package server implements the OAuth 2.0 authorization-server protocol engine.
//
// The engine validates clients, scopes, redirect URIs and PKCE proofs, drives
// the token endpoint grants (authorization code, password, client
// credentials, refresh token and device code) and the authorization endpoint
// state machine, and answers token introspection. It holds no state of its
// own between requests: everything persistent lives behind the storage
// collaborator interfaces supplied at construction time.
//
// Errors returned to callers fall in two groups:
//   - validator errors (*ClientError, *ScopeError, *AuthorizationError and the
//     Err* sentinels), matched with errors.Is / errors.As;
//   - wire errors (*Error), carrying the OAuth error code, description and
//     HTTP status the transport should answer with.
//
// Example usage:
//
//	store := memory.New()
//	srv, err := server.New(server.Stores{
//	    Clients:  store,
//	    Codes:    store,
//	    Tokens:   store,
//	    Users:    store,
//	    Sessions: store,
//	}, &server.Config{ValidScopes: []string{"read", "write"}}, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	set, err := srv.Token(ctx, &server.TokenRequest{GrantType: "client_credentials", ...})
package server
