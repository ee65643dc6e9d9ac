package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/giantswarm/oauth-engine/internal/util"
	"github.com/giantswarm/oauth-engine/storage"
)

// Response types accepted by the authorization endpoint
const (
	ResponseTypeCode  = "code"
	ResponseTypeToken = "token"
)

const schemeHTTPS = "https"

// grantForResponseType maps a response type to the grant a client must be
// registered for. ok is false for unsupported response types.
func grantForResponseType(responseType string) (storage.GrantType, bool) {
	switch responseType {
	case ResponseTypeCode:
		return storage.GrantTypeAuthorizationCode, true
	case ResponseTypeToken:
		return storage.GrantTypeImplicit, true
	default:
		return "", false
	}
}

// ValidateClient validates an authorization request against the registered
// client. Checks run in a fixed order and the first failure wins:
//
//  1. the client exists (ErrInvalidClientID)
//  2. a confidential client only uses response_type=code (ErrConfidentialClientTokenGrant)
//  3. redirectURI is registered for the client, by exact match (ErrInvalidRedirectURI)
//  4. the client is registered for the grant behind responseType (ErrForbidden)
//  5. the requested scopes are valid (*ScopeError)
//  6. in production, redirectURI uses https (ErrHTTPRedirectURI)
//
// Lookup failures other than "not found" are returned wrapped.
func (s *Server) ValidateClient(ctx context.Context, clientID, responseType, redirectURI string, scopes []string) (*storage.Client, error) {
	client, err := s.clients.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return nil, ErrInvalidClientID
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	if client.Confidential && responseType != ResponseTypeCode {
		return client, ErrConfidentialClientTokenGrant
	}

	if !util.Contains(client.RedirectURIs, redirectURI) {
		return client, ErrInvalidRedirectURI
	}

	// Unsupported response types are rejected by the caller after validation
	if grant, ok := grantForResponseType(responseType); ok && client.AllowedGrantType != grant {
		return client, ErrForbidden
	}

	if err := s.validateScopes(client, scopes); err != nil {
		return client, err
	}

	if s.Config.IsProduction() {
		u, err := url.Parse(redirectURI)
		if err != nil || !strings.EqualFold(u.Scheme, schemeHTTPS) {
			return client, ErrHTTPRedirectURI
		}
	}

	return client, nil
}

// AuthenticateClient authenticates a client at the token endpoint.
//
// The secret must match exactly: a client without a secret only
// authenticates when no secret is presented. A non-empty grantType must be
// the client's AllowedGrantType (ErrForbidden), and the password grant is
// reserved to first-party clients. checkConfidential additionally requires
// a confidential client.
func (s *Server) AuthenticateClient(ctx context.Context, clientID, clientSecret string, grantType storage.GrantType, checkConfidential bool) (*storage.Client, error) {
	client, err := s.clients.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return nil, &ClientError{Kind: ClientUnauthorized, ClientID: clientID}
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	if subtle.ConstantTimeCompare([]byte(clientSecret), []byte(client.ClientSecret)) != 1 {
		return nil, &ClientError{Kind: ClientUnauthorized, ClientID: clientID}
	}

	if grantType != "" {
		if grantType != client.AllowedGrantType {
			return nil, ErrForbidden
		}
		if grantType == storage.GrantTypePassword && !client.FirstParty {
			return nil, &ClientError{Kind: ClientNotFirstParty, ClientID: clientID}
		}
	}

	if checkConfidential && !client.Confidential {
		return nil, &ClientError{Kind: ClientNotConfidential, ClientID: clientID}
	}

	return client, nil
}

// clientAuthError translates an AuthenticateClient failure to its wire form
func clientAuthError(err error) *Error {
	switch {
	case errors.Is(err, ErrClientUnauthorized):
		return ErrInvalidClient("client authentication failed")
	case errors.Is(err, ErrClientNotFirstParty):
		return ErrUnauthorizedClient("client is not a first-party client")
	case errors.Is(err, ErrClientNotConfidential):
		return ErrUnauthorizedClient("client is not a confidential client")
	case errors.Is(err, ErrForbidden):
		e := ErrUnauthorizedClient("client is not allowed to use this grant type")
		e.Status = http.StatusForbidden
		return e
	default:
		return ErrServerError("internal server error")
	}
}

// scopeError translates a scope validation failure to its wire form
func scopeError(err error) *Error {
	var se *ScopeError
	if errors.As(err, &se) {
		return ErrInvalidScope(se.Error())
	}
	return ErrServerError("internal server error")
}
