package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/giantswarm/oauth-engine/internal/util"
	"github.com/giantswarm/oauth-engine/storage"
)

// ValidateScopes checks requested scopes against the provider-wide allow-list
// and the allow-list of the given client. No requested scope is always valid.
func (s *Server) ValidateScopes(ctx context.Context, clientID string, scopes []string) error {
	if len(scopes) == 0 {
		return nil
	}

	client, err := s.clients.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return &ClientError{Kind: ClientUnauthorized, ClientID: clientID}
		}
		return fmt.Errorf("failed to get client: %w", err)
	}

	return s.validateScopes(client, scopes)
}

// validateScopes is ValidateScopes for an already resolved client.
// The provider-wide list is checked first so that a scope nobody knows is
// reported as unknown rather than invalid for this client.
func (s *Server) validateScopes(client *storage.Client, scopes []string) error {
	if len(scopes) == 0 {
		return nil
	}

	if len(s.Config.ValidScopes) > 0 {
		for _, scope := range scopes {
			if !util.Contains(s.Config.ValidScopes, scope) {
				return &ScopeError{Kind: ScopeUnknown, Scope: scope}
			}
		}
	}

	// nil inherits the provider-wide list, an empty list allows nothing
	if client.ValidScopes != nil {
		for _, scope := range scopes {
			if !util.Contains(client.ValidScopes, scope) {
				return &ScopeError{Kind: ScopeInvalid, Scope: scope}
			}
		}
	}

	return nil
}
