package server

import (
	"context"
	"errors"
	"testing"

	"github.com/giantswarm/oauth-engine/internal/testutil"
	"github.com/giantswarm/oauth-engine/storage"
)

func TestValidateScopes(t *testing.T) {
	srv, _ := newTestServer(t, &Config{ValidScopes: []string{"read", "write", "admin"}})
	ctx := context.Background()

	tests := []struct {
		name     string
		clientID string
		scopes   []string
		wantErr  error
	}{
		{"no scopes", testutil.ServiceClientID, nil, nil},
		{"allowed for client", testutil.ServiceClientID, []string{"read"}, nil},
		{"unknown to provider", testutil.ServiceClientID, []string{"delete"}, ErrScopeUnknown},
		{"known but not allowed for client", testutil.ServiceClientID, []string{"write"}, ErrScopeInvalid},
		{"unknown wins over invalid", testutil.ServiceClientID, []string{"write", "delete"}, ErrScopeUnknown},
		{"client inherits provider list", testutil.WebClientID, []string{"read", "admin"}, nil},
		{"unknown client", "nonexistent", []string{"read"}, ErrClientUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := srv.ValidateScopes(ctx, tt.clientID, tt.scopes)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateScopes() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateScopes() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateScopes_NoProviderList(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	if err := srv.validateScopes(&storage.Client{}, []string{"anything"}); err != nil {
		t.Errorf("validateScopes() without any allow-list error = %v", err)
	}

	emptyList := &storage.Client{ValidScopes: []string{}}
	if err := srv.validateScopes(emptyList, []string{"read"}); !errors.Is(err, ErrScopeInvalid) {
		t.Errorf("validateScopes() with an empty client list error = %v, want ErrScopeInvalid", err)
	}
	if err := srv.validateScopes(emptyList, nil); err != nil {
		t.Errorf("validateScopes() with no requested scope error = %v", err)
	}
}

func TestScopeError_Message(t *testing.T) {
	err := &ScopeError{Kind: ScopeInvalid, Scope: "write"}
	if got := err.Error(); got != "invalid scope: write" {
		t.Errorf("Error() = %q", got)
	}
	if got := ErrScopeElevated.Error(); got != "elevated scopes" {
		t.Errorf("Error() = %q, want elevated scopes", got)
	}
}
