package server

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/giantswarm/oauth-engine/internal/testutil"
	"github.com/giantswarm/oauth-engine/security"
	"github.com/giantswarm/oauth-engine/storage"
	"github.com/giantswarm/oauth-engine/storage/memory"
)

func TestToken_UnsupportedGrantType(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	for _, grant := range []string{"", "implicit", "magic"} {
		_, err := srv.Token(context.Background(), &TokenRequest{GrantType: grant, ClientID: testutil.WebClientID})
		assertOAuthError(t, err, ErrorCodeUnsupportedGrantType, http.StatusBadRequest)
	}
}

func TestExchangeAuthorizationCode(t *testing.T) {
	srv, store := newTestServer(t, nil)
	ctx := context.Background()

	code, err := store.GenerateCode(ctx, testutil.UserID, testutil.WebClientID, testutil.WebRedirectURI, []string{"read"}, nil, "")
	if err != nil {
		t.Fatalf("GenerateCode() error = %v", err)
	}
	req := &TokenRequest{
		GrantType:    string(storage.GrantTypeAuthorizationCode),
		ClientID:     testutil.WebClientID,
		ClientSecret: testutil.WebClientSecret,
		Code:         code,
		RedirectURI:  testutil.WebRedirectURI,
	}

	set, err := srv.Token(ctx, req)
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if set.AccessToken == "" || set.RefreshToken == "" {
		t.Errorf("Token() = %+v, want access and refresh tokens", set)
	}
	if set.ExpiresIn != 3600 {
		t.Errorf("ExpiresIn = %d, want 3600", set.ExpiresIn)
	}
	if !reflect.DeepEqual(set.Scopes, []string{"read"}) {
		t.Errorf("Scopes = %v, want [read]", set.Scopes)
	}

	access, err := store.GetAccessToken(ctx, set.AccessToken)
	if err != nil {
		t.Fatalf("GetAccessToken() error = %v", err)
	}
	if access.UserID != testutil.UserID {
		t.Errorf("UserID = %q, want %q", access.UserID, testutil.UserID)
	}

	// A code is single-use
	_, err = srv.Token(ctx, req)
	assertOAuthError(t, err, ErrorCodeInvalidGrant, http.StatusBadRequest)
}

func TestExchangeAuthorizationCode_Failures(t *testing.T) {
	srv, store := newTestServer(t, nil)
	ctx := context.Background()
	challenge, verifier := testutil.GeneratePKCEPair()

	newCode := func(clientID, redirectURI string, pkce *storage.PKCE) string {
		code, err := store.GenerateCode(ctx, testutil.UserID, clientID, redirectURI, nil, pkce, "")
		if err != nil {
			t.Fatalf("GenerateCode() error = %v", err)
		}
		return code
	}
	s256 := &storage.PKCE{Challenge: challenge, Method: storage.PKCEMethodS256}

	tests := []struct {
		name       string
		req        TokenRequest
		wantCode   string
		wantStatus int
	}{
		{
			name:       "missing code",
			req:        TokenRequest{ClientID: testutil.MobileClientID, RedirectURI: testutil.MobileRedirectURI},
			wantCode:   ErrorCodeInvalidRequest,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing redirect_uri",
			req:        TokenRequest{ClientID: testutil.MobileClientID, Code: "x"},
			wantCode:   ErrorCodeInvalidRequest,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing client_id",
			req:        TokenRequest{Code: "x", RedirectURI: testutil.MobileRedirectURI},
			wantCode:   ErrorCodeInvalidRequest,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "wrong client secret",
			req:        TokenRequest{ClientID: testutil.WebClientID, ClientSecret: "wrong", Code: "x", RedirectURI: testutil.WebRedirectURI},
			wantCode:   ErrorCodeInvalidClient,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "client not registered for the grant",
			req:        TokenRequest{ClientID: testutil.SPAClientID, Code: "x", RedirectURI: testutil.SPARedirectURI},
			wantCode:   ErrorCodeUnauthorizedClient,
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "unknown code",
			req:        TokenRequest{ClientID: testutil.MobileClientID, Code: "unknown", RedirectURI: testutil.MobileRedirectURI},
			wantCode:   ErrorCodeInvalidGrant,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "code issued to another client",
			req:        TokenRequest{ClientID: testutil.MobileClientID, Code: newCode(testutil.HTTPClientID, testutil.MobileRedirectURI, nil), RedirectURI: testutil.MobileRedirectURI},
			wantCode:   ErrorCodeInvalidGrant,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "redirect mismatch",
			req:        TokenRequest{ClientID: testutil.MobileClientID, Code: newCode(testutil.MobileClientID, testutil.MobileRedirectURI, nil), RedirectURI: "https://other.example.com"},
			wantCode:   ErrorCodeInvalidGrant,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "wrong PKCE verifier",
			req:        TokenRequest{ClientID: testutil.MobileClientID, Code: newCode(testutil.MobileClientID, testutil.MobileRedirectURI, s256), RedirectURI: testutil.MobileRedirectURI, CodeVerifier: verifier + "x"},
			wantCode:   ErrorCodeInvalidGrant,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing PKCE verifier",
			req:        TokenRequest{ClientID: testutil.MobileClientID, Code: newCode(testutil.MobileClientID, testutil.MobileRedirectURI, s256), RedirectURI: testutil.MobileRedirectURI},
			wantCode:   ErrorCodeInvalidGrant,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.GrantType = string(storage.GrantTypeAuthorizationCode)
			_, err := srv.Token(ctx, &tt.req)
			assertOAuthError(t, err, tt.wantCode, tt.wantStatus)
		})
	}
}

func TestExchangeAuthorizationCode_PKCE(t *testing.T) {
	srv, store := newTestServer(t, nil)
	ctx := context.Background()
	challenge, verifier := testutil.GeneratePKCEPair()

	code, _ := store.GenerateCode(ctx, testutil.UserID, testutil.MobileClientID, testutil.MobileRedirectURI, nil,
		&storage.PKCE{Challenge: challenge, Method: storage.PKCEMethodS256}, "")

	set, err := srv.Token(ctx, &TokenRequest{
		GrantType:    string(storage.GrantTypeAuthorizationCode),
		ClientID:     testutil.MobileClientID,
		Code:         code,
		RedirectURI:  testutil.MobileRedirectURI,
		CodeVerifier: verifier,
	})
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if set.AccessToken == "" {
		t.Error("expected an access token")
	}
}

func TestExchangeAuthorizationCode_FailedValidationKeepsCode(t *testing.T) {
	srv, store := newTestServer(t, nil)
	ctx := context.Background()

	code, _ := store.GenerateCode(ctx, testutil.UserID, testutil.MobileClientID, testutil.MobileRedirectURI, nil, nil, "")
	_, err := srv.Token(ctx, &TokenRequest{
		GrantType:   string(storage.GrantTypeAuthorizationCode),
		ClientID:    testutil.MobileClientID,
		Code:        code,
		RedirectURI: "https://other.example.com",
	})
	assertOAuthError(t, err, ErrorCodeInvalidGrant, http.StatusBadRequest)

	if _, err := store.GetCode(ctx, code); err != nil {
		t.Errorf("a failed exchange must not consume the code, GetCode() error = %v", err)
	}
}

// racingCodes simulates another request consuming the code between lookup and consumption
type racingCodes struct {
	*memory.Store
}

func (r racingCodes) CodeUsed(ctx context.Context, code *storage.AuthorizationCode) error {
	_ = r.Store.CodeUsed(ctx, code)
	return storage.ErrCodeNotFound
}

// recordingTokens remembers the token strings it issued
type recordingTokens struct {
	*memory.Store
	access, refresh []string
}

func (r *recordingTokens) GenerateAccessRefreshTokens(ctx context.Context, clientID, userID string, scopes []string, lifetime time.Duration) (*storage.AccessToken, *storage.RefreshToken, error) {
	a, rt, err := r.Store.GenerateAccessRefreshTokens(ctx, clientID, userID, scopes, lifetime)
	if err == nil {
		r.access = append(r.access, a.Token)
		r.refresh = append(r.refresh, rt.Token)
	}
	return a, rt, err
}

func TestExchangeAuthorizationCode_LostRaceRevokesTokens(t *testing.T) {
	store := testutil.NewStore(t)
	tokens := &recordingTokens{Store: store}
	srv, err := New(Stores{
		Clients:  store,
		Codes:    racingCodes{Store: store},
		Tokens:   tokens,
		Sessions: store,
	}, nil, discardLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()

	code, _ := store.GenerateCode(ctx, testutil.UserID, testutil.MobileClientID, testutil.MobileRedirectURI, nil, nil, "")
	_, err = srv.Token(ctx, &TokenRequest{
		GrantType:   string(storage.GrantTypeAuthorizationCode),
		ClientID:    testutil.MobileClientID,
		Code:        code,
		RedirectURI: testutil.MobileRedirectURI,
	})
	assertOAuthError(t, err, ErrorCodeInvalidGrant, http.StatusBadRequest)

	if len(tokens.access) != 1 {
		t.Fatalf("issued %d token pairs, want 1", len(tokens.access))
	}
	if _, err := store.GetAccessToken(ctx, tokens.access[0]); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("orphaned access token should be revoked, error = %v", err)
	}
	if _, err := store.GetRefreshToken(ctx, tokens.refresh[0]); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("orphaned refresh token should be revoked, error = %v", err)
	}
}

func TestPasswordGrant(t *testing.T) {
	srv, store := newTestServer(t, &Config{ValidScopes: []string{"read", "write"}})
	ctx := context.Background()

	tests := []struct {
		name       string
		req        TokenRequest
		wantCode   string
		wantStatus int
	}{
		{"valid", TokenRequest{ClientID: testutil.CLIClientID, Username: testutil.Username, Password: testutil.UserPassword, Scopes: []string{"read"}}, "", http.StatusOK},
		{"missing username", TokenRequest{ClientID: testutil.CLIClientID, Password: testutil.UserPassword}, ErrorCodeInvalidRequest, http.StatusBadRequest},
		{"missing password", TokenRequest{ClientID: testutil.CLIClientID, Username: testutil.Username}, ErrorCodeInvalidRequest, http.StatusBadRequest},
		{"missing client_id", TokenRequest{Username: testutil.Username, Password: testutil.UserPassword}, ErrorCodeInvalidRequest, http.StatusBadRequest},
		{"third-party client", TokenRequest{ClientID: testutil.ThirdPartyCLIClientID, Username: testutil.Username, Password: testutil.UserPassword}, ErrorCodeUnauthorizedClient, http.StatusBadRequest},
		{"unknown scope", TokenRequest{ClientID: testutil.CLIClientID, Username: testutil.Username, Password: testutil.UserPassword, Scopes: []string{"admin"}}, ErrorCodeInvalidScope, http.StatusBadRequest},
		{"wrong password", TokenRequest{ClientID: testutil.CLIClientID, Username: testutil.Username, Password: "wrong"}, ErrorCodeInvalidGrant, http.StatusBadRequest},
		{"unknown user", TokenRequest{ClientID: testutil.CLIClientID, Username: "mallory", Password: "x"}, ErrorCodeInvalidGrant, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.GrantType = string(storage.GrantTypePassword)
			set, err := srv.Token(ctx, &tt.req)
			if tt.wantCode != "" {
				assertOAuthError(t, err, tt.wantCode, tt.wantStatus)
				return
			}
			if err != nil {
				t.Fatalf("Token() error = %v", err)
			}
			access, err := store.GetAccessToken(ctx, set.AccessToken)
			if err != nil {
				t.Fatalf("GetAccessToken() error = %v", err)
			}
			if access.UserID != testutil.UserID {
				t.Errorf("UserID = %q, want %q", access.UserID, testutil.UserID)
			}
			if set.RefreshToken == "" {
				t.Error("password grant should issue a refresh token")
			}
		})
	}
}

func TestPasswordGrant_LoginWarning(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	store := testutil.NewStore(t)
	srv, err := New(Stores{Clients: store, Codes: store, Tokens: store, Users: store, Sessions: store}, nil, logger)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var events []string
	auditor := security.NewAuditor(discardLogger(), true)
	auditor.OnEvent(func(eventType string) { events = append(events, eventType) })
	srv.SetAuditor(auditor)

	_, err = srv.Token(context.Background(), &TokenRequest{
		GrantType: string(storage.GrantTypePassword),
		ClientID:  testutil.CLIClientID,
		Username:  testutil.Username,
		Password:  "wrong",
		ClientIP:  "192.0.2.1",
	})
	assertOAuthError(t, err, ErrorCodeInvalidGrant, http.StatusBadRequest)

	if want := "LOGIN WARNING: Invalid login attempt for user " + testutil.Username; !strings.Contains(logs.String(), want) {
		t.Errorf("logs = %q, want %q", logs.String(), want)
	}
	if len(events) != 1 || events[0] != security.EventLoginWarning {
		t.Errorf("audit events = %v, want [%s]", events, security.EventLoginWarning)
	}
}

func TestPasswordGrant_WithoutUserManager(t *testing.T) {
	store := testutil.NewStore(t)
	srv, err := New(Stores{Clients: store, Codes: store, Tokens: store, Sessions: store}, nil, discardLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = srv.Token(context.Background(), &TokenRequest{
		GrantType: string(storage.GrantTypePassword),
		ClientID:  testutil.CLIClientID,
		Username:  testutil.Username,
		Password:  testutil.UserPassword,
	})
	assertOAuthError(t, err, ErrorCodeUnsupportedGrantType, http.StatusBadRequest)
}

func TestClientCredentialsGrant(t *testing.T) {
	srv, store := newTestServer(t, nil)
	ctx := context.Background()

	tests := []struct {
		name       string
		req        TokenRequest
		wantCode   string
		wantStatus int
	}{
		{"valid", TokenRequest{ClientID: testutil.ServiceClientID, ClientSecret: testutil.ServiceClientSecret, Scopes: []string{"read"}}, "", http.StatusOK},
		{"missing secret", TokenRequest{ClientID: testutil.ServiceClientID}, ErrorCodeInvalidRequest, http.StatusBadRequest},
		{"wrong secret", TokenRequest{ClientID: testutil.ServiceClientID, ClientSecret: "wrong"}, ErrorCodeInvalidClient, http.StatusUnauthorized},
		{"not confidential", TokenRequest{ClientID: testutil.PublicServiceClientID, ClientSecret: "public-secret"}, ErrorCodeUnauthorizedClient, http.StatusBadRequest},
		{"wrong grant", TokenRequest{ClientID: testutil.WebClientID, ClientSecret: testutil.WebClientSecret}, ErrorCodeUnauthorizedClient, http.StatusForbidden},
		{"scope not allowed for client", TokenRequest{ClientID: testutil.ServiceClientID, ClientSecret: testutil.ServiceClientSecret, Scopes: []string{"write"}}, ErrorCodeInvalidScope, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.GrantType = string(storage.GrantTypeClientCredentials)
			set, err := srv.Token(ctx, &tt.req)
			if tt.wantCode != "" {
				assertOAuthError(t, err, tt.wantCode, tt.wantStatus)
				return
			}
			if err != nil {
				t.Fatalf("Token() error = %v", err)
			}
			access, _ := store.GetAccessToken(ctx, set.AccessToken)
			if access.UserID != "" {
				t.Errorf("client credentials token should carry no user, got %q", access.UserID)
			}
			if set.RefreshToken == "" {
				t.Error("client credentials grant should issue a refresh token")
			}
		})
	}
}

func TestRefreshTokenGrant(t *testing.T) {
	ctx := context.Background()

	issue := func(t *testing.T, store *memory.Store, scopes []string) *storage.RefreshToken {
		t.Helper()
		_, refresh, err := store.GenerateAccessRefreshTokens(ctx, testutil.WebClientID, testutil.UserID, scopes, time.Hour)
		if err != nil {
			t.Fatalf("GenerateAccessRefreshTokens() error = %v", err)
		}
		return refresh
	}
	request := func(refreshToken string, scopes ...string) *TokenRequest {
		return &TokenRequest{
			GrantType:    string(storage.GrantTypeRefreshToken),
			ClientID:     testutil.WebClientID,
			ClientSecret: testutil.WebClientSecret,
			RefreshToken: refreshToken,
			Scopes:       scopes,
		}
	}

	t.Run("keeps scopes when none requested", func(t *testing.T) {
		srv, store := newTestServer(t, nil)
		refresh := issue(t, store, []string{"read", "write"})

		set, err := srv.Token(ctx, request(refresh.Token))
		if err != nil {
			t.Fatalf("Token() error = %v", err)
		}
		if set.RefreshToken != "" {
			t.Error("refresh grant must not issue a new refresh token")
		}
		if !reflect.DeepEqual(set.Scopes, []string{"read", "write"}) {
			t.Errorf("Scopes = %v, want [read write]", set.Scopes)
		}
	})

	t.Run("narrows scopes", func(t *testing.T) {
		srv, store := newTestServer(t, nil)
		refresh := issue(t, store, []string{"read", "write"})

		set, err := srv.Token(ctx, request(refresh.Token, "read"))
		if err != nil {
			t.Fatalf("Token() error = %v", err)
		}
		access, _ := store.GetAccessToken(ctx, set.AccessToken)
		if !reflect.DeepEqual(access.Scopes, []string{"read"}) {
			t.Errorf("access Scopes = %v, want [read]", access.Scopes)
		}
		updated, _ := store.GetRefreshToken(ctx, refresh.Token)
		if !reflect.DeepEqual(updated.Scopes, []string{"read"}) {
			t.Errorf("refresh Scopes = %v, want [read]", updated.Scopes)
		}

		// Narrowing is permanent
		_, err = srv.Token(ctx, request(refresh.Token, "write"))
		assertOAuthError(t, err, ErrorCodeInvalidScope, http.StatusBadRequest)
	})

	t.Run("rejects elevated scopes", func(t *testing.T) {
		srv, store := newTestServer(t, nil)
		refresh := issue(t, store, []string{"read"})

		_, err := srv.Token(ctx, request(refresh.Token, "read", "write"))
		assertOAuthError(t, err, ErrorCodeInvalidScope, http.StatusBadRequest)

		unchanged, _ := store.GetRefreshToken(ctx, refresh.Token)
		if !reflect.DeepEqual(unchanged.Scopes, []string{"read"}) {
			t.Errorf("rejected request must not change scopes, got %v", unchanged.Scopes)
		}
	})

	t.Run("token without scopes rejects any scope", func(t *testing.T) {
		srv, store := newTestServer(t, nil)
		refresh := issue(t, store, nil)

		_, err := srv.Token(ctx, request(refresh.Token, "read"))
		assertOAuthError(t, err, ErrorCodeInvalidScope, http.StatusBadRequest)
	})

	t.Run("token of another client", func(t *testing.T) {
		srv, store := newTestServer(t, nil)
		_, refresh, _ := store.GenerateAccessRefreshTokens(ctx, testutil.ServiceClientID, "", nil, time.Hour)

		_, err := srv.Token(ctx, request(refresh.Token))
		assertOAuthError(t, err, ErrorCodeInvalidGrant, http.StatusBadRequest)
	})

	t.Run("unknown token", func(t *testing.T) {
		srv, _ := newTestServer(t, nil)
		_, err := srv.Token(ctx, request("unknown"))
		assertOAuthError(t, err, ErrorCodeInvalidGrant, http.StatusBadRequest)
	})

	t.Run("public client", func(t *testing.T) {
		srv, _ := newTestServer(t, nil)
		_, err := srv.Token(ctx, &TokenRequest{
			GrantType:    string(storage.GrantTypeRefreshToken),
			ClientID:     testutil.PublicServiceClientID,
			ClientSecret: "public-secret",
			RefreshToken: "rt",
		})
		assertOAuthError(t, err, ErrorCodeUnauthorizedClient, http.StatusBadRequest)
	})

	t.Run("missing fields", func(t *testing.T) {
		srv, _ := newTestServer(t, nil)
		_, err := srv.Token(ctx, &TokenRequest{GrantType: string(storage.GrantTypeRefreshToken), ClientID: testutil.WebClientID, ClientSecret: testutil.WebClientSecret})
		assertOAuthError(t, err, ErrorCodeInvalidRequest, http.StatusBadRequest)
	})
}
