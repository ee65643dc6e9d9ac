package testutil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/giantswarm/oauth-engine/storage"
	"github.com/giantswarm/oauth-engine/storage/memory"
)

// Fixture identifiers seeded by NewStore
const (
	// WebClientID is a confidential authorization_code client with a secret
	WebClientID     = "web"
	WebClientSecret = "web-secret"
	WebRedirectURI  = "https://app.example.com/callback"

	// MobileClientID is a public authorization_code client (PKCE, no secret)
	MobileClientID    = "mobile"
	MobileRedirectURI = "https://mobile.example.com/cb"

	// SPAClientID is a public implicit client
	SPAClientID    = "spa"
	SPARedirectURI = "https://spa.example.com/cb"

	// CLIClientID is a first-party password client without a secret
	CLIClientID = "cli"

	// ThirdPartyCLIClientID is a password client that is not first-party
	ThirdPartyCLIClientID = "third-party-cli"

	// ServiceClientID is a confidential client_credentials client limited to "read"
	ServiceClientID     = "service"
	ServiceClientSecret = "service-secret"

	// PublicServiceClientID is a client_credentials client that is not confidential
	PublicServiceClientID = "public-service"

	// TVClientID is a public device_code client
	TVClientID = "tv"

	// HTTPClientID is a public authorization_code client registered with an http redirect
	HTTPClientID    = "http-client"
	HTTPRedirectURI = "http://insecure.example.com/cb"

	UserID       = "user-alice"
	Username     = "alice"
	UserPassword = "wonderland"

	ResourceServerUsername = "api"
	ResourceServerPassword = "api-secret"
)

// Clients returns the client fixtures seeded by NewStore
func Clients() []storage.Client {
	return []storage.Client{
		{
			ClientID:         WebClientID,
			ClientSecret:     WebClientSecret,
			RedirectURIs:     []string{WebRedirectURI},
			Confidential:     true,
			AllowedGrantType: storage.GrantTypeAuthorizationCode,
		},
		{
			ClientID:         MobileClientID,
			RedirectURIs:     []string{MobileRedirectURI},
			AllowedGrantType: storage.GrantTypeAuthorizationCode,
		},
		{
			ClientID:         SPAClientID,
			RedirectURIs:     []string{SPARedirectURI},
			AllowedGrantType: storage.GrantTypeImplicit,
		},
		{
			ClientID:         CLIClientID,
			FirstParty:       true,
			AllowedGrantType: storage.GrantTypePassword,
		},
		{
			ClientID:         ThirdPartyCLIClientID,
			AllowedGrantType: storage.GrantTypePassword,
		},
		{
			ClientID:         ServiceClientID,
			ClientSecret:     ServiceClientSecret,
			Confidential:     true,
			ValidScopes:      []string{"read"},
			AllowedGrantType: storage.GrantTypeClientCredentials,
		},
		{
			ClientID:         PublicServiceClientID,
			ClientSecret:     "public-secret",
			AllowedGrantType: storage.GrantTypeClientCredentials,
		},
		{
			ClientID:         TVClientID,
			AllowedGrantType: storage.GrantTypeDeviceCode,
		},
		{
			ClientID:         HTTPClientID,
			RedirectURIs:     []string{HTTPRedirectURI},
			AllowedGrantType: storage.GrantTypeAuthorizationCode,
		},
	}
}

// NewStore returns a memory store seeded with the fixtures of this package.
// The store is stopped when the test ends.
func NewStore(t *testing.T) *memory.Store {
	t.Helper()

	store := memory.New()
	t.Cleanup(store.Stop)

	seed := &memory.Seed{
		Clients: Clients(),
		Users: []memory.SeedUser{{
			User:     storage.User{ID: UserID, Username: Username},
			Password: UserPassword,
		}},
		ResourceServers: []storage.ResourceServer{{
			Username: ResourceServerUsername,
			Password: ResourceServerPassword,
		}},
	}
	if err := store.Apply(context.Background(), seed); err != nil {
		t.Fatalf("failed to seed store: %v", err)
	}
	return store
}

// GeneratePKCEPair returns an S256 challenge and its verifier
func GeneratePKCEPair() (challenge, verifier string) {
	verifier = oauth2.GenerateVerifier()
	return oauth2.S256ChallengeFromVerifier(verifier), verifier
}

// MockTime provides a controllable time source for deterministic testing
type MockTime struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockTime creates a new mock time provider
func NewMockTime(t time.Time) *MockTime {
	return &MockTime{now: t}
}

// Now returns the current mock time
func (m *MockTime) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock time forward by the given duration
func (m *MockTime) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// HTTPRequest is a helper for making test HTTP requests
type HTTPRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Form    url.Values
	Body    string
	Cookies []*http.Cookie

	basicUser, basicPass string
}

// NewHTTPRequest creates a new HTTP request helper
func NewHTTPRequest(method, url string) *HTTPRequest {
	return &HTTPRequest{
		Method:  method,
		URL:     url,
		Headers: make(map[string]string),
	}
}

// WithHeader adds a header to the request
func (r *HTTPRequest) WithHeader(key, value string) *HTTPRequest {
	r.Headers[key] = value
	return r
}

// WithForm sets an application/x-www-form-urlencoded body
func (r *HTTPRequest) WithForm(form url.Values) *HTTPRequest {
	r.Form = form
	return r
}

// WithBody sets a raw body
func (r *HTTPRequest) WithBody(body string) *HTTPRequest {
	r.Body = body
	return r
}

// WithCookie adds a cookie to the request
func (r *HTTPRequest) WithCookie(c *http.Cookie) *HTTPRequest {
	r.Cookies = append(r.Cookies, c)
	return r
}

// WithBasicAuth sets Basic authentication credentials
func (r *HTTPRequest) WithBasicAuth(username, password string) *HTTPRequest {
	r.basicUser, r.basicPass = username, password
	return r
}

// Build returns the *http.Request
func (r *HTTPRequest) Build() *http.Request {
	body := r.Body
	if r.Form != nil {
		body = r.Form.Encode()
	}
	req := httptest.NewRequest(r.Method, r.URL, strings.NewReader(body))
	if r.Form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	for _, c := range r.Cookies {
		req.AddCookie(c)
	}
	if r.basicUser != "" {
		req.SetBasicAuth(r.basicUser, r.basicPass)
	}
	return req
}

// Do executes the HTTP request
func (r *HTTPRequest) Do(handler http.Handler) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, r.Build())
	return rr
}
