package oauth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestApplyHandlerDefaults(t *testing.T) {
	tests := []struct {
		name      string
		config    HandlerConfig
		wantName  string
		wantAge   time.Duration
		wantBurst int
		wantIss   string
	}{
		{
			name:     "empty",
			wantName: DefaultSessionCookieName,
			wantAge:  24 * time.Hour,
		},
		{
			name:      "burst derived from rate",
			config:    HandlerConfig{Issuer: "https://auth.example.com/", RateLimit: RateLimitConfig{Rate: 10}},
			wantName:  DefaultSessionCookieName,
			wantAge:   24 * time.Hour,
			wantBurst: 20,
			wantIss:   "https://auth.example.com",
		},
		{
			name:      "fractional rate keeps a burst of one",
			config:    HandlerConfig{RateLimit: RateLimitConfig{Rate: 0.1}},
			wantName:  DefaultSessionCookieName,
			wantAge:   24 * time.Hour,
			wantBurst: 1,
		},
		{
			name: "explicit values are kept",
			config: HandlerConfig{
				SessionCookieName:   "sid",
				SessionCookieMaxAge: time.Hour,
				RateLimit:           RateLimitConfig{Rate: 5, Burst: 7},
			},
			wantName:  "sid",
			wantAge:   time.Hour,
			wantBurst: 7,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := tt.config
			got := applyHandlerDefaults(&input)

			if got.SessionCookieName != tt.wantName {
				t.Errorf("SessionCookieName = %q, want %q", got.SessionCookieName, tt.wantName)
			}
			if got.SessionCookieMaxAge != tt.wantAge {
				t.Errorf("SessionCookieMaxAge = %v, want %v", got.SessionCookieMaxAge, tt.wantAge)
			}
			if got.RateLimit.Burst != tt.wantBurst {
				t.Errorf("Burst = %d, want %d", got.RateLimit.Burst, tt.wantBurst)
			}
			if got.Issuer != tt.wantIss {
				t.Errorf("Issuer = %q, want %q", got.Issuer, tt.wantIss)
			}
			if input.SessionCookieName != tt.config.SessionCookieName {
				t.Error("applyHandlerDefaults must not modify its input")
			}
		})
	}
}

func TestSessionCookie(t *testing.T) {
	tests := []struct {
		name       string
		issuer     string
		wantSecure bool
	}{
		{"https issuer", "https://auth.example.com", true},
		{"http issuer", "http://localhost:8080", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &Handler{config: applyHandlerDefaults(&HandlerConfig{Issuer: tt.issuer})}

			rr := httptest.NewRecorder()
			id, ok := h.sessionID(rr, httptest.NewRequest(http.MethodGet, "/", nil), true)
			if !ok || id == "" {
				t.Fatal("a session should be started")
			}

			cookies := rr.Result().Cookies()
			if len(cookies) != 1 {
				t.Fatalf("expected one cookie, got %d", len(cookies))
			}
			c := cookies[0]
			if c.Value != id || !c.HttpOnly || c.Secure != tt.wantSecure || c.SameSite != http.SameSiteLaxMode {
				t.Errorf("unexpected cookie %+v", c)
			}

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
			again, ok := h.sessionID(httptest.NewRecorder(), req, false)
			if !ok || again != id {
				t.Errorf("sessionID() = %q, %v, want %q", again, ok, id)
			}

			if _, ok := h.sessionID(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil), false); ok {
				t.Error("no session should be started when create is false")
			}
		})
	}
}
