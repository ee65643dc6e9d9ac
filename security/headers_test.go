package security

import (
	"net/http/httptest"
	"testing"
)

func TestSetNoStoreHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	SetNoStoreHeaders(w)

	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want %q", got, "no-store")
	}
	if got := w.Header().Get("Pragma"); got != "no-cache" {
		t.Errorf("Pragma = %q, want %q", got, "no-cache")
	}
}

func TestSetSecurityHeaders(t *testing.T) {
	tests := []struct {
		name     string
		issuer   string
		wantHSTS bool
	}{
		{"https issuer", "https://auth.example.com", true},
		{"http issuer", "http://localhost:8080", false},
		{"empty issuer", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			SetSecurityHeaders(w, tt.issuer)

			for _, h := range []string{"X-Frame-Options", "X-Content-Type-Options", "Content-Security-Policy", "Referrer-Policy", "Cache-Control", "Pragma"} {
				if w.Header().Get(h) == "" {
					t.Errorf("header %s not set", h)
				}
			}
			if hasHSTS := w.Header().Get("Strict-Transport-Security") != ""; hasHSTS != tt.wantHSTS {
				t.Errorf("HSTS set = %v, want %v", hasHSTS, tt.wantHSTS)
			}
		})
	}
}
