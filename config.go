package oauth

import (
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Endpoint paths served by the Handler
const (
	PathAuthorize           = "/oauth/authorize"
	PathToken               = "/oauth/token"
	PathTokenInfo           = "/oauth/token_info"
	PathDeviceAuthorization = "/oauth/device_authorization"
	PathDevice              = "/oauth/device"
	PathMetadata            = "/.well-known/oauth-authorization-server"
)

// DefaultSessionCookieName is the cookie carrying the authorization session identifier
const DefaultSessionCookieName = "oauth_session"

// HandlerConfig holds the HTTP adapter configuration
type HandlerConfig struct {
	// Issuer is the externally visible base URL of the server, used for
	// metadata and for deciding whether cookies are marked Secure
	Issuer string

	// SessionCookieName names the session cookie (default: "oauth_session")
	SessionCookieName string

	// SessionCookieMaxAge bounds the session cookie lifetime (default: 24h)
	SessionCookieMaxAge time.Duration

	// SessionID resolves the session identifier of a request when the host
	// manages sessions itself. When nil, the handler keeps its own cookie.
	SessionID func(r *http.Request) (string, bool)

	// RateLimit configures per-IP limiting of the token, introspection and
	// device endpoints
	RateLimit RateLimitConfig

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// Only enable behind a trusted reverse proxy.
	TrustProxy bool

	// TrustedProxyCount is the number of proxies appending to X-Forwarded-For
	TrustedProxyCount int
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	// Rate is requests per second allowed per IP. Zero disables limiting.
	Rate float64

	// Burst is the maximum burst size allowed per IP (default: 2x Rate)
	Burst int
}

func applyHandlerDefaults(config *HandlerConfig) *HandlerConfig {
	c := *config

	c.Issuer = strings.TrimSuffix(c.Issuer, "/")
	if c.SessionCookieName == "" {
		c.SessionCookieName = DefaultSessionCookieName
	}
	if c.SessionCookieMaxAge <= 0 {
		c.SessionCookieMaxAge = 24 * time.Hour
	}
	if c.RateLimit.Rate > 0 && c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = int(c.RateLimit.Rate * 2)
		if c.RateLimit.Burst < 1 {
			c.RateLimit.Burst = 1
		}
	}

	return &c
}

// secureCookies reports whether the issuer is served over https
func (c *HandlerConfig) secureCookies() bool {
	u, err := url.Parse(c.Issuer)
	return err == nil && u.Scheme == "https"
}

func (c *HandlerConfig) endpoint(path string) string {
	return c.Issuer + path
}
