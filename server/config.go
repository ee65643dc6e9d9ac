package server

import (
	"log/slog"
	"time"
)

// EnvironmentProduction enforces https redirect URIs on the authorization endpoint.
const EnvironmentProduction = "production"

const (
	// DefaultAccessTokenLifetime is the lifetime of every issued access token
	DefaultAccessTokenLifetime = 3600 * time.Second

	// DefaultDeviceCodeLifetime is how long a device authorization stays pollable
	DefaultDeviceCodeLifetime = 10 * time.Minute

	// DefaultDevicePollInterval is the minimum polling interval announced to devices
	DefaultDevicePollInterval = 5 * time.Second
)

// Config holds protocol engine configuration
type Config struct {
	// ValidScopes is the provider-wide scope allow-list.
	// If empty, any scope passes the provider-wide check.
	ValidScopes []string

	// Environment names the deployment environment. EnvironmentProduction
	// requires https redirect URIs.
	Environment string

	// AccessTokenLifetime is the lifetime of issued access tokens
	AccessTokenLifetime time.Duration // default: 3600s

	// DeviceCodeLifetime is the lifetime of device codes (RFC 8628)
	DeviceCodeLifetime time.Duration // default: 10m

	// DevicePollInterval is the polling interval announced to devices
	DevicePollInterval time.Duration // default: 5s

	// DeviceVerificationURI is the end-user verification page announced by
	// the device authorization endpoint
	DeviceVerificationURI string

	// RejectPKCEWithoutMethod rejects codes carrying a PKCE challenge but no
	// challenge method instead of comparing the verifier as "plain".
	// Default: false
	RejectPKCEWithoutMethod bool

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// IsProduction reports whether the engine runs in the production environment
func (c *Config) IsProduction() bool {
	return c.Environment == EnvironmentProduction
}

func applyDefaults(config *Config, logger *slog.Logger) *Config {
	c := *config

	if c.AccessTokenLifetime <= 0 {
		c.AccessTokenLifetime = DefaultAccessTokenLifetime
	}
	if c.DeviceCodeLifetime <= 0 {
		c.DeviceCodeLifetime = DefaultDeviceCodeLifetime
	}
	if c.DevicePollInterval <= 0 {
		c.DevicePollInterval = DefaultDevicePollInterval
	}
	if c.Now == nil {
		c.Now = time.Now
	}

	if !c.IsProduction() {
		logger.Info("Redirect URIs are not restricted to https",
			"environment", c.Environment)
	}
	if !c.RejectPKCEWithoutMethod {
		logger.Debug("PKCE challenges without a method are compared as plain")
	}

	return &c
}
