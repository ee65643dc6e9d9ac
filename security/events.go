package security

// Event type constants for security audit logging.
const (
	// Token lifecycle events

	// EventTokenIssued is logged when a grant issues tokens
	EventTokenIssued = "token_issued"

	// EventTokenRefreshed is logged when a refresh token is exchanged for a new access token
	EventTokenRefreshed = "token_refreshed"

	// EventTokenIntrospected is logged when a resource server introspects a token
	EventTokenIntrospected = "token_introspected"

	// Authorization flow events

	// EventAuthorizationApproved is logged when a user approves an authorization request
	EventAuthorizationApproved = "authorization_approved"

	// EventAuthorizationDenied is logged when a user denies an authorization request
	EventAuthorizationDenied = "authorization_denied"

	// EventAuthorizationCodeReuseDetected is logged when a consumed code is presented again
	EventAuthorizationCodeReuseDetected = "authorization_code_reuse_detected"

	// EventDeviceCodeApproved is logged when a user approves a device authorization
	EventDeviceCodeApproved = "device_code_approved"

	// Security violation events

	// EventAuthFailure is logged when client, user or resource server authentication fails
	EventAuthFailure = "auth_failure"

	// EventLoginWarning is logged when a password grant presents invalid user credentials
	EventLoginWarning = "login_warning"

	// EventRateLimitExceeded is logged when a rate limit is exceeded
	EventRateLimitExceeded = "rate_limit_exceeded"

	// EventInvalidPKCE is logged when PKCE validation fails
	EventInvalidPKCE = "invalid_pkce"

	// EventCSRFMismatch is logged when an authorization approval carries a wrong CSRF token
	EventCSRFMismatch = "csrf_mismatch"
)
