package security

import "time"

// DefaultClockSkewGracePeriod is how long storage backends keep expired
// records around before purging them, so that a request validated just
// before expiry does not race the cleanup. It never extends validity:
// the engine checks expiry strictly with IsExpired.
const DefaultClockSkewGracePeriod = 5 * time.Second

// IsExpired reports whether expiresAt is not in the future at now.
// A zero expiresAt never expires.
func IsExpired(expiresAt, now time.Time) bool {
	if expiresAt.IsZero() {
		return false
	}
	return !now.Before(expiresAt)
}

// IsPurgeable reports whether a record that expired at expiresAt may be
// removed by a cleanup pass running at now.
func IsPurgeable(expiresAt, now time.Time) bool {
	if expiresAt.IsZero() {
		return false
	}
	return now.After(expiresAt.Add(DefaultClockSkewGracePeriod))
}
