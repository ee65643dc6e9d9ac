package util

// SecretPrefixLength is the number of characters of a token or code that may
// appear in logs
const SecretPrefixLength = 8

// SecretPrefix returns the part of a token, code or secret that may be logged
func SecretPrefix(s string) string {
	if len(s) <= SecretPrefixLength {
		return s
	}
	return s[:SecretPrefixLength]
}
