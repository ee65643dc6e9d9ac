package tokengen

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Claims describes the access token being minted.
type Claims struct {
	ClientID  string
	UserID    string
	Scopes    []string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Generator mints access token strings.
type Generator interface {
	AccessToken(ctx context.Context, claims Claims) (string, error)
}

// Opaque generates random access tokens that carry no information.
type Opaque struct{}

var _ Generator = Opaque{}

// AccessToken implements Generator.
func (Opaque) AccessToken(_ context.Context, _ Claims) (string, error) {
	return Random(), nil
}

// Random returns a cryptographically secure random string with 256 bits of
// entropy, base64url encoded without padding (43 characters).
func Random() string {
	return oauth2.GenerateVerifier()
}

// userCodeAlphabet omits vowels and easily confused characters (RFC 8628 §6.1).
const userCodeAlphabet = "BCDFGHJKLMNPQRSTVWXZ"

// userCodeByteLimit is the largest multiple of the alphabet size that fits
// in a byte. Bytes at or above it are redrawn so every letter is equally likely.
const userCodeByteLimit = 256 - 256%len(userCodeAlphabet)

// UserCode returns a device flow user code in the form XXXX-XXXX.
func UserCode() (string, error) {
	return userCodeFrom(rand.Reader)
}

func userCodeFrom(r io.Reader) (string, error) {
	var sb strings.Builder
	buf := make([]byte, 8)
	n := 0
	for n < 8 {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", fmt.Errorf("failed to generate user code: %w", err)
		}
		for _, v := range buf {
			if int(v) >= userCodeByteLimit {
				continue
			}
			if n == 4 {
				sb.WriteByte('-')
			}
			sb.WriteByte(userCodeAlphabet[int(v)%len(userCodeAlphabet)])
			if n++; n == 8 {
				break
			}
		}
	}
	return sb.String(), nil
}

// NormalizeUserCode upper-cases a user-entered code and restores the dash so
// that "bcdf ghjk" and "BCDF-GHJK" resolve to the same record.
func NormalizeUserCode(code string) string {
	code = strings.ToUpper(code)
	code = strings.Map(func(r rune) rune {
		if strings.ContainsRune(userCodeAlphabet, r) {
			return r
		}
		return -1
	}, code)
	if len(code) != 8 {
		return code
	}
	return code[:4] + "-" + code[4:]
}
