package tokengen

import (
	"context"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// JWT mints HS256-signed access tokens. The tokens are still registered with
// the TokenManager, so introspection and scope checks keep working unchanged;
// the JWT form lets resource servers read the claims without a round trip.
type JWT struct {
	key      []byte
	issuer   string
	audience string
}

var _ Generator = (*JWT)(nil)

// accessTokenClaims is the JWT payload of an access token.
type accessTokenClaims struct {
	ClientID string `json:"client_id"`
	Scope    string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// NewJWT creates a JWT generator. The signing key must be at least 32 bytes.
func NewJWT(key []byte, issuer, audience string) (*JWT, error) {
	if len(key) < 32 {
		return nil, fmt.Errorf("jwt signing key must be at least 32 bytes, got %d", len(key))
	}
	return &JWT{key: key, issuer: issuer, audience: audience}, nil
}

// AccessToken implements Generator.
func (g *JWT) AccessToken(_ context.Context, c Claims) (string, error) {
	claims := accessTokenClaims{
		ClientID: c.ClientID,
		Scope:    strings.Join(c.Scopes, " "),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    g.issuer,
			Subject:   c.UserID,
			IssuedAt:  jwt.NewNumericDate(c.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(c.ExpiresAt),
		},
	}
	if g.audience != "" {
		claims.Audience = jwt.ClaimStrings{g.audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

// Parse verifies a token minted by this generator and returns its claims.
func (g *JWT) Parse(token string) (*Claims, error) {
	var claims accessTokenClaims
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if g.issuer != "" {
		opts = append(opts, jwt.WithIssuer(g.issuer))
	}
	if g.audience != "" {
		opts = append(opts, jwt.WithAudience(g.audience))
	}

	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return g.key, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid access token: %w", err)
	}

	out := &Claims{
		ClientID:  claims.ClientID,
		UserID:    claims.Subject,
		Scopes:    strings.Fields(claims.Scope),
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	return out, nil
}
