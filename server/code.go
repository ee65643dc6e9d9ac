package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"

	"github.com/giantswarm/oauth-engine/storage"
)

// ValidateCode checks that an authorization code is bound to clientID and
// redirectURI and has not expired. The redirect URI is compared verbatim.
// When the code carries a PKCE challenge, codeVerifier must prove it.
func (s *Server) ValidateCode(code *storage.AuthorizationCode, clientID, redirectURI, codeVerifier string) error {
	if code.ClientID != clientID {
		return ErrCodeClientMismatch
	}
	if !s.Config.Now().Before(code.ExpiresAt) {
		return ErrCodeExpired
	}
	if code.RedirectURI != redirectURI {
		return ErrCodeRedirectMismatch
	}

	if code.CodeChallenge == "" {
		return nil
	}
	return s.validatePKCE(code.CodeChallenge, code.CodeChallengeMethod, codeVerifier)
}

// validatePKCE verifies codeVerifier against a stored challenge (RFC 7636 §4.6)
func (s *Server) validatePKCE(challenge, method, verifier string) error {
	if verifier == "" {
		return ErrPKCEVerifierMissing
	}

	if method == "" {
		if s.Config.RejectPKCEWithoutMethod {
			return ErrPKCEMethodUnsupported
		}
		s.Logger.Warn("Authorization code has a PKCE challenge without method, comparing as plain")
		method = storage.PKCEMethodPlain
	}

	var computed string
	switch method {
	case storage.PKCEMethodS256:
		hash := sha256.Sum256([]byte(verifier))
		computed = base64.RawURLEncoding.EncodeToString(hash[:])
	case storage.PKCEMethodPlain:
		computed = verifier
	default:
		return ErrPKCEMethodUnsupported
	}

	if subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) != 1 {
		return ErrPKCEMismatch
	}
	return nil
}

func isSupportedPKCEMethod(method string) bool {
	return method == storage.PKCEMethodS256 || method == storage.PKCEMethodPlain
}
