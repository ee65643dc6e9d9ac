package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"go.opentelemetry.io/otel/attribute"

	"github.com/giantswarm/oauth-engine/instrumentation"
	"github.com/giantswarm/oauth-engine/internal/util"
	"github.com/giantswarm/oauth-engine/security"
	"github.com/giantswarm/oauth-engine/storage"
	"github.com/giantswarm/oauth-engine/tokengen"
)

// SessionKeyCSRFToken is the session key holding the authorization CSRF token
const SessionKeyCSRFToken = "oauth_csrf_token"

// AuthorizationRequest is a request to the authorization endpoint. It is
// built per request and never persisted; only its CSRF token is bound to
// the user's session.
type AuthorizationRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scopes              []string
	State               string
	CSRFToken           string
	CodeChallenge       string
	CodeChallengeMethod string
	Nonce               string
}

// ValidateAuthorizationRequest runs ValidateClient for the request and checks
// its PKCE parameters. A missing code_challenge_method defaults to plain.
func (s *Server) ValidateAuthorizationRequest(ctx context.Context, req *AuthorizationRequest) (*storage.Client, error) {
	ctx, span := s.tracer.Start(ctx, "server.ValidateAuthorizationRequest")
	defer span.End()
	instrumentation.AddOAuthFlowAttributes(span, req.ClientID, "", util.JoinScopes(req.Scopes))
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrResponseType, req.ResponseType))

	client, err := s.ValidateClient(ctx, req.ClientID, req.ResponseType, req.RedirectURI, req.Scopes)
	if err != nil {
		instrumentation.RecordError(span, err)
		return client, err
	}

	if req.CodeChallenge != "" {
		if req.CodeChallengeMethod == "" {
			req.CodeChallengeMethod = storage.PKCEMethodPlain
		}
		if !isSupportedPKCEMethod(req.CodeChallengeMethod) {
			instrumentation.RecordError(span, ErrInvalidCodeChallengeMethod)
			return client, ErrInvalidCodeChallengeMethod
		}
		instrumentation.AddPKCEAttributes(span, req.CodeChallengeMethod)
	}

	instrumentation.SetSpanSuccess(span)
	return client, nil
}

// IsRegisteredRedirect reports whether redirectURI is registered for clientID.
// Errors may only be redirected to a registered URI of an existing client.
func (s *Server) IsRegisteredRedirect(ctx context.Context, clientID, redirectURI string) bool {
	client, err := s.clients.GetClient(ctx, clientID)
	if err != nil {
		return false
	}
	return util.Contains(client.RedirectURIs, redirectURI)
}

// IssueCSRFToken generates a fresh CSRF token and binds it to the session,
// replacing any earlier token.
func (s *Server) IssueCSRFToken(ctx context.Context, sessionID string) (string, error) {
	token := tokengen.Random()
	if err := s.sessions.Set(ctx, sessionID, SessionKeyCSRFToken, token); err != nil {
		return "", fmt.Errorf("failed to store csrf token: %w", err)
	}
	return token, nil
}

// VerifyCSRFToken checks token against the value bound to the session.
// A session without a token never verifies.
func (s *Server) VerifyCSRFToken(ctx context.Context, sessionID, token string) error {
	stored, err := s.sessions.Get(ctx, sessionID, SessionKeyCSRFToken)
	if err != nil {
		if errors.Is(err, storage.ErrSessionValueNotFound) {
			return ErrCSRFMismatch
		}
		return fmt.Errorf("failed to get csrf token: %w", err)
	}
	if stored == "" || subtle.ConstantTimeCompare([]byte(stored), []byte(token)) != 1 {
		return ErrCSRFMismatch
	}
	return nil
}

// ApproveAuthorization issues the grant for an approved request on behalf of
// userID and returns the redirect location. response_type=token appends the
// access token as a URL fragment; response_type=code appends a single-use
// code to the query. Any other response type redirects with invalid_request.
func (s *Server) ApproveAuthorization(ctx context.Context, req *AuthorizationRequest, userID, clientIP string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "server.ApproveAuthorization")
	defer span.End()
	instrumentation.AddOAuthFlowAttributes(span, req.ClientID, userID, util.JoinScopes(req.Scopes))

	params := url.Values{}
	fragment := false

	switch req.ResponseType {
	case ResponseTypeToken:
		access, err := s.tokens.GenerateAccessToken(ctx, req.ClientID, userID, req.Scopes, s.Config.AccessTokenLifetime)
		if err != nil {
			instrumentation.RecordError(span, err)
			return "", fmt.Errorf("failed to generate access token: %w", err)
		}
		fragment = true
		params.Set("token_type", "bearer")
		params.Set("access_token", access.Token)
		params.Set("expires_in", strconv.FormatInt(int64(s.Config.AccessTokenLifetime.Seconds()), 10))
		s.Auditor.LogTokenIssued(userID, req.ClientID, clientIP, string(storage.GrantTypeImplicit), util.JoinScopes(req.Scopes))

	case ResponseTypeCode:
		var pkce *storage.PKCE
		if req.CodeChallenge != "" {
			pkce = &storage.PKCE{Challenge: req.CodeChallenge, Method: req.CodeChallengeMethod}
		}
		code, err := s.codes.GenerateCode(ctx, userID, req.ClientID, req.RedirectURI, req.Scopes, pkce, req.Nonce)
		if err != nil {
			instrumentation.RecordError(span, err)
			return "", fmt.Errorf("failed to generate authorization code: %w", err)
		}
		params.Set("code", code)

	default:
		s.Instrumentation.Metrics().RecordAuthorizationRequest(ctx, req.ResponseType, "redirect_error")
		return ErrorRedirect(req.RedirectURI, ErrInvalidRequest("invalid response_type"), req.State, false)
	}

	if len(req.Scopes) > 0 {
		params.Set("scope", util.JoinScopes(req.Scopes))
	}
	if req.State != "" {
		params.Set("state", req.State)
	}

	s.Auditor.LogEvent(security.Event{
		Type:      security.EventAuthorizationApproved,
		UserID:    userID,
		ClientID:  req.ClientID,
		IPAddress: clientIP,
		Details:   map[string]any{"response_type": req.ResponseType},
	})
	s.Instrumentation.Metrics().RecordAuthorizationRequest(ctx, req.ResponseType, "approved")
	instrumentation.SetSpanSuccess(span)

	return buildRedirect(req.RedirectURI, params, fragment)
}

// DenyAuthorization returns the redirect location for a request the user declined
func (s *Server) DenyAuthorization(ctx context.Context, req *AuthorizationRequest, userID, clientIP string) (string, error) {
	s.Auditor.LogEvent(security.Event{
		Type:      security.EventAuthorizationDenied,
		UserID:    userID,
		ClientID:  req.ClientID,
		IPAddress: clientIP,
	})
	s.Instrumentation.Metrics().RecordAuthorizationRequest(ctx, req.ResponseType, "denied")
	return ErrorRedirect(req.RedirectURI, NewError(ErrorCodeAccessDenied, "the user denied the request", 0), req.State, req.ResponseType == ResponseTypeToken)
}

// ErrorRedirect builds the redirect location reporting oauthErr to the client.
// state is preserved when non-empty.
func ErrorRedirect(redirectURI string, oauthErr *Error, state string, fragment bool) (string, error) {
	params := url.Values{}
	params.Set("error", oauthErr.Code)
	if oauthErr.Description != "" {
		params.Set("error_description", oauthErr.Description)
	}
	if state != "" {
		params.Set("state", state)
	}
	return buildRedirect(redirectURI, params, fragment)
}

// buildRedirect merges params into the query of redirectURI, or replaces its
// fragment when fragment is true.
func buildRedirect(redirectURI string, params url.Values, fragment bool) (string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", fmt.Errorf("invalid redirect_uri: %w", err)
	}

	if fragment {
		u.Fragment = ""
		u.RawFragment = ""
		return u.String() + "#" + params.Encode(), nil
	}

	query := u.Query()
	for key, values := range params {
		query[key] = values
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}
