package oauth

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/giantswarm/oauth-engine/internal/util"
	"github.com/giantswarm/oauth-engine/server"
	"github.com/giantswarm/oauth-engine/storage"
)

// Form fields of the consent form posted back to the authorization endpoint
const (
	FormApplicationAuthorized = "applicationAuthorized"
	FormCSRFToken             = "csrfToken"
)

// Errors reported to AuthorizeHandler.HandleAuthorizationError in addition
// to the engine's client validation errors
var (
	ErrMissingClientParameters = errors.New("client_id and redirect_uri are required")
	ErrUnsupportedResponseType = errors.New("unsupported response_type")
)

// ConsentRequest is a validated authorization request awaiting the user's
// decision. The consent page must post CSRFToken back as "csrfToken" along
// with "applicationAuthorized" to the same URL.
type ConsentRequest struct {
	*server.AuthorizationRequest

	// Client is the registered client asking for authorization
	Client *storage.Client
}

// AuthorizationFailure describes an authorization request that cannot be
// answered with a redirect because the client or its redirect URI could
// not be verified.
type AuthorizationFailure struct {
	// Err is the cause, e.g. server.ErrInvalidClientID or server.ErrForbidden
	Err error

	// Status is the HTTP status the error page should be served with
	Status int
}

// AuthorizeHandler renders the pages of the authorization endpoint. The
// engine never renders HTML itself.
type AuthorizeHandler interface {
	// HandleAuthorizationRequest renders the consent page
	HandleAuthorizationRequest(w http.ResponseWriter, r *http.Request, req *ConsentRequest)

	// HandleAuthorizationError renders an error page
	HandleAuthorizationError(w http.ResponseWriter, r *http.Request, failure *AuthorizationFailure)
}

// ServeAuthorization handles the authorization endpoint. GET validates the
// request and delegates to the consent renderer; POST records the
// authenticated user's decision and redirects back to the client.
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.instrument("authorize", h.serveAuthorizationRequest)(w, r)
	case http.MethodPost:
		h.instrument("authorize", h.serveAuthorizationDecision)(w, r)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func authorizationRequestFrom(values url.Values) *server.AuthorizationRequest {
	return &server.AuthorizationRequest{
		ResponseType:        values.Get("response_type"),
		ClientID:            values.Get("client_id"),
		RedirectURI:         values.Get("redirect_uri"),
		Scopes:              util.ParseScopes(values.Get("scope")),
		State:               values.Get("state"),
		CodeChallenge:       values.Get("code_challenge"),
		CodeChallengeMethod: values.Get("code_challenge_method"),
		Nonce:               values.Get("nonce"),
	}
}

func isSupportedResponseType(responseType string) bool {
	return responseType == server.ResponseTypeCode || responseType == server.ResponseTypeToken
}

func (h *Handler) serveAuthorizationRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(ctx)
	req := authorizationRequestFrom(r.URL.Query())

	if req.ClientID == "" || req.RedirectURI == "" {
		h.renderFailure(w, r, ErrMissingClientParameters, http.StatusBadRequest)
		return
	}

	if !isSupportedResponseType(req.ResponseType) {
		h.redirectOrRender(w, r, req, ErrInvalidRequest("response_type must be code or token"), ErrUnsupportedResponseType)
		return
	}

	client, err := h.server.ValidateAuthorizationRequest(ctx, req)
	if err != nil {
		h.handleAuthorizationRequestError(w, r, req, err)
		return
	}

	sessionID, ok := h.sessionID(w, r, true)
	if !ok {
		logger.Debug("Authorization request without session", "client_id", req.ClientID)
		h.renderFailure(w, r, errNoSession, http.StatusBadRequest)
		return
	}
	csrfToken, err := h.server.IssueCSRFToken(ctx, sessionID)
	if err != nil {
		logger.Error("Failed to issue CSRF token", "error", err)
		h.renderFailure(w, r, err, http.StatusInternalServerError)
		return
	}
	req.CSRFToken = csrfToken

	logger.Debug("Authorization request validated",
		"client_id", req.ClientID,
		"response_type", req.ResponseType)

	h.renderer.HandleAuthorizationRequest(w, r, &ConsentRequest{
		AuthorizationRequest: req,
		Client:               client,
	})
}

// handleAuthorizationRequestError answers a failed GET validation. Errors
// about the client identity or its redirect URI are rendered locally; the
// remaining ones are redirected to the verified redirect URI.
func (h *Handler) handleAuthorizationRequestError(w http.ResponseWriter, r *http.Request, req *server.AuthorizationRequest, err error) {
	var scopeErr *server.ScopeError

	switch {
	case errors.Is(err, server.ErrInvalidClientID),
		errors.Is(err, server.ErrInvalidRedirectURI),
		errors.Is(err, server.ErrHTTPRedirectURI):
		h.renderFailure(w, r, err, http.StatusBadRequest)
	case errors.Is(err, server.ErrForbidden):
		h.renderFailure(w, r, err, http.StatusForbidden)
	case errors.Is(err, server.ErrConfidentialClientTokenGrant):
		h.redirectOrRender(w, r, req, ErrUnauthorizedClient(err.Error()), err)
	case errors.As(err, &scopeErr):
		h.redirectOrRender(w, r, req, ErrInvalidScope(scopeErr.Error()), err)
	case errors.Is(err, server.ErrInvalidCodeChallengeMethod):
		h.redirectOrRender(w, r, req, ErrInvalidRequest(err.Error()), err)
	default:
		h.requestLogger(r.Context()).Error("Authorization request validation failed", "error", err)
		h.renderFailure(w, r, err, http.StatusInternalServerError)
	}
}

// redirectOrRender reports oauthErr to the client's redirect URI when it is
// registered for the client, and renders cause locally otherwise.
func (h *Handler) redirectOrRender(w http.ResponseWriter, r *http.Request, req *server.AuthorizationRequest, oauthErr *OAuthError, cause error) {
	if !h.server.IsRegisteredRedirect(r.Context(), req.ClientID, req.RedirectURI) {
		h.renderFailure(w, r, cause, http.StatusBadRequest)
		return
	}

	location, err := server.ErrorRedirect(req.RedirectURI, oauthErr, req.State, false)
	if err != nil {
		h.renderFailure(w, r, err, http.StatusBadRequest)
		return
	}
	h.server.Instrumentation.Metrics().RecordAuthorizationRequest(r.Context(), req.ResponseType, "redirect_error")
	http.Redirect(w, r, location, http.StatusFound)
}

func (h *Handler) renderFailure(w http.ResponseWriter, r *http.Request, err error, status int) {
	h.server.Instrumentation.Metrics().RecordAuthorizationRequest(r.Context(), r.URL.Query().Get("response_type"), "rejected")
	h.renderer.HandleAuthorizationError(w, r, &AuthorizationFailure{Err: err, Status: status})
}

func (h *Handler) serveAuthorizationDecision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(ctx)
	clientIP := h.clientIP(r)

	if err := r.ParseForm(); err != nil {
		h.writeError(w, ErrInvalidRequest("failed to parse request"))
		return
	}

	userID, ok := UserIDFromContext(ctx)
	if !ok {
		h.writeError(w, NewOAuthError(ErrorCodeAccessDenied, "user authentication required", http.StatusUnauthorized))
		return
	}

	req := authorizationRequestFrom(r.Form)
	decision := r.PostFormValue(FormApplicationAuthorized)
	req.CSRFToken = r.PostFormValue(FormCSRFToken)

	if req.ClientID == "" || req.RedirectURI == "" || req.ResponseType == "" || decision == "" || req.CSRFToken == "" {
		h.writeError(w, ErrInvalidRequest("client_id, redirect_uri, response_type, applicationAuthorized and csrfToken are required"))
		return
	}

	approved, err := strconv.ParseBool(decision)
	if err != nil {
		h.writeError(w, ErrInvalidRequest("applicationAuthorized must be a boolean"))
		return
	}

	if _, err := h.server.ValidateAuthorizationRequest(ctx, req); err != nil {
		h.writeEngineError(w, decisionError(err))
		return
	}

	sessionID, ok := h.sessionID(w, r, false)
	if !ok {
		h.writeError(w, ErrInvalidRequest("csrf token mismatch"))
		return
	}
	if err := h.server.VerifyCSRFToken(ctx, sessionID, req.CSRFToken); err != nil {
		if errors.Is(err, server.ErrCSRFMismatch) {
			h.server.Auditor.LogAuthFailure(userID, req.ClientID, clientIP, "csrf_mismatch")
			h.writeError(w, ErrInvalidRequest("csrf token mismatch"))
			return
		}
		h.writeEngineError(w, err)
		return
	}

	var location string
	if approved {
		location, err = h.server.ApproveAuthorization(ctx, req, userID, clientIP)
	} else {
		location, err = h.server.DenyAuthorization(ctx, req, userID, clientIP)
	}
	if err != nil {
		logger.Error("Failed to complete authorization", "client_id", req.ClientID, "error", err)
		h.writeError(w, ErrServerError("internal server error"))
		return
	}

	logger.Info("Authorization decision recorded",
		"client_id", req.ClientID,
		"approved", approved)
	http.Redirect(w, r, location, http.StatusSeeOther)
}

// decisionError translates a client validation failure on the consent POST
func decisionError(err error) error {
	var scopeErr *server.ScopeError

	switch {
	case errors.Is(err, server.ErrInvalidClientID),
		errors.Is(err, server.ErrInvalidRedirectURI),
		errors.Is(err, server.ErrHTTPRedirectURI),
		errors.Is(err, server.ErrInvalidCodeChallengeMethod):
		return ErrInvalidRequest(err.Error())
	case errors.Is(err, server.ErrConfidentialClientTokenGrant):
		return ErrUnauthorizedClient(err.Error())
	case errors.Is(err, server.ErrForbidden):
		return NewOAuthError(ErrorCodeUnauthorizedClient, "client is not allowed to use this response type", http.StatusForbidden)
	case errors.As(err, &scopeErr):
		return ErrInvalidScope(scopeErr.Error())
	default:
		return err
	}
}
