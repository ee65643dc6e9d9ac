package oauth

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/giantswarm/oauth-engine/internal/util"
	"github.com/giantswarm/oauth-engine/security"
	"github.com/giantswarm/oauth-engine/server"
	"github.com/giantswarm/oauth-engine/storage"
)

// FormUserCode is the form field carrying the user code on the verification page
const FormUserCode = "user_code"

// DeviceVerificationRequest is a pending device authorization shown to the
// user for approval. The page must post CSRFToken back as "csrfToken", with
// "user_code" and "applicationAuthorized".
type DeviceVerificationRequest struct {
	UserCode  string
	ClientID  string
	Scopes    []string
	CSRFToken string
}

// DeviceVerificationHandler renders the device verification pages. An
// AuthorizeHandler may implement it to serve GET on the verification
// endpoint and to answer the decision with a page instead of 204.
type DeviceVerificationHandler interface {
	// HandleDeviceVerificationRequest renders the approval page. req is nil
	// when no user code was given yet and failure is set when the code
	// could not be resolved.
	HandleDeviceVerificationRequest(w http.ResponseWriter, r *http.Request, req *DeviceVerificationRequest, failure *OAuthError)

	// HandleDeviceVerificationResult renders the outcome of the decision
	HandleDeviceVerificationResult(w http.ResponseWriter, r *http.Request, approved bool)
}

// ServeDeviceAuthorization handles the device authorization endpoint
// (RFC 8628 §3.1).
func (h *Handler) ServeDeviceAuthorization(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	h.instrument("device_authorization", h.serveDeviceAuthorization)(w, r)
}

func (h *Handler) serveDeviceAuthorization(w http.ResponseWriter, r *http.Request) {
	clientIP := h.clientIP(r)
	if h.checkRateLimit(w, r, clientIP) {
		return
	}

	if err := r.ParseForm(); err != nil {
		h.writeError(w, ErrInvalidRequest("failed to parse request"))
		return
	}

	clientID, clientSecret := clientCredentials(r)
	scopes := util.ParseScopes(r.PostFormValue("scope"))

	auth, err := h.server.AuthorizeDevice(r.Context(), clientID, clientSecret, scopes, clientIP)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, DeviceAuthorizationResponse{
		DeviceCode:              auth.DeviceCode,
		UserCode:                auth.UserCode,
		VerificationURI:         auth.VerificationURI,
		VerificationURIComplete: auth.VerificationURIComplete,
		ExpiresIn:               auth.ExpiresIn,
		Interval:                auth.Interval,
	})
}

// ServeDeviceVerification handles the end-user verification endpoint. POST
// approves or denies the device authorization identified by user_code on
// behalf of the authenticated user. GET is served only when the renderer
// implements DeviceVerificationHandler.
func (h *Handler) ServeDeviceVerification(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.instrument("device_verification", h.serveDeviceVerificationPage)(w, r)
	case http.MethodPost:
		h.instrument("device_verification", h.serveDeviceDecision)(w, r)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (h *Handler) serveDeviceVerificationPage(w http.ResponseWriter, r *http.Request) {
	pages, ok := h.renderer.(DeviceVerificationHandler)
	if !ok {
		http.NotFound(w, r)
		return
	}
	if _, ok := UserIDFromContext(r.Context()); !ok {
		h.writeError(w, NewOAuthError(ErrorCodeAccessDenied, "user authentication required", http.StatusUnauthorized))
		return
	}

	userCode := r.URL.Query().Get(FormUserCode)
	if userCode == "" {
		pages.HandleDeviceVerificationRequest(w, r, nil, nil)
		return
	}

	device, err := h.server.LookupDeviceCode(r.Context(), userCode)
	if err != nil {
		var oauthErr *OAuthError
		if !errors.As(err, &oauthErr) {
			oauthErr = ErrServerError("internal server error")
		}
		pages.HandleDeviceVerificationRequest(w, r, nil, oauthErr)
		return
	}

	sessionID, ok := h.sessionID(w, r, true)
	if !ok {
		pages.HandleDeviceVerificationRequest(w, r, nil, errNoSession)
		return
	}
	csrfToken, err := h.server.IssueCSRFToken(r.Context(), sessionID)
	if err != nil {
		h.requestLogger(r.Context()).Error("Failed to issue CSRF token", "error", err)
		pages.HandleDeviceVerificationRequest(w, r, nil, ErrServerError("internal server error"))
		return
	}

	pages.HandleDeviceVerificationRequest(w, r, deviceVerificationRequest(device, csrfToken), nil)
}

func deviceVerificationRequest(device *storage.DeviceCode, csrfToken string) *DeviceVerificationRequest {
	return &DeviceVerificationRequest{
		UserCode:  device.UserCode,
		ClientID:  device.ClientID,
		Scopes:    device.Scopes,
		CSRFToken: csrfToken,
	}
}

func (h *Handler) serveDeviceDecision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientIP := h.clientIP(r)
	if h.checkRateLimit(w, r, clientIP) {
		return
	}

	if err := r.ParseForm(); err != nil {
		h.writeError(w, ErrInvalidRequest("failed to parse request"))
		return
	}

	userID, ok := UserIDFromContext(ctx)
	if !ok {
		h.writeError(w, NewOAuthError(ErrorCodeAccessDenied, "user authentication required", http.StatusUnauthorized))
		return
	}

	userCode := r.PostFormValue(FormUserCode)
	decision := r.PostFormValue(FormApplicationAuthorized)
	csrfToken := r.PostFormValue(FormCSRFToken)
	if userCode == "" || decision == "" || csrfToken == "" {
		h.writeError(w, ErrInvalidRequest("user_code, applicationAuthorized and csrfToken are required"))
		return
	}

	approved, err := strconv.ParseBool(decision)
	if err != nil {
		h.writeError(w, ErrInvalidRequest("applicationAuthorized must be a boolean"))
		return
	}

	sessionID, ok := h.sessionID(w, r, false)
	if !ok {
		h.writeError(w, ErrInvalidRequest("csrf token mismatch"))
		return
	}
	if err := h.server.VerifyCSRFToken(ctx, sessionID, csrfToken); err != nil {
		if errors.Is(err, server.ErrCSRFMismatch) {
			h.server.Auditor.LogAuthFailure(userID, "", clientIP, "csrf_mismatch")
			h.writeError(w, ErrInvalidRequest("csrf token mismatch"))
			return
		}
		h.writeEngineError(w, err)
		return
	}

	if err := h.server.VerifyDevice(ctx, userCode, userID, approved, clientIP); err != nil {
		h.writeEngineError(w, err)
		return
	}

	h.requestLogger(ctx).Info("Device verification recorded", "approved", approved)

	if pages, ok := h.renderer.(DeviceVerificationHandler); ok {
		pages.HandleDeviceVerificationResult(w, r, approved)
		return
	}
	security.SetNoStoreHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}
