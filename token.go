package oauth

import (
	"net/http"

	"github.com/giantswarm/oauth-engine/internal/util"
	"github.com/giantswarm/oauth-engine/server"
)

// ServeToken handles the token endpoint. The grant is selected by the
// grant_type form field; client credentials are read from HTTP Basic auth or
// the client_id / client_secret form fields.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	h.instrument("token", h.serveToken)(w, r)
}

func (h *Handler) serveToken(w http.ResponseWriter, r *http.Request) {
	clientIP := h.clientIP(r)
	if h.checkRateLimit(w, r, clientIP) {
		return
	}

	if err := r.ParseForm(); err != nil {
		h.writeError(w, ErrInvalidRequest("failed to parse request"))
		return
	}

	grantType := r.PostFormValue("grant_type")
	if grantType == "" {
		h.writeError(w, ErrInvalidRequest("grant_type is required"))
		return
	}

	clientID, clientSecret := clientCredentials(r)
	req := &server.TokenRequest{
		GrantType:    grantType,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Code:         r.PostFormValue("code"),
		RedirectURI:  r.PostFormValue("redirect_uri"),
		CodeVerifier: r.PostFormValue("code_verifier"),
		Username:     r.PostFormValue("username"),
		Password:     r.PostFormValue("password"),
		RefreshToken: r.PostFormValue("refresh_token"),
		DeviceCode:   r.PostFormValue("device_code"),
		Scopes:       util.ParseScopes(r.PostFormValue("scope")),
		ClientIP:     clientIP,
	}

	set, err := h.server.Token(r.Context(), req)
	if err != nil {
		h.requestLogger(r.Context()).Debug("Token request rejected",
			"grant_type", grantType,
			"client_id", clientID,
			"error", err)
		h.writeEngineError(w, err)
		return
	}

	h.writeTokenResponse(w, set)
}
