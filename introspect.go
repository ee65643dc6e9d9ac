package oauth

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/giantswarm/oauth-engine/server"
)

// maxIntrospectionBody caps the JSON body of an introspection request
const maxIntrospectionBody = 16 * 1024

// ServeTokenInfo handles the token introspection endpoint (RFC 7662).
// Callers authenticate as a registered resource server with HTTP Basic auth.
// The token is read from a JSON body {"token": ...} or from the "token"
// form field. Unknown and expired tokens answer 200 {"active": false}.
func (h *Handler) ServeTokenInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	h.instrument("token_info", h.serveTokenInfo)(w, r)
}

func (h *Handler) serveTokenInfo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientIP := h.clientIP(r)
	if h.checkRateLimit(w, r, clientIP) {
		return
	}

	username, password, ok := r.BasicAuth()
	if !ok {
		w.Header().Set("WWW-Authenticate", `Basic realm="oauth"`)
		h.writeError(w, ErrInvalidClient("resource server authentication required"))
		return
	}

	token, err := introspectionToken(r)
	if err != nil {
		h.writeError(w, ErrInvalidRequest("failed to parse request"))
		return
	}

	if err := h.server.AuthenticateResourceServer(ctx, username, password); err != nil {
		if errors.Is(err, server.ErrResourceServerUnauthorized) {
			h.requestLogger(ctx).Warn("Resource server authentication failed", "username", username, "ip", clientIP)
			w.Header().Set("WWW-Authenticate", `Basic realm="oauth"`)
			h.writeError(w, ErrInvalidClient("resource server authentication failed"))
			return
		}
		h.writeEngineError(w, err)
		return
	}

	result, err := h.server.Introspect(ctx, token)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, IntrospectionResponse{
		Active:   result.Active,
		ClientID: result.ClientID,
		Scope:    result.Scope,
		Username: result.Username,
		Exp:      result.ExpiresAt,
	})
}

// introspectionToken reads the token from a JSON or form body. An absent
// token yields "" and is reported by the engine as missing_token.
func introspectionToken(r *http.Request) (string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var body IntrospectionRequest
		err := json.NewDecoder(io.LimitReader(r.Body, maxIntrospectionBody)).Decode(&body)
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		return body.Token, nil
	}

	if err := r.ParseForm(); err != nil {
		return "", err
	}
	return r.PostFormValue("token"), nil
}
