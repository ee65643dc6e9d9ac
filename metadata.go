package oauth

import (
	"net/http"

	"github.com/giantswarm/oauth-engine/server"
	"github.com/giantswarm/oauth-engine/storage"
)

// ServeAuthorizationServerMetadata serves RFC 8414 Authorization Server Metadata
func (h *Handler) ServeAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	h.instrument("metadata", func(w http.ResponseWriter, _ *http.Request) {
		h.writeJSON(w, http.StatusOK, h.authServerMetadata())
	})(w, r)
}

func (h *Handler) authServerMetadata() *AuthorizationServerMetadata {
	return &AuthorizationServerMetadata{
		Issuer:                      h.config.Issuer,
		AuthorizationEndpoint:       h.config.endpoint(PathAuthorize),
		TokenEndpoint:               h.config.endpoint(PathToken),
		IntrospectionEndpoint:       h.config.endpoint(PathTokenInfo),
		DeviceAuthorizationEndpoint: h.config.endpoint(PathDeviceAuthorization),
		ScopesSupported:             h.server.Config.ValidScopes,
		ResponseTypesSupported:      []string{server.ResponseTypeCode, server.ResponseTypeToken},
		GrantTypesSupported: []string{
			string(storage.GrantTypeAuthorizationCode),
			string(storage.GrantTypeImplicit),
			string(storage.GrantTypePassword),
			string(storage.GrantTypeClientCredentials),
			string(storage.GrantTypeRefreshToken),
			string(storage.GrantTypeDeviceCode),
		},
		TokenEndpointAuthMethodsSupported:         []string{"client_secret_basic", "client_secret_post", "none"},
		IntrospectionEndpointAuthMethodsSupported: []string{"client_secret_basic"},
		CodeChallengeMethodsSupported:             []string{storage.PKCEMethodS256, storage.PKCEMethodPlain},
	}
}
