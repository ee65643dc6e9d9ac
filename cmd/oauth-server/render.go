package main

import (
	"bytes"
	"embed"
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	oauth "github.com/giantswarm/oauth-engine"
	"github.com/giantswarm/oauth-engine/security"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// pages renders the consent, error and device verification pages
type pages struct {
	logger *slog.Logger
}

var (
	_ oauth.AuthorizeHandler          = (*pages)(nil)
	_ oauth.DeviceVerificationHandler = (*pages)(nil)
)

type consentPage struct {
	*oauth.ConsentRequest
	Action string
	Scope  string
}

type errorPage struct {
	Message string
}

type devicePage struct {
	Action  string
	Request *oauth.DeviceVerificationRequest
	Error   string
}

func (p *pages) HandleAuthorizationRequest(w http.ResponseWriter, _ *http.Request, req *oauth.ConsentRequest) {
	p.render(w, http.StatusOK, "consent", consentPage{
		ConsentRequest: req,
		Action:         oauth.PathAuthorize,
		Scope:          strings.Join(req.Scopes, " "),
	})
}

func (p *pages) HandleAuthorizationError(w http.ResponseWriter, _ *http.Request, failure *oauth.AuthorizationFailure) {
	message := "The authorization request could not be processed."
	if failure.Status < http.StatusInternalServerError && failure.Err != nil {
		message = failure.Err.Error()
	}
	p.render(w, failure.Status, "error", errorPage{Message: message})
}

func (p *pages) HandleDeviceVerificationRequest(w http.ResponseWriter, _ *http.Request, req *oauth.DeviceVerificationRequest, failure *oauth.OAuthError) {
	page := devicePage{Action: oauth.PathDevice, Request: req}
	status := http.StatusOK
	if failure != nil {
		page.Error = failure.Description
		status = failure.Status
	}
	p.render(w, status, "device", page)
}

func (p *pages) HandleDeviceVerificationResult(w http.ResponseWriter, _ *http.Request, approved bool) {
	p.render(w, http.StatusOK, "device_result", approved)
}

// render writes the named template with status. Zero means 200.
func (p *pages) render(w http.ResponseWriter, status int, name string, data any) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		p.logger.Error("Failed to render page", "template", name, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	security.SetNoStoreHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'; form-action 'self'; frame-ancestors 'none'")
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}
