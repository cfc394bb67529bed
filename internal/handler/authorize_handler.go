package handler

import (
	"net/http"

	"github.com/dlddu/tiny-oidc/internal/auth"
	"github.com/dlddu/tiny-oidc/internal/metrics"
	"github.com/dlddu/tiny-oidc/internal/service"
)

// AuthorizeHandler serves the authorization endpoint and the consent decision
type AuthorizeHandler struct {
	authz   *service.AuthorizeService
	metrics *metrics.Metrics
}

// NewAuthorizeHandler creates a new authorization handler
func NewAuthorizeHandler(authz *service.AuthorizeService, m *metrics.Metrics) *AuthorizeHandler {
	return &AuthorizeHandler{authz: authz, metrics: m}
}

// Authorize handles GET /oauth/authorize. It redirects with a code or an
// error, or returns the consent descriptor as JSON.
func (h *AuthorizeHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := service.AuthorizeRequest{
		ResponseType:        q.Get("response_type"),
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		Scope:               q.Get("scope"),
		State:               q.Get("state"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
		Nonce:               q.Get("nonce"),
		Prompt:              q.Get("prompt"),
	}

	res, err := h.authz.Authorize(r.Context(), auth.UserFromContext(r.Context()), req)
	h.respond(w, r, "authorize", http.StatusFound, res, err)
}

// Approve handles POST /oauth/authorize/consent
func (h *AuthorizeHandler) Approve(w http.ResponseWriter, r *http.Request) {
	consentID, ok := consentIDFromForm(w, r)
	if !ok {
		return
	}
	res, err := h.authz.ApproveConsent(r.Context(), auth.UserFromContext(r.Context()), consentID)
	h.respond(w, r, "consent", http.StatusSeeOther, res, err)
}

// Deny handles POST /oauth/authorize/deny
func (h *AuthorizeHandler) Deny(w http.ResponseWriter, r *http.Request) {
	consentID, ok := consentIDFromForm(w, r)
	if !ok {
		return
	}
	res, err := h.authz.DenyConsent(r.Context(), auth.UserFromContext(r.Context()), consentID)
	h.respond(w, r, "consent", http.StatusSeeOther, res, err)
}

func (h *AuthorizeHandler) respond(w http.ResponseWriter, r *http.Request, endpoint string, redirectStatus int, res *service.AuthorizationResult, err error) {
	noStore(w)
	if err != nil {
		h.metrics.OAuthError(endpoint, service.AsOAuthError(err).Code)
		writeOAuthError(w, r, err)
		return
	}
	if res.Consent != nil {
		writeJSON(w, http.StatusOK, res.Consent)
		return
	}
	http.Redirect(w, r, res.RedirectURL, redirectStatus)
}

func consentIDFromForm(w http.ResponseWriter, r *http.Request) (string, bool) {
	if !parseForm(w, r) {
		return "", false
	}
	consentID := r.PostForm.Get("consent_id")
	if consentID == "" {
		writeError(w, http.StatusBadRequest, service.CodeInvalidRequest, "consent_id is required")
		return "", false
	}
	return consentID, true
}
