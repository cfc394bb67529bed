package handler

import (
	"errors"
	"net/http"

	"github.com/dlddu/tiny-oidc/internal/auth"
	"github.com/dlddu/tiny-oidc/internal/logger"
	"github.com/dlddu/tiny-oidc/internal/metrics"
	"github.com/dlddu/tiny-oidc/internal/service"
)

// TokenHandler serves the token, revocation and introspection endpoints
type TokenHandler struct {
	oauth   *service.OAuthService
	metrics *metrics.Metrics
}

// NewTokenHandler creates a new token handler
func NewTokenHandler(oauth *service.OAuthService, m *metrics.Metrics) *TokenHandler {
	return &TokenHandler{oauth: oauth, metrics: m}
}

// ServeHTTP handles POST /oauth/token
func (h *TokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	noStore(w)

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, service.CodeInvalidRequest, "method not allowed")
		return
	}
	if !parseForm(w, r) {
		return
	}

	grantType := r.PostForm.Get("grant_type")
	if grantType == "" {
		h.fail(w, r, "token", nil, service.NewInvalidRequestError("grant_type is required"))
		return
	}

	creds, ok := h.clientCredentials(w, r, "token")
	if !ok {
		return
	}

	resp, err := h.oauth.Token(r.Context(), service.TokenRequest{
		GrantType:    grantType,
		Code:         r.PostForm.Get("code"),
		RedirectURI:  r.PostForm.Get("redirect_uri"),
		CodeVerifier: r.PostForm.Get("code_verifier"),
		RefreshToken: r.PostForm.Get("refresh_token"),
		Scope:        r.PostForm.Get("scope"),
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
	})
	if err != nil {
		h.fail(w, r, "token", creds, err)
		return
	}

	logger.From(r.Context()).Info("token issued",
		logger.ClientID(creds.ClientID),
		logger.GrantType(grantType),
	)
	writeJSON(w, http.StatusOK, resp)
}

// Revoke handles POST /oauth/revoke (RFC 7009)
func (h *TokenHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	noStore(w)
	if !parseForm(w, r) {
		return
	}

	creds, ok := h.clientCredentials(w, r, "revoke")
	if !ok {
		return
	}

	if err := h.oauth.Revoke(r.Context(), creds.ClientID, creds.ClientSecret, r.PostForm.Get("token")); err != nil {
		h.fail(w, r, "revoke", creds, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Introspect handles POST /oauth/introspect (RFC 7662)
func (h *TokenHandler) Introspect(w http.ResponseWriter, r *http.Request) {
	noStore(w)
	if !parseForm(w, r) {
		return
	}

	creds, ok := h.clientCredentials(w, r, "introspect")
	if !ok {
		return
	}

	resp, err := h.oauth.Introspect(r.Context(), creds.ClientID, creds.ClientSecret, r.PostForm.Get("token"))
	if err != nil {
		h.fail(w, r, "introspect", creds, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// clientCredentials extracts client authentication from the Authorization
// header or the form body, writing invalid_client on failure.
func (h *TokenHandler) clientCredentials(w http.ResponseWriter, r *http.Request, endpoint string) (*auth.ClientCredentials, bool) {
	creds, err := auth.ClientCredentialsFromRequest(r)
	if err == nil {
		return creds, true
	}

	desc := "client authentication failed"
	if errors.Is(err, auth.ErrMultipleAuthMethods) {
		desc = "multiple client authentication methods used"
	}
	basic := &auth.ClientCredentials{Method: auth.MethodClientSecretPost}
	if r.Header.Get("Authorization") != "" {
		basic.Method = auth.MethodClientSecretBasic
	}
	h.fail(w, r, endpoint, basic, service.NewInvalidClientError(desc))
	return nil, false
}

// fail writes err, adding the Basic challenge when a client that used HTTP
// Basic fails to authenticate.
func (h *TokenHandler) fail(w http.ResponseWriter, r *http.Request, endpoint string, creds *auth.ClientCredentials, err error) {
	oe := service.AsOAuthError(err)
	if oe.Code == service.CodeInvalidClient && creds != nil && creds.Method == auth.MethodClientSecretBasic {
		w.Header().Set("WWW-Authenticate", `Basic realm="tiny-oidc"`)
	}
	h.metrics.OAuthError(endpoint, oe.Code)
	writeOAuthError(w, r, err)
}
