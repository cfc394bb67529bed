package handler

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/dlddu/tiny-oidc/internal/domain"
	"github.com/dlddu/tiny-oidc/internal/metrics"
	"github.com/dlddu/tiny-oidc/internal/service"
)

// UserInfoHandler serves the OIDC userinfo endpoint
type UserInfoHandler struct {
	oauth   *service.OAuthService
	metrics *metrics.Metrics
}

// NewUserInfoHandler creates a new userinfo handler
func NewUserInfoHandler(oauth *service.OAuthService, m *metrics.Metrics) *UserInfoHandler {
	return &UserInfoHandler{oauth: oauth, metrics: m}
}

// ServeHTTP handles GET and POST /oauth/userinfo
func (h *UserInfoHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	noStore(w)

	token, ok := bearerToken(r)
	if !ok {
		w.Header().Set("WWW-Authenticate", `Bearer realm="tiny-oidc"`)
		writeError(w, http.StatusUnauthorized, service.CodeInvalidRequest, "bearer token required")
		return
	}

	claims, err := h.oauth.UserInfo(r.Context(), token)
	if err != nil {
		oe := service.AsOAuthError(err)
		switch oe.Code {
		case service.CodeInvalidToken:
			w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer realm="tiny-oidc", error=%q, error_description=%q`, oe.Code, oe.ErrorDescription))
		case service.CodeInsufficientScope:
			w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer realm="tiny-oidc", error=%q, scope=%q`, oe.Code, domain.ScopeOpenID))
		}
		h.metrics.OAuthError("userinfo", oe.Code)
		writeOAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, claims)
}

// bearerToken reads an RFC 6750 token from the Authorization header or,
// for form POSTs, the access_token parameter.
func bearerToken(r *http.Request) (string, bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") {
			return "", false
		}
		token = strings.TrimSpace(token)
		return token, token != ""
	}

	if r.Method == http.MethodPost {
		ct := r.Header.Get("Content-Type")
		if strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
			if err := r.ParseForm(); err == nil {
				token := r.PostForm.Get("access_token")
				return token, token != ""
			}
		}
	}
	return "", false
}
