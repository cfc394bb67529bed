package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"golang.org/x/sync/errgroup"
)

// KeySetProvider publishes the token verification keys
type KeySetProvider interface {
	JWKS() jose.JSONWebKeySet
}

// Pinger is a dependency checked by /healthz
type Pinger interface {
	Ping(ctx context.Context) error
}

type providerMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	UserinfoEndpoint                  string   `json:"userinfo_endpoint"`
	JWKSURI                           string   `json:"jwks_uri"`
	RevocationEndpoint                string   `json:"revocation_endpoint"`
	IntrospectionEndpoint             string   `json:"introspection_endpoint"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	ResponseModesSupported            []string `json:"response_modes_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	SubjectTypesSupported             []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported  []string `json:"id_token_signing_alg_values_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
	ScopesSupported                   []string `json:"scopes_supported"`
	ClaimsSupported                   []string `json:"claims_supported"`
	PromptValuesSupported             []string `json:"prompt_values_supported"`
	AuthorizationResponseIssParameter bool     `json:"authorization_response_iss_parameter_supported"`
}

// DiscoveryHandler serves the provider metadata, the JWKS and the health check
type DiscoveryHandler struct {
	metadata providerMetadata
	keys     KeySetProvider
	checks   map[string]Pinger
}

// NewDiscoveryHandler builds the metadata document once. Endpoint URLs are
// rooted at baseURL; issuer is published verbatim.
func NewDiscoveryHandler(issuer, baseURL string, scopes []string, keys KeySetProvider, checks map[string]Pinger) *DiscoveryHandler {
	base := strings.TrimRight(baseURL, "/")
	return &DiscoveryHandler{
		metadata: providerMetadata{
			Issuer:                            issuer,
			AuthorizationEndpoint:             base + "/oauth/authorize",
			TokenEndpoint:                     base + "/oauth/token",
			UserinfoEndpoint:                  base + "/oauth/userinfo",
			JWKSURI:                           base + "/.well-known/jwks.json",
			RevocationEndpoint:                base + "/oauth/revoke",
			IntrospectionEndpoint:             base + "/oauth/introspect",
			ResponseTypesSupported:            []string{"code"},
			ResponseModesSupported:            []string{"query"},
			GrantTypesSupported:               []string{"authorization_code", "refresh_token"},
			SubjectTypesSupported:             []string{"public"},
			IDTokenSigningAlgValuesSupported:  []string{"RS256"},
			TokenEndpointAuthMethodsSupported: []string{"client_secret_basic", "client_secret_post"},
			CodeChallengeMethodsSupported:     []string{"S256"},
			ScopesSupported:                   scopes,
			ClaimsSupported: []string{
				"iss", "sub", "aud", "exp", "iat", "auth_time", "nonce", "at_hash", "azp",
				"name", "picture", "email", "email_verified",
			},
			PromptValuesSupported:             []string{"none", "consent"},
			AuthorizationResponseIssParameter: true,
		},
		keys:   keys,
		checks: checks,
	}
}

// Configuration handles GET /.well-known/openid-configuration
func (h *DiscoveryHandler) Configuration(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=600, must-revalidate")
	writeJSON(w, http.StatusOK, h.metadata)
}

// JWKS handles GET /.well-known/jwks.json
func (h *DiscoveryHandler) JWKS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSON(w, http.StatusOK, h.keys.JWKS())
}

// Health handles GET /healthz. Every dependency is pinged concurrently.
func (h *DiscoveryHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	results := make(map[string]string, len(h.checks))
	errs := make([]error, len(h.checks))
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}

	var g errgroup.Group
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			errs[i] = h.checks[name].Ping(ctx)
			return nil
		})
	}
	_ = g.Wait()

	status := http.StatusOK
	for i, name := range names {
		if errs[i] != nil {
			results[name] = errs[i].Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	body := map[string]any{"status": "ok", "checks": results}
	if status != http.StatusOK {
		body["status"] = "unavailable"
	}
	noStore(w)
	writeJSON(w, status, body)
}
