package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/dlddu/tiny-oidc/internal/auth"
	"github.com/dlddu/tiny-oidc/internal/cache"
	"github.com/dlddu/tiny-oidc/internal/crypto"
	"github.com/dlddu/tiny-oidc/internal/domain"
	tokenjwt "github.com/dlddu/tiny-oidc/internal/jwt"
	"github.com/dlddu/tiny-oidc/internal/metrics"
	"github.com/dlddu/tiny-oidc/internal/repository"
	"github.com/dlddu/tiny-oidc/internal/service"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const (
	testIssuer   = "https://id.example.com"
	testRedirect = "https://app.example.com/callback"
	adminID      = "admin-1"
	ownerID      = "owner-1"
	aliceID      = "alice"
	userHeader   = "X-Test-User"
)

// headerAuthenticator trusts a test header in place of the session cookie
type headerAuthenticator struct{}

func (headerAuthenticator) Authenticate(r *http.Request) (string, error) {
	if id := r.Header.Get(userHeader); id != "" {
		return id, nil
	}
	return "", auth.ErrUnauthenticated
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

type testServer struct {
	t      *testing.T
	server *httptest.Server
	client *http.Client
	users  *repository.MemoryUserDirectory
	signer *tokenjwt.TokenManager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	users := repository.NewMemoryUserDirectory(
		domain.User{ID: aliceID, Email: "alice@example.com", EmailVerified: true, Name: "Alice", AccountStatus: domain.AccountStatusActive},
		domain.User{ID: ownerID, Email: "owner@example.com", AccountStatus: domain.AccountStatusActive},
		domain.User{ID: adminID, Email: "admin@example.com", AccountStatus: domain.AccountStatusActive},
	)
	stores := repository.NewMemoryStores(users)

	key, err := tokenjwt.GenerateKey(tokenjwt.DefaultKeyBits)
	require.NoError(t, err)
	signer, err := tokenjwt.NewTokenManager(key, testIssuer)
	require.NoError(t, err)

	m := metrics.New()
	policy := auth.NewPolicy(auth.NewStaticAdmins([]string{adminID}))
	scopes := []string{"openid", "profile", "email", "offline_access"}
	pendingCache := cache.NewMemory("test")

	clients := service.NewClientService(stores, crypto.Hasher{}, policy, scopes, m)
	consents := service.NewConsentService(stores)
	tokens := service.NewTokenService(signer, stores.RefreshTokens, service.TokenConfig{
		AccessTokenTTL:  15 * time.Minute,
		IDTokenTTL:      15 * time.Minute,
		RefreshTokenTTL: 30 * 24 * time.Hour,
	}, m)
	pending := service.NewPendingStore(pendingCache, 10*time.Minute)

	router := NewRouter(Dependencies{
		Authorize:       service.NewAuthorizeService(clients, consents, stores, pending, testIssuer, 10*time.Minute),
		OAuth:           service.NewOAuthService(clients, tokens, stores, testIssuer, m),
		Clients:         clients,
		Consents:        consents,
		Keys:            signer,
		Authenticator:   headerAuthenticator{},
		Metrics:         m,
		Issuer:          testIssuer,
		BaseURL:         testIssuer + "/",
		SupportedScopes: scopes,
		HealthChecks:    map[string]Pinger{"cache": pendingCache},
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testServer{
		t:      t,
		server: srv,
		client: &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
		users:  users,
		signer: signer,
	}
}

// do sends a request as userID (anonymous when empty)
func (s *testServer) do(method, path, userID string, body io.Reader, header http.Header) *http.Response {
	s.t.Helper()
	req, err := http.NewRequest(method, s.server.URL+path, body)
	require.NoError(s.t, err)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if userID != "" {
		req.Header.Set(userHeader, userID)
	}
	resp, err := s.client.Do(req)
	require.NoError(s.t, err)
	s.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (s *testServer) doJSON(method, path, userID string, v any) *http.Response {
	s.t.Helper()
	var body io.Reader
	header := http.Header{}
	if v != nil {
		b, err := json.Marshal(v)
		require.NoError(s.t, err)
		body = strings.NewReader(string(b))
		header.Set("Content-Type", "application/json")
	}
	return s.do(method, path, userID, body, header)
}

func (s *testServer) postForm(path, userID string, form url.Values, header http.Header) *http.Response {
	s.t.Helper()
	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Type", "application/x-www-form-urlencoded")
	return s.do(http.MethodPost, path, userID, strings.NewReader(form.Encode()), header)
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func basicAuth(id, secret string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(url.QueryEscape(id)+":"+url.QueryEscape(secret))))
	return h
}

type registeredClient struct {
	ClientID     string              `json:"client_id"`
	ClientSecret string              `json:"client_secret"`
	Status       domain.ClientStatus `json:"status"`
	Scopes       []string            `json:"scopes"`
}

// register creates a client through the API and approves it as the admin
func (s *testServer) register(scopes ...string) registeredClient {
	s.t.Helper()
	resp := s.doJSON(http.MethodPost, "/oauth/clients", ownerID, map[string]any{
		"client_name":   "Photo Printer",
		"redirect_uris": []string{testRedirect},
		"scopes":        scopes,
	})
	require.Equal(s.t, http.StatusCreated, resp.StatusCode)
	c := decode[registeredClient](s.t, resp)

	resp = s.doJSON(http.MethodPost, "/oauth/admin/clients/"+c.ClientID+"/approve", adminID, map[string]string{"reason": "ok"})
	require.Equal(s.t, http.StatusOK, resp.StatusCode)
	return c
}

func authorizeQuery(clientID, scope, challenge string) url.Values {
	return url.Values{
		"response_type":         {"code"},
		"client_id":             {clientID},
		"redirect_uri":          {testRedirect},
		"scope":                 {scope},
		"state":                 {"af0ifjsldkj"},
		"code_challenge":        {challenge},
		"code_challenge_method": {"S256"},
		"nonce":                 {"n-0S6_WzA2Mj"},
	}
}

func locationQuery(t *testing.T, resp *http.Response) url.Values {
	t.Helper()
	loc := resp.Header.Get("Location")
	require.True(t, strings.HasPrefix(loc, testRedirect), "unexpected Location %q", loc)
	u, err := url.Parse(loc)
	require.NoError(t, err)
	return u.Query()
}

// authorize runs the browser leg for userID, approving consent when asked
func (s *testServer) authorize(c registeredClient, userID, scope string) (code, verifier string) {
	s.t.Helper()
	verifier = oauth2.GenerateVerifier()
	q := authorizeQuery(c.ClientID, scope, oauth2.S256ChallengeFromVerifier(verifier))

	resp := s.do(http.MethodGet, "/oauth/authorize?"+q.Encode(), userID, nil, nil)
	if resp.StatusCode == http.StatusOK {
		prompt := decode[service.ConsentPrompt](s.t, resp)
		resp = s.postForm("/oauth/authorize/consent", userID, url.Values{"consent_id": {prompt.ConsentID}}, nil)
		require.Equal(s.t, http.StatusSeeOther, resp.StatusCode)
	} else {
		require.Equal(s.t, http.StatusFound, resp.StatusCode)
	}

	code = locationQuery(s.t, resp).Get("code")
	require.NotEmpty(s.t, code)
	return code, verifier
}

func (s *testServer) exchange(c registeredClient, code, verifier string) *http.Response {
	s.t.Helper()
	return s.postForm("/oauth/token", "", url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {testRedirect},
		"code_verifier": {verifier},
	}, basicAuth(c.ClientID, c.ClientSecret))
}
