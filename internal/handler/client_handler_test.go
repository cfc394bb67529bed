package handler

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/dlddu/tiny-oidc/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientHandler_Register(t *testing.T) {
	s := newTestServer(t)

	resp := s.doJSON(http.MethodPost, "/oauth/clients", ownerID, map[string]any{
		"client_name":   "Photo Printer",
		"redirect_uris": []string{testRedirect},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	c := decode[registeredClient](t, resp)
	assert.NotEmpty(t, c.ClientID)
	assert.NotEmpty(t, c.ClientSecret)
	assert.Equal(t, domain.ClientStatusPending, c.Status)

	resp = s.doJSON(http.MethodPost, "/oauth/clients", "", map[string]any{"client_name": "x"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = s.doJSON(http.MethodPost, "/oauth/clients", ownerID, map[string]any{
		"client_name":   "x",
		"redirect_uris": []string{"http://evil.example.com/cb"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.doJSON(http.MethodPost, "/oauth/clients", ownerID, map[string]any{
		"client_name":    "x",
		"redirect_uris":  []string{testRedirect},
		"is_first_party": true,
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = s.doJSON(http.MethodPost, "/oauth/clients", ownerID, map[string]any{"unexpected": true})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestClientHandler_OwnerEndpoints(t *testing.T) {
	s := newTestServer(t)
	c := s.register()
	path := "/oauth/clients/" + c.ClientID

	resp := s.do(http.MethodGet, "/oauth/clients", ownerID, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]registeredClient](t, resp), 1)

	resp = s.do(http.MethodGet, "/oauth/clients", aliceID, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]registeredClient](t, resp))

	resp = s.do(http.MethodGet, path, ownerID, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[registeredClient](t, resp)
	assert.Empty(t, got.ClientSecret, "secrets are never returned after registration")

	resp = s.do(http.MethodGet, path, aliceID, nil, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = s.do(http.MethodGet, "/oauth/clients/missing", ownerID, nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = s.doJSON(http.MethodPatch, path, ownerID, map[string]any{"client_name": "Renamed"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Renamed", decode[map[string]any](t, resp)["client_name"])

	resp = s.do(http.MethodPost, path+"/secret", ownerID, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rotated := decode[registeredClient](t, resp)
	assert.NotEqual(t, c.ClientSecret, rotated.ClientSecret)

	resp = s.postForm("/oauth/introspect", "", url.Values{"token": {"x"}}, basicAuth(c.ClientID, c.ClientSecret))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "the old secret stops working")
	resp = s.postForm("/oauth/introspect", "", url.Values{"token": {"x"}}, basicAuth(c.ClientID, rotated.ClientSecret))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = s.do(http.MethodDelete, path, aliceID, nil, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp = s.do(http.MethodDelete, path, ownerID, nil, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = s.do(http.MethodGet, path, ownerID, nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestClientHandler_AdminEndpoints(t *testing.T) {
	s := newTestServer(t)

	resp := s.doJSON(http.MethodPost, "/oauth/clients", ownerID, map[string]any{
		"client_name":   "Pending App",
		"redirect_uris": []string{testRedirect},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	c := decode[registeredClient](t, resp)
	base := "/oauth/admin/clients/" + c.ClientID

	resp = s.do(http.MethodGet, "/oauth/admin/clients?status=pending", ownerID, nil, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = s.do(http.MethodGet, "/oauth/admin/clients?status=pending", adminID, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]registeredClient](t, resp), 1)

	resp = s.doJSON(http.MethodPost, base+"/suspend", adminID, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = s.doJSON(http.MethodPost, base+"/approve", ownerID, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = s.doJSON(http.MethodPost, base+"/approve", adminID, map[string]string{"reason": "reviewed"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, domain.ClientStatusApproved, decode[registeredClient](t, resp).Status)

	resp = s.doJSON(http.MethodPost, base+"/suspend", adminID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = s.doJSON(http.MethodPost, base+"/reactivate", adminID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = s.doJSON(http.MethodPost, base+"/promote", adminID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = s.doJSON(http.MethodPost, "/oauth/admin/clients/missing/approve", adminID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
