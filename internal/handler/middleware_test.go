package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dlddu/tiny-oidc/internal/auth"
	"github.com/dlddu/tiny-oidc/internal/logger"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
)

func TestRequireUser(t *testing.T) {
	var seen string
	h := RequireUser(headerAuthenticator{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = auth.UserFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), `"unauthorized"`)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(userHeader, aliceID)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, aliceID, seen)
}

func TestRequestLogger(t *testing.T) {
	var scoped bool
	h := middleware.RequestID(RequestLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scoped = logger.From(r.Context()) != logger.L()
		w.WriteHeader(http.StatusTeapot)
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.True(t, scoped, "handlers see a request-scoped logger")
}
