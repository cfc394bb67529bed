package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedInRequest(t *testing.T, a *SessionAuthenticator, userID string) *http.Request {
	t.Helper()
	rec := httptest.NewRecorder()
	require.NoError(t, a.SignIn(rec, httptest.NewRequest(http.MethodGet, "/login", nil), userID))

	req := httptest.NewRequest(http.MethodGet, "/oauth/authorize", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	return req
}

func TestSessionAuthenticator(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	a := NewSessionAuthenticator(secret, "sid", true)

	t.Run("signed in", func(t *testing.T) {
		userID, err := a.Authenticate(signedInRequest(t, a, "alice"))
		require.NoError(t, err)
		assert.Equal(t, "alice", userID)
	})

	t.Run("no cookie", func(t *testing.T) {
		_, err := a.Authenticate(httptest.NewRequest(http.MethodGet, "/", nil))
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("tampered cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: "sid", Value: "forged"})
		_, err := a.Authenticate(req)
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("other secret", func(t *testing.T) {
		other := NewSessionAuthenticator([]byte("fedcba9876543210fedcba9876543210"), "sid", true)
		_, err := other.Authenticate(signedInRequest(t, a, "alice"))
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})
}

func TestUserContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, UserFromContext(req.Context()))
	assert.Equal(t, "bob", UserFromContext(WithUser(req.Context(), "bob")))
}
