package auth

import (
	"context"
	"net/http"

	"github.com/gorilla/sessions"
)

const sessionUserKey = "user_id"

// Authenticator resolves the signed-in end user of a browser request
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// SessionAuthenticator reads the user ID that the login application
// stored in a signed gorilla session cookie.
type SessionAuthenticator struct {
	store sessions.Store
	name  string
}

// NewSessionAuthenticator creates a cookie-backed authenticator
func NewSessionAuthenticator(secret []byte, cookieName string, secure bool) *SessionAuthenticator {
	store := sessions.NewCookieStore(secret)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   3600,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return &SessionAuthenticator{store: store, name: cookieName}
}

// Authenticate returns the session's user ID or ErrUnauthenticated
func (a *SessionAuthenticator) Authenticate(r *http.Request) (string, error) {
	sess, err := a.store.Get(r, a.name)
	if err != nil {
		return "", ErrUnauthenticated
	}
	userID, _ := sess.Values[sessionUserKey].(string)
	if userID == "" {
		return "", ErrUnauthenticated
	}
	return userID, nil
}

// SignIn records userID in the session cookie
func (a *SessionAuthenticator) SignIn(w http.ResponseWriter, r *http.Request, userID string) error {
	sess, err := a.store.Get(r, a.name)
	if err != nil && sess == nil {
		return err
	}
	sess.Values[sessionUserKey] = userID
	return sess.Save(r, w)
}

type userKey struct{}

// WithUser stores the authenticated user ID in ctx
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserFromContext returns the authenticated user ID, or "" when anonymous
func UserFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(userKey{}).(string)
	return userID
}
