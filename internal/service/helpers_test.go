package service

import (
	"context"
	"crypto/rsa"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dlddu/tiny-oidc/internal/auth"
	"github.com/dlddu/tiny-oidc/internal/cache"
	"github.com/dlddu/tiny-oidc/internal/domain"
	tokenjwt "github.com/dlddu/tiny-oidc/internal/jwt"
	"github.com/dlddu/tiny-oidc/internal/metrics"
	"github.com/dlddu/tiny-oidc/internal/repository"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const (
	testIssuer   = "https://id.example.com"
	testRedirect = "https://app.example.com/callback"
	adminID      = "admin-1"
	ownerID      = "owner-1"
	aliceID      = "alice"
)

var (
	keyOnce sync.Once
	testKey *rsa.PrivateKey
)

func signingKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	keyOnce.Do(func() {
		k, err := tokenjwt.GenerateKey(tokenjwt.DefaultKeyBits)
		if err != nil {
			panic(err)
		}
		testKey = k
	})
	return testKey
}

// fakeHasher mirrors bcrypt's contract without its cost
type fakeHasher struct{}

func (fakeHasher) HashSecret(secret string) (string, error) {
	return "hashed:" + secret, nil
}

func (fakeHasher) VerifySecret(hash, secret string) error {
	if hash != "hashed:"+secret {
		return errors.New("secret mismatch")
	}
	return nil
}

type harness struct {
	stores   *repository.Stores
	users    *repository.MemoryUserDirectory
	signer   *tokenjwt.TokenManager
	metrics  *metrics.Metrics
	clients  *ClientService
	consents *ConsentService
	tokens   *TokenService
	authz    *AuthorizeService
	oauth    *OAuthService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	users := repository.NewMemoryUserDirectory(
		domain.User{ID: aliceID, Email: "alice@example.com", EmailVerified: true, Name: "Alice", Avatar: "https://cdn.example.com/alice.png", AccountStatus: domain.AccountStatusActive},
		domain.User{ID: "bob", Email: "bob@example.com", Name: "Bob", AccountStatus: domain.AccountStatusActive},
		domain.User{ID: "mallory", Email: "mallory@example.com", AccountStatus: "suspended"},
	)
	stores := repository.NewMemoryStores(users)

	signer, err := tokenjwt.NewTokenManager(signingKey(t), testIssuer)
	require.NoError(t, err)

	m := metrics.New()
	policy := auth.NewPolicy(auth.NewStaticAdmins([]string{adminID}))
	supported := []string{"openid", "profile", "email", "offline_access"}

	h := &harness{stores: stores, users: users, signer: signer, metrics: m}
	h.clients = NewClientService(stores, fakeHasher{}, policy, supported, m)
	h.consents = NewConsentService(stores)
	h.tokens = NewTokenService(signer, stores.RefreshTokens, TokenConfig{
		AccessTokenTTL:  15 * time.Minute,
		IDTokenTTL:      15 * time.Minute,
		RefreshTokenTTL: 30 * 24 * time.Hour,
	}, m)
	pending := NewPendingStore(cache.NewMemory("test"), 10*time.Minute)
	h.authz = NewAuthorizeService(h.clients, h.consents, stores, pending, testIssuer, 10*time.Minute)
	h.oauth = NewOAuthService(h.clients, h.tokens, stores, testIssuer, m)
	return h
}

// registerClient registers a client for ownerID and approves it unless approve is false
func (h *harness) registerClient(t *testing.T, firstParty, approve bool, scopes ...string) (*domain.Client, string) {
	t.Helper()
	ctx := context.Background()

	owner := ownerID
	if firstParty {
		owner = adminID
	}
	reg, err := h.clients.RegisterClient(ctx, owner, RegisterClientRequest{
		ClientName:   "Test App",
		RedirectURIs: []string{testRedirect},
		Scopes:       scopes,
		IsFirstParty: firstParty,
	})
	require.NoError(t, err)

	if approve && !firstParty {
		_, err = h.clients.ApproveClient(ctx, adminID, reg.Client.ClientID, "ok")
		require.NoError(t, err)
	}
	client, err := h.clients.LookupClient(ctx, reg.Client.ClientID)
	require.NoError(t, err)
	return client, reg.ClientSecret
}

func pkcePair() (verifier, challenge string) {
	verifier = oauth2.GenerateVerifier()
	return verifier, oauth2.S256ChallengeFromVerifier(verifier)
}

func authorizeRequest(client *domain.Client, scope, challenge string) AuthorizeRequest {
	return AuthorizeRequest{
		ResponseType:        "code",
		ClientID:            client.ClientID,
		RedirectURI:         testRedirect,
		Scope:               scope,
		State:               "xyz",
		CodeChallenge:       challenge,
		CodeChallengeMethod: "S256",
		Nonce:               "n-0S6",
	}
}

func redirectParams(t *testing.T, raw string) url.Values {
	t.Helper()
	require.True(t, strings.HasPrefix(raw, testRedirect), "unexpected redirect %s", raw)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u.Query()
}

// obtainCode runs the authorization endpoint for userID, approving consent when asked
func (h *harness) obtainCode(t *testing.T, client *domain.Client, userID, scope string) (code, verifier string) {
	t.Helper()
	ctx := context.Background()

	verifier, challenge := pkcePair()
	res, err := h.authz.Authorize(ctx, userID, authorizeRequest(client, scope, challenge))
	require.NoError(t, err)

	if res.Consent != nil {
		res, err = h.authz.ApproveConsent(ctx, userID, res.Consent.ConsentID)
		require.NoError(t, err)
	}

	q := redirectParams(t, res.RedirectURL)
	require.Empty(t, q.Get("error"), "authorization failed: %s", q.Get("error_description"))
	require.NotEmpty(t, q.Get("code"))
	return q.Get("code"), verifier
}

func (h *harness) exchangeCode(client *domain.Client, secret, code, verifier string) (*TokenResponse, error) {
	return h.oauth.Token(context.Background(), TokenRequest{
		GrantType:    GrantTypeAuthorizationCode,
		Code:         code,
		RedirectURI:  testRedirect,
		CodeVerifier: verifier,
		ClientID:     client.ClientID,
		ClientSecret: secret,
	})
}

func (h *harness) refresh(client *domain.Client, secret, refreshToken, scope string) (*TokenResponse, error) {
	return h.oauth.Token(context.Background(), TokenRequest{
		GrantType:    GrantTypeRefreshToken,
		RefreshToken: refreshToken,
		Scope:        scope,
		ClientID:     client.ClientID,
		ClientSecret: secret,
	})
}

// shiftClock moves every service clock by d
func (h *harness) shiftClock(d time.Duration) {
	now := func() time.Time { return time.Now().Add(d) }
	h.clients.now = now
	h.consents.now = now
	h.tokens.now = now
	h.authz.now = now
	h.oauth.now = now
}
