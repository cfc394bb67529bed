package service

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/dlddu/tiny-oidc/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenService_AccessToken(t *testing.T) {
	h := newHarness(t)

	token, exp, err := h.tokens.GenerateAccessToken(AccessTokenParams{
		UserID:   aliceID,
		ClientID: "c1",
		Scopes:   []string{"openid", "profile"},
	})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), exp, 5*time.Second)

	claims, err := h.tokens.VerifyAccessToken(token, VerifyOptions{})
	require.NoError(t, err)
	assert.Equal(t, aliceID, claims.Subject)
	assert.Equal(t, "c1", claims.ClientID)
	assert.Equal(t, []string{"openid", "profile"}, claims.Scopes)
	assert.NotEmpty(t, claims.JTI)

	raw, err := h.signer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, testIssuer, raw["iss"])
	assert.Equal(t, TokenTypeAccess, raw["token_type"])

	_, err = h.tokens.VerifyAccessToken(token, VerifyOptions{RequiredScope: "openid"})
	assert.NoError(t, err)
	_, err = h.tokens.VerifyAccessToken(token, VerifyOptions{RequiredScope: "email"})
	assert.ErrorIs(t, err, ErrInsufficientScope)

	_, err = h.tokens.VerifyAccessToken(token+"x", VerifyOptions{})
	assert.ErrorIs(t, err, ErrInvalidToken)

	h.tokens.now = func() time.Time { return time.Now().Add(time.Hour) }
	_, err = h.tokens.VerifyAccessToken(token, VerifyOptions{})
	assert.ErrorIs(t, err, ErrInvalidToken, "expired")
}

func TestTokenService_IDTokenIsNotAnAccessToken(t *testing.T) {
	h := newHarness(t)
	user, err := h.users.FindByID(context.Background(), aliceID)
	require.NoError(t, err)

	idToken, err := h.tokens.GenerateIDToken(IDTokenParams{User: user, ClientID: "c1", Scopes: []string{"openid"}})
	require.NoError(t, err)

	_, err = h.tokens.VerifyAccessToken(idToken, VerifyOptions{})
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenService_IDToken(t *testing.T) {
	h := newHarness(t)
	user, err := h.users.FindByID(context.Background(), aliceID)
	require.NoError(t, err)
	authTime := time.Now().Add(-time.Minute).Truncate(time.Second)

	tests := []struct {
		name    string
		scopes  []string
		present []string
		absent  []string
	}{
		{"openid only", []string{"openid"}, nil, []string{"name", "picture", "email", "email_verified"}},
		{"profile", []string{"openid", "profile"}, []string{"name", "picture"}, []string{"email"}},
		{"email", []string{"openid", "email"}, []string{"email", "email_verified"}, []string{"name"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := h.tokens.GenerateIDToken(IDTokenParams{
				User:        user,
				ClientID:    "c1",
				Scopes:      tt.scopes,
				Nonce:       "n-0S6",
				AccessToken: "access",
				AuthTime:    authTime,
			})
			require.NoError(t, err)

			claims, err := h.signer.Verify(token, jwt.WithAudience("c1"))
			require.NoError(t, err)
			assert.Equal(t, aliceID, claims["sub"])
			assert.Equal(t, "c1", claims["azp"])
			assert.Equal(t, "n-0S6", claims["nonce"])
			assert.Equal(t, TokenTypeID, claims["token_type"])
			assert.Equal(t, AccessTokenHash("access"), claims["at_hash"])
			assert.EqualValues(t, authTime.Unix(), claims["auth_time"])
			for _, k := range tt.present {
				assert.Contains(t, claims, k)
			}
			for _, k := range tt.absent {
				assert.NotContains(t, claims, k)
			}
		})
	}

	_, err = h.tokens.GenerateIDToken(IDTokenParams{ClientID: "c1"})
	assert.Error(t, err)
}

func TestAccessTokenHash(t *testing.T) {
	sum := sha256.Sum256([]byte("ya29.token"))
	want := base64.RawURLEncoding.EncodeToString(sum[:16])
	assert.Equal(t, want, AccessTokenHash("ya29.token"))
	assert.Len(t, AccessTokenHash("ya29.token"), 22)
}

func TestUserClaims(t *testing.T) {
	u := &domain.User{ID: "u1", Email: "u@example.com", Name: "", Avatar: "https://cdn/x.png"}

	claims := UserClaims(u, []string{"openid", "profile", "email"})
	assert.NotContains(t, claims, "name", "empty values are omitted")
	assert.Equal(t, "https://cdn/x.png", claims["picture"])
	assert.Equal(t, false, claims["email_verified"])

	assert.Empty(t, UserClaims(u, []string{"openid"}))
}

func TestTokenService_RefreshRotation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	raw1, t1, err := h.tokens.GenerateRefreshToken(ctx, RefreshTokenParams{UserID: aliceID, ClientID: "c1", Scopes: []string{"openid"}})
	require.NoError(t, err)
	assert.NotEqual(t, raw1, t1.TokenHash)
	assert.Zero(t, t1.RotationCount)

	v, err := h.tokens.ValidateRefreshToken(ctx, raw1, "c1")
	require.NoError(t, err)
	require.True(t, v.IsValid)

	raw2, t2, err := h.tokens.RotateRefreshToken(ctx, v.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, t1.FamilyID, t2.FamilyID)
	assert.Equal(t, 1, t2.RotationCount)
	require.NotNil(t, t2.PreviousTokenID)
	assert.Equal(t, t1.ID, *t2.PreviousTokenID)

	// presenting the retired token revokes the whole family
	v, err = h.tokens.ValidateRefreshToken(ctx, raw1, "c1")
	require.NoError(t, err)
	assert.False(t, v.IsValid)
	assert.Equal(t, SecurityEventRefreshReuse, v.SecurityEvent)
	assert.Equal(t, t1.FamilyID, v.FamilyID)

	v, err = h.tokens.ValidateRefreshToken(ctx, raw2, "c1")
	require.NoError(t, err)
	assert.False(t, v.IsValid)
	assert.Equal(t, SecurityEventRevokedTokenUse, v.SecurityEvent)
}

func TestTokenService_ValidateRefreshToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	raw, _, err := h.tokens.GenerateRefreshToken(ctx, RefreshTokenParams{UserID: aliceID, ClientID: "c1", Scopes: []string{"openid"}})
	require.NoError(t, err)

	v, err := h.tokens.ValidateRefreshToken(ctx, "unknown", "c1")
	require.NoError(t, err)
	assert.False(t, v.IsValid)
	assert.Empty(t, v.SecurityEvent)

	v, err = h.tokens.ValidateRefreshToken(ctx, raw, "c2")
	require.NoError(t, err)
	assert.False(t, v.IsValid)
	assert.Equal(t, SecurityEventRefreshClientMismatch, v.SecurityEvent)

	v, err = h.tokens.ValidateRefreshToken(ctx, raw, "c1")
	require.NoError(t, err)
	assert.True(t, v.IsValid, "a client mismatch does not revoke the family")

	h.tokens.now = func() time.Time { return time.Now().Add(31 * 24 * time.Hour) }
	v, err = h.tokens.ValidateRefreshToken(ctx, raw, "c1")
	require.NoError(t, err)
	assert.False(t, v.IsValid, "expired")
	assert.Empty(t, v.SecurityEvent)
}

func TestTokenService_ConcurrentRotation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	raw, _, err := h.tokens.GenerateRefreshToken(ctx, RefreshTokenParams{UserID: aliceID, ClientID: "c1", Scopes: []string{"openid"}})
	require.NoError(t, err)
	v, err := h.tokens.ValidateRefreshToken(ctx, raw, "c1")
	require.NoError(t, err)
	require.True(t, v.IsValid)

	const n = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		rejected  int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := h.tokens.RotateRefreshToken(ctx, v.RefreshToken)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if assert.ErrorIs(t, err, ErrInvalidGrant) {
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, n-1, rejected)

	stored, err := h.stores.RefreshTokens.GetByTokenHash(ctx, v.RefreshToken.TokenHash)
	require.NoError(t, err)
	assert.True(t, stored.IsRevoked, "losing rotations revoke the family")
	assert.Equal(t, RevokeReasonReuse, stored.RevokedReason)
}

func TestTokenService_RevokeRefreshToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	raw, tok, err := h.tokens.GenerateRefreshToken(ctx, RefreshTokenParams{UserID: aliceID, ClientID: "c1", Scopes: []string{"openid"}})
	require.NoError(t, err)

	require.NoError(t, h.tokens.RevokeRefreshToken(ctx, "unknown", "c1"))
	require.NoError(t, h.tokens.RevokeRefreshToken(ctx, raw, "c2"))

	stored, err := h.stores.RefreshTokens.GetByTokenHash(ctx, tok.TokenHash)
	require.NoError(t, err)
	assert.False(t, stored.IsRevoked, "other clients cannot revoke the token")

	require.NoError(t, h.tokens.RevokeRefreshToken(ctx, raw, "c1"))
	stored, err = h.stores.RefreshTokens.GetByTokenHash(ctx, tok.TokenHash)
	require.NoError(t, err)
	assert.True(t, stored.IsRevoked)
	assert.Equal(t, RevokeReasonClient, stored.RevokedReason)
}
