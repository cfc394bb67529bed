package service

import (
	"context"
	"testing"

	"github.com/dlddu/tiny-oidc/internal/auth"
	"github.com/dlddu/tiny-oidc/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientService_RegisterClient(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	t.Run("third-party client starts pending", func(t *testing.T) {
		reg, err := h.clients.RegisterClient(ctx, ownerID, RegisterClientRequest{
			ClientName:   "  Photo Printer  ",
			RedirectURIs: []string{testRedirect},
		})
		require.NoError(t, err)

		assert.Equal(t, domain.ClientStatusPending, reg.Client.Status)
		assert.Equal(t, "Photo Printer", reg.Client.ClientName)
		assert.Equal(t, domain.ApplicationTypeWeb, reg.Client.ApplicationType)
		assert.Equal(t, []string{"openid", "profile", "email"}, reg.Client.Scopes)
		assert.Equal(t, ownerID, reg.Client.Owner.UserID)
		assert.NotEmpty(t, reg.ClientSecret)
		assert.NotEqual(t, reg.ClientSecret, reg.Client.ClientSecretHash)
		assert.Equal(t, "hashed:"+reg.ClientSecret, reg.Client.ClientSecretHash)
	})

	t.Run("openid is always included", func(t *testing.T) {
		reg, err := h.clients.RegisterClient(ctx, ownerID, RegisterClientRequest{
			ClientName:   "Mailer",
			RedirectURIs: []string{testRedirect},
			Scopes:       []string{"email", "email", "offline_access"},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"openid", "email", "offline_access"}, reg.Client.Scopes)
	})

	t.Run("first-party client requires an admin", func(t *testing.T) {
		_, err := h.clients.RegisterClient(ctx, ownerID, RegisterClientRequest{
			ClientName:   "Console",
			RedirectURIs: []string{testRedirect},
			IsFirstParty: true,
		})
		assert.ErrorIs(t, err, auth.ErrForbidden)

		reg, err := h.clients.RegisterClient(ctx, adminID, RegisterClientRequest{
			ClientName:   "Console",
			RedirectURIs: []string{testRedirect},
			IsFirstParty: true,
		})
		require.NoError(t, err)
		assert.Equal(t, domain.ClientStatusApproved, reg.Client.Status)
		assert.Equal(t, adminID, reg.Client.StatusChangedBy)
	})

	tests := []struct {
		name string
		req  RegisterClientRequest
	}{
		{"missing name", RegisterClientRequest{RedirectURIs: []string{testRedirect}}},
		{"missing redirect", RegisterClientRequest{ClientName: "x"}},
		{"relative redirect", RegisterClientRequest{ClientName: "x", RedirectURIs: []string{"/callback"}}},
		{"fragment", RegisterClientRequest{ClientName: "x", RedirectURIs: []string{"https://a.example.com/cb#frag"}}},
		{"plain http", RegisterClientRequest{ClientName: "x", RedirectURIs: []string{"http://a.example.com/cb"}}},
		{"custom scheme on web app", RegisterClientRequest{ClientName: "x", RedirectURIs: []string{"com.example.app:/cb"}}},
		{"unsupported scope", RegisterClientRequest{ClientName: "x", RedirectURIs: []string{testRedirect}, Scopes: []string{"admin"}}},
		{"unknown application type", RegisterClientRequest{ClientName: "x", RedirectURIs: []string{testRedirect}, ApplicationType: "desktop"}},
	}
	for _, tt := range tests {
		t.Run("rejects "+tt.name, func(t *testing.T) {
			_, err := h.clients.RegisterClient(ctx, ownerID, tt.req)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}

	t.Run("accepts loopback and native redirects", func(t *testing.T) {
		_, err := h.clients.RegisterClient(ctx, ownerID, RegisterClientRequest{
			ClientName:      "CLI",
			ApplicationType: domain.ApplicationTypeNative,
			RedirectURIs:    []string{"http://127.0.0.1:8910/cb", "http://localhost/cb", "com.example.app:/oauth"},
		})
		assert.NoError(t, err)
	})
}

func TestClientService_ValidateClient(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	client, secret := h.registerClient(t, false, true)

	got, err := h.clients.ValidateClient(ctx, client.ClientID, secret)
	require.NoError(t, err)
	assert.Equal(t, client.ClientID, got.ClientID)

	_, err = h.clients.ValidateClient(ctx, client.ClientID, "wrong")
	assert.ErrorIs(t, err, ErrInvalidClient)
	stored, _ := h.clients.LookupClient(ctx, client.ClientID)
	assert.Equal(t, 1, stored.FailedAuthAttempts)

	_, err = h.clients.ValidateClient(ctx, client.ClientID, secret)
	require.NoError(t, err)
	stored, _ = h.clients.LookupClient(ctx, client.ClientID)
	assert.Zero(t, stored.FailedAuthAttempts, "success resets the failure counter")

	_, err = h.clients.ValidateClient(ctx, "unknown", secret)
	assert.ErrorIs(t, err, ErrInvalidClient)

	_, err = h.clients.ValidateClient(ctx, client.ClientID, "")
	assert.ErrorIs(t, err, ErrInvalidClient)

	pending, pendingSecret := h.registerClient(t, false, false)
	_, err = h.clients.ValidateClient(ctx, pending.ClientID, pendingSecret)
	assert.ErrorIs(t, err, ErrUnauthorizedClient)
	_, err = h.clients.ValidateClient(ctx, pending.ClientID, "wrong")
	assert.ErrorIs(t, err, ErrInvalidClient, "secret is checked before status")
}

func TestClientService_Lifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	client, secret := h.registerClient(t, false, false)
	id := client.ClientID

	_, err := h.clients.ApproveClient(ctx, ownerID, id, "")
	assert.ErrorIs(t, err, auth.ErrForbidden)

	_, err = h.clients.SuspendClient(ctx, adminID, id, "")
	assert.ErrorIs(t, err, ErrInvalidStatusTransition, "pending cannot be suspended")

	approved, err := h.clients.ApproveClient(ctx, adminID, id, "looks fine")
	require.NoError(t, err)
	assert.Equal(t, domain.ClientStatusApproved, approved.Status)
	assert.Equal(t, "looks fine", approved.StatusReason)
	assert.Equal(t, adminID, approved.StatusChangedBy)
	require.NotNil(t, approved.StatusChangedAt)

	_, err = h.clients.ApproveClient(ctx, adminID, id, "")
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)
	_, err = h.clients.RejectClient(ctx, adminID, id, "")
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)

	suspended, err := h.clients.SuspendClient(ctx, adminID, id, "abuse")
	require.NoError(t, err)
	assert.Equal(t, domain.ClientStatusSuspended, suspended.Status)

	_, err = h.clients.ValidateClient(ctx, id, secret)
	assert.ErrorIs(t, err, ErrUnauthorizedClient, "suspended clients cannot authenticate")

	reactivated, err := h.clients.ReactivateClient(ctx, adminID, id, "resolved")
	require.NoError(t, err)
	assert.Equal(t, domain.ClientStatusApproved, reactivated.Status)

	_, err = h.clients.ApproveClient(ctx, adminID, "missing", "")
	assert.ErrorIs(t, err, ErrClientNotFound)

	other, _ := h.registerClient(t, false, false)
	rejected, err := h.clients.RejectClient(ctx, adminID, other.ClientID, "incomplete")
	require.NoError(t, err)
	assert.Equal(t, domain.ClientStatusRejected, rejected.Status)
	_, err = h.clients.ApproveClient(ctx, adminID, other.ClientID, "")
	assert.ErrorIs(t, err, ErrInvalidStatusTransition, "rejected is terminal")
}

func TestClientService_ListClients(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.registerClient(t, false, false)
	h.registerClient(t, false, true)

	_, err := h.clients.ListClients(ctx, ownerID, "")
	assert.ErrorIs(t, err, auth.ErrForbidden)

	pending, err := h.clients.ListClients(ctx, adminID, domain.ClientStatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	all, err := h.clients.ListClients(ctx, adminID, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	own, err := h.clients.ListOwnClients(ctx, ownerID)
	require.NoError(t, err)
	assert.Len(t, own, 2)
}

func TestClientService_OwnerOperations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	client, secret := h.registerClient(t, false, true)
	id := client.ClientID

	t.Run("get is limited to owner and admins", func(t *testing.T) {
		_, err := h.clients.GetClient(ctx, ownerID, id)
		assert.NoError(t, err)
		_, err = h.clients.GetClient(ctx, adminID, id)
		assert.NoError(t, err)
		_, err = h.clients.GetClient(ctx, "stranger", id)
		assert.ErrorIs(t, err, ErrNotClientOwner)
		_, err = h.clients.GetClient(ctx, ownerID, "missing")
		assert.ErrorIs(t, err, ErrClientNotFound)
	})

	t.Run("update", func(t *testing.T) {
		name := "Renamed"
		updated, err := h.clients.UpdateClient(ctx, ownerID, id, UpdateClientRequest{
			ClientName:   &name,
			RedirectURIs: []string{"https://new.example.com/cb"},
		})
		require.NoError(t, err)
		assert.Equal(t, "Renamed", updated.ClientName)
		assert.Equal(t, []string{"https://new.example.com/cb"}, updated.RedirectURIs)
		assert.Equal(t, client.Scopes, updated.Scopes)

		empty := " "
		_, err = h.clients.UpdateClient(ctx, ownerID, id, UpdateClientRequest{ClientName: &empty})
		assert.ErrorIs(t, err, ErrValidation)
		_, err = h.clients.UpdateClient(ctx, "stranger", id, UpdateClientRequest{ClientName: &name})
		assert.ErrorIs(t, err, ErrNotClientOwner)
	})

	t.Run("rotate secret", func(t *testing.T) {
		_, err := h.clients.RotateClientSecret(ctx, adminID, id)
		assert.ErrorIs(t, err, ErrNotClientOwner, "only the owner may rotate")

		newSecret, err := h.clients.RotateClientSecret(ctx, ownerID, id)
		require.NoError(t, err)
		assert.NotEqual(t, secret, newSecret)

		_, err = h.clients.ValidateClient(ctx, id, secret)
		assert.ErrorIs(t, err, ErrInvalidClient)
		_, err = h.clients.ValidateClient(ctx, id, newSecret)
		assert.NoError(t, err)
	})
}

func TestClientService_DeleteClientCascades(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	client, secret := h.registerClient(t, false, true, "openid", "offline_access")

	code, verifier := h.obtainCode(t, client, aliceID, "openid offline_access")
	resp, err := h.exchangeCode(client, secret, code, verifier)
	require.NoError(t, err)
	require.NotEmpty(t, resp.RefreshToken)

	assert.ErrorIs(t, h.clients.DeleteClient(ctx, "stranger", client.ClientID), ErrNotClientOwner)
	require.NoError(t, h.clients.DeleteClient(ctx, ownerID, client.ClientID))

	_, err = h.clients.LookupClient(ctx, client.ClientID)
	assert.ErrorIs(t, err, ErrClientNotFound)

	v, err := h.tokens.ValidateRefreshToken(ctx, resp.RefreshToken, client.ClientID)
	require.NoError(t, err)
	assert.False(t, v.IsValid)

	views, err := h.consents.ListUserConsents(ctx, aliceID)
	require.NoError(t, err)
	assert.Empty(t, views)
}

func TestClientService_ValidateScopes(t *testing.T) {
	h := newHarness(t)
	client := &domain.Client{Scopes: []string{"openid", "profile"}}

	granted, denied := h.clients.ValidateScopes(client, []string{"openid", "email", "profile", "offline_access"})
	assert.Equal(t, []string{"openid", "profile"}, granted)
	assert.Equal(t, []string{"email", "offline_access"}, denied)
}

func TestClientService_ValidateRedirectURI(t *testing.T) {
	h := newHarness(t)
	client := &domain.Client{RedirectURIs: []string{testRedirect}}

	assert.True(t, h.clients.ValidateRedirectURI(client, testRedirect))
	assert.False(t, h.clients.ValidateRedirectURI(client, testRedirect+"/"))
	assert.False(t, h.clients.ValidateRedirectURI(client, "https://APP.example.com/callback"))
	assert.False(t, h.clients.ValidateRedirectURI(client, ""))
}
