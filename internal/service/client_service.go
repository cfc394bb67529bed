package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/dlddu/tiny-oidc/internal/auth"
	"github.com/dlddu/tiny-oidc/internal/crypto"
	"github.com/dlddu/tiny-oidc/internal/domain"
	"github.com/dlddu/tiny-oidc/internal/logger"
	"github.com/dlddu/tiny-oidc/internal/metrics"
	"github.com/dlddu/tiny-oidc/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const clientSecretBytes = 32

// RegisterClientRequest is the input of RegisterClient
type RegisterClientRequest struct {
	ClientName      string                 `json:"client_name"`
	Description     string                 `json:"description"`
	LogoURI         string                 `json:"logo_uri"`
	WebsiteURI      string                 `json:"website_uri"`
	RedirectURIs    []string               `json:"redirect_uris"`
	Scopes          []string               `json:"scopes"`
	ApplicationType domain.ApplicationType `json:"application_type"`
	IsFirstParty    bool                   `json:"is_first_party"`
	OwnerEmail      string                 `json:"-"`
}

// UpdateClientRequest carries the owner-editable fields; nil leaves a field unchanged
type UpdateClientRequest struct {
	ClientName   *string  `json:"client_name"`
	Description  *string  `json:"description"`
	LogoURI      *string  `json:"logo_uri"`
	WebsiteURI   *string  `json:"website_uri"`
	RedirectURIs []string `json:"redirect_uris"`
	Scopes       []string `json:"scopes"`
}

// RegisteredClient is returned once at registration; ClientSecret is never stored in plain text
type RegisteredClient struct {
	Client       *domain.Client
	ClientSecret string
}

// ClientPublicInfo is the metadata shown to end users on consent screens
type ClientPublicInfo struct {
	ClientID     string `json:"client_id"`
	ClientName   string `json:"client_name"`
	Description  string `json:"description,omitempty"`
	LogoURI      string `json:"logo_uri,omitempty"`
	WebsiteURI   string `json:"website_uri,omitempty"`
	IsFirstParty bool   `json:"is_first_party"`
}

// PublicInfo returns the client's public metadata
func PublicInfo(c *domain.Client) ClientPublicInfo {
	return ClientPublicInfo{
		ClientID:     c.ClientID,
		ClientName:   c.ClientName,
		Description:  c.Description,
		LogoURI:      c.LogoURI,
		WebsiteURI:   c.WebsiteURI,
		IsFirstParty: c.IsFirstParty,
	}
}

// ClientService handles business logic for OAuth clients
type ClientService struct {
	clients         repository.ClientRepository
	codes           repository.AuthCodeRepository
	refreshTokens   repository.RefreshTokenRepository
	consents        repository.ConsentRepository
	hasher          SecretHasher
	policy          ClientPolicy
	supportedScopes []string
	metrics         *metrics.Metrics
	now             func() time.Time
}

// NewClientService creates a new ClientService instance
func NewClientService(stores *repository.Stores, hasher SecretHasher, policy ClientPolicy, supportedScopes []string, m *metrics.Metrics) *ClientService {
	return &ClientService{
		clients:         stores.Clients,
		codes:           stores.Codes,
		refreshTokens:   stores.RefreshTokens,
		consents:        stores.Consents,
		hasher:          hasher,
		policy:          policy,
		supportedScopes: supportedScopes,
		metrics:         m,
		now:             time.Now,
	}
}

// RegisterClient creates a client owned by ownerID. Third-party clients start
// pending; first-party clients are approved immediately and require an admin.
func (s *ClientService) RegisterClient(ctx context.Context, ownerID string, req RegisterClientRequest) (*RegisteredClient, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner is required", ErrValidation)
	}
	if req.IsFirstParty {
		if err := s.policy.RequireAdmin(ctx, ownerID); err != nil {
			return nil, err
		}
	}

	req.ClientName = strings.TrimSpace(req.ClientName)
	if req.ClientName == "" {
		return nil, fmt.Errorf("%w: client_name is required", ErrValidation)
	}
	if req.ApplicationType == "" {
		req.ApplicationType = domain.ApplicationTypeWeb
	}
	if err := validateApplicationType(req.ApplicationType); err != nil {
		return nil, err
	}
	if err := validateRedirectURIs(req.RedirectURIs, req.ApplicationType); err != nil {
		return nil, err
	}
	scopes, err := s.normalizeScopes(req.Scopes)
	if err != nil {
		return nil, err
	}

	secret, err := crypto.RandomToken(clientSecretBytes)
	if err != nil {
		return nil, err
	}
	secretHash, err := s.hasher.HashSecret(secret)
	if err != nil {
		return nil, err
	}

	now := s.now()
	client := &domain.Client{
		ID:               uuid.NewString(),
		ClientID:         uuid.NewString(),
		ClientSecretHash: secretHash,
		ClientName:       req.ClientName,
		Description:      req.Description,
		LogoURI:          req.LogoURI,
		WebsiteURI:       req.WebsiteURI,
		RedirectURIs:     slices.Clone(req.RedirectURIs),
		Scopes:           scopes,
		ApplicationType:  req.ApplicationType,
		IsFirstParty:     req.IsFirstParty,
		Status:           domain.ClientStatusPending,
		Owner:            domain.ClientOwner{UserID: ownerID, Email: req.OwnerEmail},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if req.IsFirstParty {
		client.Status = domain.ClientStatusApproved
		client.StatusReason = "first-party client"
		client.StatusChangedBy = ownerID
		client.StatusChangedAt = &now
	}

	if err := s.clients.Create(ctx, client); err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	logger.From(ctx).Info("client registered",
		logger.ClientID(client.ClientID),
		logger.UserID(ownerID),
		zap.String("status", string(client.Status)),
	)
	return &RegisteredClient{Client: client, ClientSecret: secret}, nil
}

// ValidateClient authenticates a client at the token endpoint. Unknown
// clients and bad secrets are invalid_client; a client that authenticated
// but is not approved is unauthorized_client.
func (s *ClientService) ValidateClient(ctx context.Context, clientID, clientSecret string) (*domain.Client, error) {
	if clientID == "" || clientSecret == "" {
		return nil, NewInvalidClientError("client authentication failed")
	}

	client, err := s.clients.GetByClientID(ctx, clientID)
	if err != nil {
		if errors.Is(err, repository.ErrClientNotFound) {
			return nil, NewInvalidClientError("client authentication failed")
		}
		return nil, err
	}

	if err := s.hasher.VerifySecret(client.ClientSecretHash, clientSecret); err != nil {
		if recErr := s.clients.RecordAuthFailure(ctx, clientID, s.now()); recErr != nil {
			logger.From(ctx).Error("failed to record client auth failure", logger.ClientID(clientID), logger.Err(recErr))
		}
		logger.From(ctx).Warn("client authentication failed",
			logger.SecurityEvent(SecurityEventClientAuthFailed),
			logger.ClientID(clientID),
			zap.Int("failed_attempts", client.FailedAuthAttempts+1),
		)
		s.metrics.SecurityEvent(SecurityEventClientAuthFailed)
		return nil, NewInvalidClientError("client authentication failed")
	}

	if client.FailedAuthAttempts > 0 {
		if err := s.clients.ResetAuthFailures(ctx, clientID); err != nil {
			logger.From(ctx).Error("failed to reset client auth failures", logger.ClientID(clientID), logger.Err(err))
		}
	}

	if !client.IsApproved() {
		return nil, NewUnauthorizedClientError("client is not approved")
	}
	return client, nil
}

// LookupClient loads a client by client_id without authenticating it
func (s *ClientService) LookupClient(ctx context.Context, clientID string) (*domain.Client, error) {
	client, err := s.clients.GetByClientID(ctx, clientID)
	if errors.Is(err, repository.ErrClientNotFound) {
		return nil, ErrClientNotFound
	}
	return client, err
}

// ValidateRedirectURI requires an exact match against the registered list
func (s *ClientService) ValidateRedirectURI(client *domain.Client, redirectURI string) bool {
	return redirectURI != "" && slices.Contains(client.RedirectURIs, redirectURI)
}

// ValidateScopes partitions requested scopes by the client's allow-list
func (s *ClientService) ValidateScopes(client *domain.Client, requested []string) (granted, denied []string) {
	for _, scope := range requested {
		if slices.Contains(client.Scopes, scope) {
			granted = append(granted, scope)
		} else {
			denied = append(denied, scope)
		}
	}
	return granted, denied
}

type lifecycleAction struct {
	name string
	from domain.ClientStatus
	to   domain.ClientStatus
}

var (
	actionApprove    = lifecycleAction{"approve", domain.ClientStatusPending, domain.ClientStatusApproved}
	actionReject     = lifecycleAction{"reject", domain.ClientStatusPending, domain.ClientStatusRejected}
	actionSuspend    = lifecycleAction{"suspend", domain.ClientStatusApproved, domain.ClientStatusSuspended}
	actionReactivate = lifecycleAction{"reactivate", domain.ClientStatusSuspended, domain.ClientStatusApproved}
)

// ApproveClient moves a pending client to approved
func (s *ClientService) ApproveClient(ctx context.Context, adminID, clientID, reason string) (*domain.Client, error) {
	return s.transition(ctx, adminID, clientID, reason, actionApprove)
}

// RejectClient moves a pending client to rejected
func (s *ClientService) RejectClient(ctx context.Context, adminID, clientID, reason string) (*domain.Client, error) {
	return s.transition(ctx, adminID, clientID, reason, actionReject)
}

// SuspendClient moves an approved client to suspended
func (s *ClientService) SuspendClient(ctx context.Context, adminID, clientID, reason string) (*domain.Client, error) {
	return s.transition(ctx, adminID, clientID, reason, actionSuspend)
}

// ReactivateClient moves a suspended client back to approved
func (s *ClientService) ReactivateClient(ctx context.Context, adminID, clientID, reason string) (*domain.Client, error) {
	return s.transition(ctx, adminID, clientID, reason, actionReactivate)
}

func (s *ClientService) transition(ctx context.Context, adminID, clientID, reason string, action lifecycleAction) (*domain.Client, error) {
	if err := s.policy.RequireAdmin(ctx, adminID); err != nil {
		return nil, err
	}

	client, err := s.clients.UpdateStatus(ctx, clientID, action.from, action.to, reason, adminID, s.now())
	switch {
	case errors.Is(err, repository.ErrClientNotFound):
		return nil, ErrClientNotFound
	case errors.Is(err, repository.ErrStatusConflict):
		return nil, fmt.Errorf("%w: cannot %s a client that is not %s", ErrInvalidStatusTransition, action.name, action.from)
	case err != nil:
		return nil, fmt.Errorf("failed to %s client: %w", action.name, err)
	}

	s.metrics.ClientTransition(string(action.to))
	logger.From(ctx).Info("client status changed",
		logger.ClientID(clientID),
		logger.UserID(adminID),
		zap.String("from", string(action.from)),
		zap.String("to", string(action.to)),
	)
	return client, nil
}

// loadManaged loads a client the actor may manage
func (s *ClientService) loadManaged(ctx context.Context, actorID, clientID string) (*domain.Client, error) {
	client, err := s.LookupClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if err := s.policy.CanManageClient(ctx, actorID, client); err != nil {
		if errors.Is(err, auth.ErrForbidden) {
			return nil, fmt.Errorf("%w: %w", ErrNotClientOwner, err)
		}
		return nil, err
	}
	return client, nil
}

// GetClient returns a client to its owner or an admin
func (s *ClientService) GetClient(ctx context.Context, actorID, clientID string) (*domain.Client, error) {
	return s.loadManaged(ctx, actorID, clientID)
}

// ListOwnClients lists the clients registered by ownerID
func (s *ClientService) ListOwnClients(ctx context.Context, ownerID string) ([]*domain.Client, error) {
	return s.clients.ListByOwner(ctx, ownerID)
}

// ListClients lists every client in status (all when empty); admin only
func (s *ClientService) ListClients(ctx context.Context, adminID string, status domain.ClientStatus) ([]*domain.Client, error) {
	if err := s.policy.RequireAdmin(ctx, adminID); err != nil {
		return nil, err
	}
	return s.clients.ListByStatus(ctx, status)
}

// UpdateClient applies owner edits to client metadata
func (s *ClientService) UpdateClient(ctx context.Context, actorID, clientID string, req UpdateClientRequest) (*domain.Client, error) {
	client, err := s.loadManaged(ctx, actorID, clientID)
	if err != nil {
		return nil, err
	}

	if req.ClientName != nil {
		name := strings.TrimSpace(*req.ClientName)
		if name == "" {
			return nil, fmt.Errorf("%w: client_name cannot be empty", ErrValidation)
		}
		client.ClientName = name
	}
	if req.Description != nil {
		client.Description = *req.Description
	}
	if req.LogoURI != nil {
		client.LogoURI = *req.LogoURI
	}
	if req.WebsiteURI != nil {
		client.WebsiteURI = *req.WebsiteURI
	}
	if req.RedirectURIs != nil {
		if err := validateRedirectURIs(req.RedirectURIs, client.ApplicationType); err != nil {
			return nil, err
		}
		client.RedirectURIs = slices.Clone(req.RedirectURIs)
	}
	if req.Scopes != nil {
		scopes, err := s.normalizeScopes(req.Scopes)
		if err != nil {
			return nil, err
		}
		client.Scopes = scopes
	}
	client.UpdatedAt = s.now()

	if err := s.clients.Update(ctx, client); err != nil {
		return nil, fmt.Errorf("failed to update client: %w", err)
	}
	return client, nil
}

// RotateClientSecret issues a new secret. It is returned exactly once;
// the previous secret stops working immediately.
func (s *ClientService) RotateClientSecret(ctx context.Context, actorID, clientID string) (string, error) {
	client, err := s.LookupClient(ctx, clientID)
	if err != nil {
		return "", err
	}
	if client.Owner.UserID != actorID {
		return "", ErrNotClientOwner
	}

	secret, err := crypto.RandomToken(clientSecretBytes)
	if err != nil {
		return "", err
	}
	hash, err := s.hasher.HashSecret(secret)
	if err != nil {
		return "", err
	}
	if err := s.clients.UpdateSecret(ctx, clientID, hash, s.now()); err != nil {
		return "", fmt.Errorf("failed to store client secret: %w", err)
	}

	logger.From(ctx).Info("client secret rotated", logger.ClientID(clientID), logger.UserID(actorID))
	return secret, nil
}

// DeleteClient removes a client with its refresh tokens, consents and codes
func (s *ClientService) DeleteClient(ctx context.Context, actorID, clientID string) error {
	if _, err := s.loadManaged(ctx, actorID, clientID); err != nil {
		return err
	}

	revoked, err := s.refreshTokens.DeleteByClient(ctx, clientID)
	if err != nil {
		return fmt.Errorf("failed to delete refresh tokens: %w", err)
	}
	if err := s.consents.DeleteByClient(ctx, clientID); err != nil {
		return fmt.Errorf("failed to delete consents: %w", err)
	}
	if err := s.codes.DeleteByClient(ctx, clientID); err != nil {
		return fmt.Errorf("failed to delete authorization codes: %w", err)
	}
	if err := s.clients.Delete(ctx, clientID); err != nil && !errors.Is(err, repository.ErrClientNotFound) {
		return fmt.Errorf("failed to delete client: %w", err)
	}

	logger.From(ctx).Info("client deleted",
		logger.ClientID(clientID),
		logger.UserID(actorID),
		zap.Int64("refresh_tokens_deleted", revoked),
	)
	return nil
}

func (s *ClientService) normalizeScopes(scopes []string) ([]string, error) {
	if len(scopes) == 0 {
		return []string{domain.ScopeOpenID, domain.ScopeProfile, domain.ScopeEmail}, nil
	}

	out := ParseScopes(strings.Join(scopes, " "))
	for _, scope := range out {
		if !slices.Contains(s.supportedScopes, scope) {
			return nil, fmt.Errorf("%w: unsupported scope %q", ErrValidation, scope)
		}
	}
	if !slices.Contains(out, domain.ScopeOpenID) {
		out = append([]string{domain.ScopeOpenID}, out...)
	}
	return out, nil
}

func validateApplicationType(t domain.ApplicationType) error {
	switch t {
	case domain.ApplicationTypeWeb, domain.ApplicationTypeNative, domain.ApplicationTypeSPA:
		return nil
	default:
		return fmt.Errorf("%w: unknown application_type %q", ErrValidation, t)
	}
}

// validateRedirectURIs requires absolute URIs without fragments. Only https is
// accepted, except http on loopback hosts and, for native apps, private-use
// schemes such as com.example.app:/callback.
func validateRedirectURIs(uris []string, appType domain.ApplicationType) error {
	if len(uris) == 0 {
		return fmt.Errorf("%w: at least one redirect_uri is required", ErrValidation)
	}

	for _, raw := range uris {
		u, err := url.Parse(raw)
		if err != nil || !u.IsAbs() {
			return fmt.Errorf("%w: redirect_uri %q must be an absolute URI", ErrValidation, raw)
		}
		if u.Fragment != "" || strings.Contains(raw, "#") {
			return fmt.Errorf("%w: redirect_uri %q must not contain a fragment", ErrValidation, raw)
		}

		switch u.Scheme {
		case "https":
		case "http":
			if !isLoopback(u.Hostname()) {
				return fmt.Errorf("%w: redirect_uri %q must use https", ErrValidation, raw)
			}
		default:
			if appType != domain.ApplicationTypeNative || !strings.Contains(u.Scheme, ".") {
				return fmt.Errorf("%w: redirect_uri %q has an unsupported scheme", ErrValidation, raw)
			}
		}
	}
	return nil
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
