package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dlddu/tiny-oidc/internal/domain"
	"github.com/dlddu/tiny-oidc/internal/logger"
	"github.com/dlddu/tiny-oidc/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ConsentCheck is the outcome of CheckConsentNeeded
type ConsentCheck struct {
	Needed        bool
	GrantedScopes []string
	MissingScopes []string
}

// ConsentView is a consent joined with the client's public metadata
type ConsentView struct {
	Client         ClientPublicInfo `json:"client"`
	GrantedScopes  []string         `json:"granted_scopes"`
	FirstGrantedAt time.Time        `json:"first_granted_at"`
	LastUpdatedAt  time.Time        `json:"last_updated_at"`
}

// ConsentService manages the scopes users have granted to clients
type ConsentService struct {
	consents      repository.ConsentRepository
	refreshTokens repository.RefreshTokenRepository
	clients       repository.ClientRepository
	now           func() time.Time
}

// NewConsentService creates a new ConsentService instance
func NewConsentService(stores *repository.Stores) *ConsentService {
	return &ConsentService{
		consents:      stores.Consents,
		refreshTokens: stores.RefreshTokens,
		clients:       stores.Clients,
		now:           time.Now,
	}
}

func (s *ConsentService) activeConsent(ctx context.Context, userID, clientID string) (*domain.UserConsent, error) {
	consent, err := s.consents.Get(ctx, userID, clientID)
	if err != nil {
		if errors.Is(err, repository.ErrConsentNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !consent.IsActive {
		return nil, nil
	}
	return consent, nil
}

// CheckConsentNeeded compares requested scopes with the active grant.
// First-party clients never need consent.
func (s *ConsentService) CheckConsentNeeded(ctx context.Context, userID, clientID string, requested []string, isFirstParty bool) (*ConsentCheck, error) {
	if isFirstParty {
		return &ConsentCheck{Needed: false, GrantedScopes: slices.Clone(requested)}, nil
	}

	consent, err := s.activeConsent(ctx, userID, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to load consent: %w", err)
	}

	var granted []string
	if consent != nil {
		granted = consent.GrantedScopes
	}
	missing := difference(requested, granted)
	return &ConsentCheck{
		Needed:        len(missing) > 0,
		GrantedScopes: slices.Clone(granted),
		MissingScopes: missing,
	}, nil
}

// GrantConsent adds scopes to the user's grant for clientID, reactivating
// a previously revoked record.
func (s *ConsentService) GrantConsent(ctx context.Context, userID, clientID string, scopes []string) (*domain.UserConsent, error) {
	now := s.now()

	consent, err := s.consents.Get(ctx, userID, clientID)
	switch {
	case errors.Is(err, repository.ErrConsentNotFound):
		consent = &domain.UserConsent{
			ID:             uuid.NewString(),
			UserID:         userID,
			ClientID:       clientID,
			FirstGrantedAt: now,
		}
	case err != nil:
		return nil, fmt.Errorf("failed to load consent: %w", err)
	}

	if consent.IsActive {
		consent.GrantedScopes = union(consent.GrantedScopes, scopes)
	} else {
		consent.GrantedScopes = slices.Clone(scopes)
	}
	consent.IsActive = true
	consent.LastUpdatedAt = now
	consent.History = append(consent.History, domain.ConsentEvent{
		Action: domain.ConsentActionGranted,
		Scopes: slices.Clone(scopes),
		At:     now,
	})

	if err := s.consents.Save(ctx, consent); err != nil {
		return nil, fmt.Errorf("failed to save consent: %w", err)
	}

	logger.From(ctx).Info("consent granted",
		logger.UserID(userID),
		logger.ClientID(clientID),
		zap.Strings("scopes", scopes),
	)
	return consent, nil
}

// RevokeConsent deactivates the grant and deletes the pair's refresh tokens
func (s *ConsentService) RevokeConsent(ctx context.Context, userID, clientID string) error {
	consent, err := s.activeConsent(ctx, userID, clientID)
	if err != nil {
		return fmt.Errorf("failed to load consent: %w", err)
	}
	if consent == nil {
		return ErrConsentNotFound
	}

	now := s.now()
	consent.History = append(consent.History, domain.ConsentEvent{
		Action: domain.ConsentActionRevoked,
		Scopes: consent.GrantedScopes,
		At:     now,
	})
	consent.GrantedScopes = []string{}
	consent.IsActive = false
	consent.LastUpdatedAt = now

	if err := s.consents.Save(ctx, consent); err != nil {
		return fmt.Errorf("failed to save consent: %w", err)
	}
	return s.deleteTokens(ctx, userID, clientID, "consent revoked")
}

// RevokeScopes removes scopes from the grant. Removing the last scope
// deactivates it. The pair's refresh tokens are deleted either way since
// they carry the old scope.
func (s *ConsentService) RevokeScopes(ctx context.Context, userID, clientID string, scopes []string) (*domain.UserConsent, error) {
	if len(scopes) == 0 {
		return nil, fmt.Errorf("%w: no scopes to revoke", ErrValidation)
	}

	consent, err := s.activeConsent(ctx, userID, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to load consent: %w", err)
	}
	if consent == nil {
		return nil, ErrConsentNotFound
	}

	now := s.now()
	remaining := difference(consent.GrantedScopes, scopes)
	if remaining == nil {
		remaining = []string{}
	}
	consent.GrantedScopes = remaining
	consent.IsActive = len(remaining) > 0
	consent.LastUpdatedAt = now
	consent.History = append(consent.History, domain.ConsentEvent{
		Action: domain.ConsentActionScopesRevoked,
		Scopes: slices.Clone(scopes),
		At:     now,
	})

	if err := s.consents.Save(ctx, consent); err != nil {
		return nil, fmt.Errorf("failed to save consent: %w", err)
	}
	if err := s.deleteTokens(ctx, userID, clientID, "scopes revoked"); err != nil {
		return nil, err
	}
	return consent, nil
}

func (s *ConsentService) deleteTokens(ctx context.Context, userID, clientID, reason string) error {
	n, err := s.refreshTokens.DeleteByUserClient(ctx, userID, clientID)
	if err != nil {
		return fmt.Errorf("failed to delete refresh tokens: %w", err)
	}
	logger.From(ctx).Info(reason,
		logger.UserID(userID),
		logger.ClientID(clientID),
		zap.Int64("refresh_tokens_deleted", n),
	)
	return nil
}

// ListUserConsents returns the user's active consents with client metadata.
// Consents whose client no longer exists are skipped.
func (s *ConsentService) ListUserConsents(ctx context.Context, userID string) ([]ConsentView, error) {
	consents, err := s.consents.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list consents: %w", err)
	}

	out := make([]ConsentView, 0, len(consents))
	for _, c := range consents {
		client, err := s.clients.GetByClientID(ctx, c.ClientID)
		if errors.Is(err, repository.ErrClientNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load client: %w", err)
		}
		out = append(out, ConsentView{
			Client:         PublicInfo(client),
			GrantedScopes:  c.GrantedScopes,
			FirstGrantedAt: c.FirstGrantedAt,
			LastUpdatedAt:  c.LastUpdatedAt,
		})
	}
	return out, nil
}
