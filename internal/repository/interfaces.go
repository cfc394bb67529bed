package repository

import (
	"context"
	"errors"
	"time"

	"github.com/dlddu/tiny-oidc/internal/domain"
)

var (
	ErrClientNotFound       = errors.New("client not found")
	ErrClientExists         = errors.New("client already exists")
	ErrStatusConflict       = errors.New("client status changed concurrently")
	ErrCodeNotFound         = errors.New("authorization code not found")
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	ErrTokenAlreadyRotated  = errors.New("refresh token already rotated or revoked")
	ErrConsentNotFound      = errors.New("consent not found")
	ErrUserNotFound         = errors.New("user not found")
)

// ClientRepository defines the interface for client data access
type ClientRepository interface {
	Create(ctx context.Context, client *domain.Client) error
	GetByClientID(ctx context.Context, clientID string) (*domain.Client, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*domain.Client, error)
	// ListByStatus lists clients in status, or every client when status is empty
	ListByStatus(ctx context.Context, status domain.ClientStatus) ([]*domain.Client, error)
	// Update writes the owner-editable metadata of a client
	Update(ctx context.Context, client *domain.Client) error
	// UpdateStatus moves a client from one status to another in a single
	// conditional write. ErrStatusConflict means the client was not in from.
	UpdateStatus(ctx context.Context, clientID string, from, to domain.ClientStatus, reason, actor string, at time.Time) (*domain.Client, error)
	UpdateSecret(ctx context.Context, clientID, secretHash string, at time.Time) error
	RecordAuthFailure(ctx context.Context, clientID string, at time.Time) error
	ResetAuthFailures(ctx context.Context, clientID string) error
	Delete(ctx context.Context, clientID string) error
}

// AuthCodeRepository persists single-use authorization codes
type AuthCodeRepository interface {
	Create(ctx context.Context, code *domain.AuthorizationCode) error
	// Consume finds an unused, unexpired code issued to clientID for
	// redirectURI and marks it used in one atomic step. Every other
	// outcome, including a lost race, is ErrCodeNotFound.
	Consume(ctx context.Context, codeHash, clientID, redirectURI string, now time.Time) (*domain.AuthorizationCode, error)
	DeleteByClient(ctx context.Context, clientID string) error
}

// RefreshTokenRepository persists refresh-token families
type RefreshTokenRepository interface {
	Create(ctx context.Context, token *domain.RefreshToken) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*domain.RefreshToken, error)
	// Rotate marks oldID rotated and inserts successor atomically.
	// ErrTokenAlreadyRotated means oldID was no longer current.
	Rotate(ctx context.Context, oldID string, successor *domain.RefreshToken, at time.Time) error
	RevokeFamily(ctx context.Context, familyID, reason string, at time.Time) (int64, error)
	DeleteByUserClient(ctx context.Context, userID, clientID string) (int64, error)
	DeleteByClient(ctx context.Context, clientID string) (int64, error)
}

// ConsentRepository persists one consent record per (user, client) pair
type ConsentRepository interface {
	Get(ctx context.Context, userID, clientID string) (*domain.UserConsent, error)
	// Save inserts or replaces the record for the consent's (user, client) pair
	Save(ctx context.Context, consent *domain.UserConsent) error
	ListActiveByUser(ctx context.Context, userID string) ([]*domain.UserConsent, error)
	DeleteByClient(ctx context.Context, clientID string) error
}

// UserDirectory is the read-only view of the external user store
type UserDirectory interface {
	FindByID(ctx context.Context, id string) (*domain.User, error)
}

// Stores bundles every repository a server needs
type Stores struct {
	Clients       ClientRepository
	Codes         AuthCodeRepository
	RefreshTokens RefreshTokenRepository
	Consents      ConsentRepository
	Users         UserDirectory
}
