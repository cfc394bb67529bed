package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dlddu/tiny-oidc/internal/cache"
	"github.com/dlddu/tiny-oidc/internal/crypto"
)

const (
	pendingKeyPrefix = "consent:"
	consentIDBytes   = 32
)

// ErrPendingNotFound means the consent_id is unknown, expired or already used
var ErrPendingNotFound = errors.New("pending authorization not found")

// PendingAuthorization is an authorization request waiting for the user's consent decision
type PendingAuthorization struct {
	UserID              string    `json:"user_id"`
	ClientID            string    `json:"client_id"`
	RedirectURI         string    `json:"redirect_uri"`
	Scopes              []string  `json:"scopes"`
	State               string    `json:"state,omitempty"`
	CodeChallenge       string    `json:"code_challenge"`
	CodeChallengeMethod string    `json:"code_challenge_method"`
	Nonce               string    `json:"nonce,omitempty"`
	ExpiresAt           time.Time `json:"expires_at"`
}

// PendingStore keeps pending authorizations under a random consent_id
type PendingStore struct {
	cache cache.Client
	ttl   time.Duration
}

// NewPendingStore creates a PendingStore on top of c
func NewPendingStore(c cache.Client, ttl time.Duration) *PendingStore {
	return &PendingStore{cache: c, ttl: ttl}
}

// TTL returns how long a pending authorization stays valid
func (p *PendingStore) TTL() time.Duration {
	return p.ttl
}

// Save stores pa and returns its consent_id
func (p *PendingStore) Save(ctx context.Context, pa *PendingAuthorization) (string, error) {
	id, err := crypto.RandomToken(consentIDBytes)
	if err != nil {
		return "", err
	}

	data, err := json.Marshal(pa)
	if err != nil {
		return "", fmt.Errorf("failed to encode pending authorization: %w", err)
	}
	if err := p.cache.Set(ctx, pendingKeyPrefix+id, data, p.ttl); err != nil {
		return "", fmt.Errorf("failed to store pending authorization: %w", err)
	}
	return id, nil
}

// Pop returns and removes the pending authorization. A consent_id works once.
func (p *PendingStore) Pop(ctx context.Context, consentID string) (*PendingAuthorization, error) {
	if consentID == "" {
		return nil, ErrPendingNotFound
	}

	data, err := p.cache.Pop(ctx, pendingKeyPrefix+consentID)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, ErrPendingNotFound
		}
		return nil, fmt.Errorf("failed to load pending authorization: %w", err)
	}

	var pa PendingAuthorization
	if err := json.Unmarshal(data, &pa); err != nil {
		return nil, fmt.Errorf("failed to decode pending authorization: %w", err)
	}
	if !pa.ExpiresAt.IsZero() && time.Now().After(pa.ExpiresAt) {
		return nil, ErrPendingNotFound
	}
	return &pa, nil
}
