package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/dlddu/tiny-oidc/internal/domain"
)

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("not allowed")
)

// AdminChecker answers whether a user may run administrative operations.
// The surrounding application owns roles; this core only asks.
type AdminChecker interface {
	IsAdmin(ctx context.Context, userID string) (bool, error)
}

// StaticAdmins is an AdminChecker backed by a fixed list of user IDs
type StaticAdmins map[string]struct{}

// NewStaticAdmins builds a StaticAdmins from configuration
func NewStaticAdmins(userIDs []string) StaticAdmins {
	admins := make(StaticAdmins, len(userIDs))
	for _, id := range userIDs {
		admins[id] = struct{}{}
	}
	return admins
}

func (s StaticAdmins) IsAdmin(_ context.Context, userID string) (bool, error) {
	_, ok := s[userID]
	return ok, nil
}

// Policy is consulted by the HTTP layer before any state-mutating operation
type Policy struct {
	admins AdminChecker
}

// NewPolicy creates a Policy
func NewPolicy(admins AdminChecker) *Policy {
	return &Policy{admins: admins}
}

// RequireUser fails unless a user is signed in
func (p *Policy) RequireUser(userID string) error {
	if userID == "" {
		return ErrUnauthenticated
	}
	return nil
}

// RequireAdmin fails unless the user is an administrator
func (p *Policy) RequireAdmin(ctx context.Context, userID string) error {
	if err := p.RequireUser(userID); err != nil {
		return err
	}
	ok, err := p.IsAdmin(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}

// IsAdmin reports whether userID is an administrator
func (p *Policy) IsAdmin(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	ok, err := p.admins.IsAdmin(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("admin check failed: %w", err)
	}
	return ok, nil
}

// CanManageClient allows the client owner and administrators
func (p *Policy) CanManageClient(ctx context.Context, userID string, client *domain.Client) error {
	if err := p.RequireUser(userID); err != nil {
		return err
	}
	if client.Owner.UserID == userID {
		return nil
	}
	return p.RequireAdmin(ctx, userID)
}
