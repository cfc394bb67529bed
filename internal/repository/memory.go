package repository

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/dlddu/tiny-oidc/internal/domain"
)

// NewMemoryStores wires in-process repositories, used by the memory storage
// driver and by tests. users may be nil.
func NewMemoryStores(users UserDirectory) *Stores {
	if users == nil {
		users = NewMemoryUserDirectory()
	}
	return &Stores{
		Clients:       NewMemoryClientRepository(),
		Codes:         NewMemoryAuthCodeRepository(),
		RefreshTokens: NewMemoryRefreshTokenRepository(),
		Consents:      NewMemoryConsentRepository(),
		Users:         users,
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// --- clients ---

type memClientRepository struct {
	mu      sync.RWMutex
	clients map[string]*domain.Client
}

// NewMemoryClientRepository creates an in-memory ClientRepository
func NewMemoryClientRepository() ClientRepository {
	return &memClientRepository{clients: make(map[string]*domain.Client)}
}

func cloneClient(c *domain.Client) *domain.Client {
	out := *c
	out.RedirectURIs = slices.Clone(c.RedirectURIs)
	out.Scopes = slices.Clone(c.Scopes)
	out.StatusChangedAt = cloneTime(c.StatusChangedAt)
	out.LastFailedAuthAt = cloneTime(c.LastFailedAuthAt)
	return &out
}

func (r *memClientRepository) Create(_ context.Context, client *domain.Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[client.ClientID]; ok {
		return ErrClientExists
	}
	r.clients[client.ClientID] = cloneClient(client)
	return nil
}

func (r *memClientRepository) GetByClientID(_ context.Context, clientID string) (*domain.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.clients[clientID]
	if !ok {
		return nil, ErrClientNotFound
	}
	return cloneClient(c), nil
}

func (r *memClientRepository) filter(keep func(*domain.Client) bool) []*domain.Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Client
	for _, c := range r.clients {
		if keep(c) {
			out = append(out, cloneClient(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *memClientRepository) ListByOwner(_ context.Context, ownerID string) ([]*domain.Client, error) {
	return r.filter(func(c *domain.Client) bool { return c.Owner.UserID == ownerID }), nil
}

func (r *memClientRepository) ListByStatus(_ context.Context, status domain.ClientStatus) ([]*domain.Client, error) {
	return r.filter(func(c *domain.Client) bool { return status == "" || c.Status == status }), nil
}

func (r *memClientRepository) Update(_ context.Context, client *domain.Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[client.ClientID]
	if !ok {
		return ErrClientNotFound
	}
	c.ClientName = client.ClientName
	c.Description = client.Description
	c.LogoURI = client.LogoURI
	c.WebsiteURI = client.WebsiteURI
	c.RedirectURIs = slices.Clone(client.RedirectURIs)
	c.Scopes = slices.Clone(client.Scopes)
	c.UpdatedAt = client.UpdatedAt
	return nil
}

func (r *memClientRepository) UpdateStatus(_ context.Context, clientID string, from, to domain.ClientStatus, reason, actor string, at time.Time) (*domain.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[clientID]
	if !ok {
		return nil, ErrClientNotFound
	}
	if c.Status != from {
		return nil, ErrStatusConflict
	}
	c.Status = to
	c.StatusReason = reason
	c.StatusChangedBy = actor
	c.StatusChangedAt = &at
	c.UpdatedAt = at
	return cloneClient(c), nil
}

func (r *memClientRepository) UpdateSecret(_ context.Context, clientID, secretHash string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[clientID]
	if !ok {
		return ErrClientNotFound
	}
	c.ClientSecretHash = secretHash
	c.FailedAuthAttempts = 0
	c.LastFailedAuthAt = nil
	c.UpdatedAt = at
	return nil
}

func (r *memClientRepository) RecordAuthFailure(_ context.Context, clientID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[clientID]; ok {
		c.FailedAuthAttempts++
		c.LastFailedAuthAt = &at
	}
	return nil
}

func (r *memClientRepository) ResetAuthFailures(_ context.Context, clientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[clientID]; ok {
		c.FailedAuthAttempts = 0
		c.LastFailedAuthAt = nil
	}
	return nil
}

func (r *memClientRepository) Delete(_ context.Context, clientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[clientID]; !ok {
		return ErrClientNotFound
	}
	delete(r.clients, clientID)
	return nil
}

// --- authorization codes ---

type memAuthCodeRepository struct {
	mu    sync.Mutex
	codes map[string]*domain.AuthorizationCode // by code hash
}

// NewMemoryAuthCodeRepository creates an in-memory AuthCodeRepository
func NewMemoryAuthCodeRepository() AuthCodeRepository {
	return &memAuthCodeRepository{codes: make(map[string]*domain.AuthorizationCode)}
}

func cloneCode(c *domain.AuthorizationCode) *domain.AuthorizationCode {
	out := *c
	out.Scopes = slices.Clone(c.Scopes)
	out.UsedAt = cloneTime(c.UsedAt)
	return &out
}

func (r *memAuthCodeRepository) Create(_ context.Context, code *domain.AuthorizationCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.codes[code.CodeHash] = cloneCode(code)
	return nil
}

func (r *memAuthCodeRepository) Consume(_ context.Context, codeHash, clientID, redirectURI string, now time.Time) (*domain.AuthorizationCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.codes[codeHash]
	if !ok || c.UsedAt != nil || !c.ExpiresAt.After(now) ||
		c.ClientID != clientID || c.RedirectURI != redirectURI {
		return nil, ErrCodeNotFound
	}
	used := now
	c.UsedAt = &used
	return cloneCode(c), nil
}

func (r *memAuthCodeRepository) DeleteByClient(_ context.Context, clientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for h, c := range r.codes {
		if c.ClientID == clientID {
			delete(r.codes, h)
		}
	}
	return nil
}

// --- refresh tokens ---

type memRefreshTokenRepository struct {
	mu     sync.Mutex
	tokens map[string]*domain.RefreshToken // by ID
	byHash map[string]string
}

// NewMemoryRefreshTokenRepository creates an in-memory RefreshTokenRepository
func NewMemoryRefreshTokenRepository() RefreshTokenRepository {
	return &memRefreshTokenRepository{
		tokens: make(map[string]*domain.RefreshToken),
		byHash: make(map[string]string),
	}
}

func cloneRefreshToken(t *domain.RefreshToken) *domain.RefreshToken {
	out := *t
	out.Scopes = slices.Clone(t.Scopes)
	out.RotatedAt = cloneTime(t.RotatedAt)
	out.RevokedAt = cloneTime(t.RevokedAt)
	if t.PreviousTokenID != nil {
		prev := *t.PreviousTokenID
		out.PreviousTokenID = &prev
	}
	return &out
}

func (r *memRefreshTokenRepository) insert(t *domain.RefreshToken) {
	r.tokens[t.ID] = cloneRefreshToken(t)
	r.byHash[t.TokenHash] = t.ID
}

func (r *memRefreshTokenRepository) remove(id string) {
	if t, ok := r.tokens[id]; ok {
		delete(r.byHash, t.TokenHash)
		delete(r.tokens, id)
	}
}

func (r *memRefreshTokenRepository) Create(_ context.Context, token *domain.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.insert(token)
	return nil
}

func (r *memRefreshTokenRepository) GetByTokenHash(_ context.Context, tokenHash string) (*domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byHash[tokenHash]
	if !ok {
		return nil, ErrRefreshTokenNotFound
	}
	return cloneRefreshToken(r.tokens[id]), nil
}

func (r *memRefreshTokenRepository) Rotate(_ context.Context, oldID string, successor *domain.RefreshToken, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.tokens[oldID]
	if !ok || old.RotatedAt != nil || old.IsRevoked {
		return ErrTokenAlreadyRotated
	}
	rotated := at
	old.RotatedAt = &rotated
	r.insert(successor)
	return nil
}

func (r *memRefreshTokenRepository) RevokeFamily(_ context.Context, familyID, reason string, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, t := range r.tokens {
		if t.FamilyID == familyID && !t.IsRevoked {
			revoked := at
			t.IsRevoked = true
			t.RevokedAt = &revoked
			t.RevokedReason = reason
			n++
		}
	}
	return n, nil
}

func (r *memRefreshTokenRepository) deleteWhere(match func(*domain.RefreshToken) bool) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, t := range r.tokens {
		if match(t) {
			r.remove(id)
			n++
		}
	}
	return n
}

func (r *memRefreshTokenRepository) DeleteByUserClient(_ context.Context, userID, clientID string) (int64, error) {
	return r.deleteWhere(func(t *domain.RefreshToken) bool {
		return t.UserID == userID && t.ClientID == clientID
	}), nil
}

func (r *memRefreshTokenRepository) DeleteByClient(_ context.Context, clientID string) (int64, error) {
	return r.deleteWhere(func(t *domain.RefreshToken) bool { return t.ClientID == clientID }), nil
}

// --- consents ---

type consentKey struct{ userID, clientID string }

type memConsentRepository struct {
	mu       sync.RWMutex
	consents map[consentKey]*domain.UserConsent
}

// NewMemoryConsentRepository creates an in-memory ConsentRepository
func NewMemoryConsentRepository() ConsentRepository {
	return &memConsentRepository{consents: make(map[consentKey]*domain.UserConsent)}
}

func cloneConsent(c *domain.UserConsent) *domain.UserConsent {
	out := *c
	out.GrantedScopes = slices.Clone(c.GrantedScopes)
	out.History = make([]domain.ConsentEvent, len(c.History))
	for i, e := range c.History {
		e.Scopes = slices.Clone(e.Scopes)
		out.History[i] = e
	}
	return &out
}

func (r *memConsentRepository) Get(_ context.Context, userID, clientID string) (*domain.UserConsent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.consents[consentKey{userID, clientID}]
	if !ok {
		return nil, ErrConsentNotFound
	}
	return cloneConsent(c), nil
}

func (r *memConsentRepository) Save(_ context.Context, consent *domain.UserConsent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := consentKey{consent.UserID, consent.ClientID}
	saved := cloneConsent(consent)
	if existing, ok := r.consents[key]; ok {
		saved.ID = existing.ID
		saved.FirstGrantedAt = existing.FirstGrantedAt
	}
	r.consents[key] = saved
	return nil
}

func (r *memConsentRepository) ListActiveByUser(_ context.Context, userID string) ([]*domain.UserConsent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.UserConsent
	for k, c := range r.consents {
		if k.userID == userID && c.IsActive {
			out = append(out, cloneConsent(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastUpdatedAt.After(out[j].LastUpdatedAt) })
	return out, nil
}

func (r *memConsentRepository) DeleteByClient(_ context.Context, clientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for k := range r.consents {
		if k.clientID == clientID {
			delete(r.consents, k)
		}
	}
	return nil
}

// --- users ---

// MemoryUserDirectory is an in-process UserDirectory
type MemoryUserDirectory struct {
	mu    sync.RWMutex
	users map[string]domain.User
}

// NewMemoryUserDirectory creates an empty MemoryUserDirectory
func NewMemoryUserDirectory(users ...domain.User) *MemoryUserDirectory {
	d := &MemoryUserDirectory{users: make(map[string]domain.User)}
	for _, u := range users {
		d.Put(u)
	}
	return d
}

// Put adds or replaces a user
func (d *MemoryUserDirectory) Put(u domain.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
}

func (d *MemoryUserDirectory) FindByID(_ context.Context, id string) (*domain.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	u, ok := d.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}
