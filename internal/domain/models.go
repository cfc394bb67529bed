package domain

import (
	"slices"
	"time"
)

// ClientStatus is the lifecycle state of an OAuth client registration
type ClientStatus string

const (
	ClientStatusPending   ClientStatus = "pending"
	ClientStatusApproved  ClientStatus = "approved"
	ClientStatusRejected  ClientStatus = "rejected"
	ClientStatusSuspended ClientStatus = "suspended"
)

// ApplicationType describes how a client is deployed
type ApplicationType string

const (
	ApplicationTypeWeb    ApplicationType = "web"
	ApplicationTypeNative ApplicationType = "native"
	ApplicationTypeSPA    ApplicationType = "spa"
)

// Well-known scopes
const (
	ScopeOpenID        = "openid"
	ScopeProfile       = "profile"
	ScopeEmail         = "email"
	ScopeOfflineAccess = "offline_access"
)

// ClientOwner identifies the user who registered a client
type ClientOwner struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// Client represents an OAuth 2.1 client application
type Client struct {
	ID                 string          `json:"id"`
	ClientID           string          `json:"client_id"`
	ClientSecretHash   string          `json:"-"`
	ClientName         string          `json:"client_name"`
	Description        string          `json:"description,omitempty"`
	LogoURI            string          `json:"logo_uri,omitempty"`
	WebsiteURI         string          `json:"website_uri,omitempty"`
	RedirectURIs       []string        `json:"redirect_uris"`
	Scopes             []string        `json:"scopes"`
	ApplicationType    ApplicationType `json:"application_type"`
	IsFirstParty       bool            `json:"is_first_party"`
	Status             ClientStatus    `json:"status"`
	StatusReason       string          `json:"status_reason,omitempty"`
	StatusChangedBy    string          `json:"status_changed_by,omitempty"`
	StatusChangedAt    *time.Time      `json:"status_changed_at,omitempty"`
	Owner              ClientOwner     `json:"owner"`
	FailedAuthAttempts int             `json:"-"`
	LastFailedAuthAt   *time.Time      `json:"-"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// IsApproved reports whether the client may take part in OAuth flows
func (c *Client) IsApproved() bool {
	return c.Status == ClientStatusApproved
}

// User is the read-only view of a principal owned by the external user directory
type User struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name,omitempty"`
	Avatar        string `json:"avatar,omitempty"`
	AccountStatus string `json:"account_status"`
}

// AccountStatusActive is the only account status allowed to obtain tokens
const AccountStatusActive = "active"

// IsActive reports whether the account may obtain tokens
func (u *User) IsActive() bool {
	return u.AccountStatus == AccountStatusActive
}

// AuthorizationCode represents a short-lived, single-use authorization grant
type AuthorizationCode struct {
	ID                  string     `json:"id"`
	CodeHash            string     `json:"-"`
	ClientID            string     `json:"client_id"`
	UserID              string     `json:"user_id"`
	RedirectURI         string     `json:"redirect_uri"`
	Scopes              []string   `json:"scopes"`
	CodeChallenge       string     `json:"-"`
	CodeChallengeMethod string     `json:"-"`
	Nonce               string     `json:"-"`
	State               string     `json:"-"`
	ExpiresAt           time.Time  `json:"expires_at"`
	CreatedAt           time.Time  `json:"created_at"`
	UsedAt              *time.Time `json:"used_at,omitempty"`
}

// RefreshToken is one link of a refresh-token family chain
type RefreshToken struct {
	ID              string     `json:"id"`
	TokenHash       string     `json:"-"`
	UserID          string     `json:"user_id"`
	ClientID        string     `json:"client_id"`
	FamilyID        string     `json:"family_id"`
	RotationCount   int        `json:"rotation_count"`
	PreviousTokenID *string    `json:"previous_token_id,omitempty"`
	Scopes          []string   `json:"scopes"`
	ExpiresAt       time.Time  `json:"expires_at"`
	CreatedAt       time.Time  `json:"created_at"`
	RotatedAt       *time.Time `json:"rotated_at,omitempty"`
	IsRevoked       bool       `json:"is_revoked"`
	RevokedAt       *time.Time `json:"revoked_at,omitempty"`
	RevokedReason   string     `json:"revoked_reason,omitempty"`
}

// Consent history actions
const (
	ConsentActionGranted       = "granted"
	ConsentActionRevoked       = "revoked"
	ConsentActionScopesRevoked = "scopes_revoked"
)

// ConsentEvent is one audit entry of a consent record
type ConsentEvent struct {
	Action string    `json:"action"`
	Scopes []string  `json:"scopes"`
	At     time.Time `json:"at"`
}

// UserConsent holds the scopes a user granted to a client
type UserConsent struct {
	ID             string         `json:"id"`
	UserID         string         `json:"user_id"`
	ClientID       string         `json:"client_id"`
	GrantedScopes  []string       `json:"granted_scopes"`
	IsActive       bool           `json:"is_active"`
	FirstGrantedAt time.Time      `json:"first_granted_at"`
	LastUpdatedAt  time.Time      `json:"last_updated_at"`
	History        []ConsentEvent `json:"history"`
}

// HasScope reports whether scope is present in scopes
func HasScope(scopes []string, scope string) bool {
	return slices.Contains(scopes, scope)
}
