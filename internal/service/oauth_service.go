package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dlddu/tiny-oidc/internal/crypto"
	"github.com/dlddu/tiny-oidc/internal/domain"
	"github.com/dlddu/tiny-oidc/internal/logger"
	"github.com/dlddu/tiny-oidc/internal/metrics"
	"github.com/dlddu/tiny-oidc/internal/repository"
)

// Supported grant types
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
)

// TokenRequest holds the token endpoint form plus the authenticated client credentials
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	CodeVerifier string
	RefreshToken string
	Scope        string
	ClientID     string
	ClientSecret string
}

// TokenResponse represents an OAuth 2.0 token response
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// IntrospectionResponse is the RFC 7662 response body
type IntrospectionResponse struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Subject   string `json:"sub,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	ExpiresAt int64  `json:"exp,omitempty"`
	IssuedAt  int64  `json:"iat,omitempty"`
	Issuer    string `json:"iss,omitempty"`
	JTI       string `json:"jti,omitempty"`
}

// OAuthService handles the token, revocation, introspection and userinfo endpoints
type OAuthService struct {
	clients *ClientService
	tokens  *TokenService
	codes   repository.AuthCodeRepository
	users   repository.UserDirectory
	issuer  string
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewOAuthService creates a new OAuth service
func NewOAuthService(clients *ClientService, tokens *TokenService, stores *repository.Stores, issuer string, m *metrics.Metrics) *OAuthService {
	return &OAuthService{
		clients: clients,
		tokens:  tokens,
		codes:   stores.Codes,
		users:   stores.Users,
		issuer:  issuer,
		metrics: m,
		now:     time.Now,
	}
}

// Token dispatches a token request by grant type after authenticating the client
func (s *OAuthService) Token(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	switch req.GrantType {
	case "":
		return nil, NewInvalidRequestError("grant_type is required")
	case GrantTypeAuthorizationCode, GrantTypeRefreshToken:
	default:
		return nil, NewUnsupportedGrantTypeError("grant_type " + req.GrantType + " is not supported")
	}

	client, err := s.clients.ValidateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}

	var resp *TokenResponse
	if req.GrantType == GrantTypeAuthorizationCode {
		resp, err = s.AuthorizationCodeGrant(ctx, client, req)
	} else {
		resp, err = s.RefreshTokenGrant(ctx, client, req)
	}
	if err != nil {
		return nil, err
	}

	s.metrics.TokenIssued(req.GrantType)
	return resp, nil
}

// AuthorizationCodeGrant redeems an authorization code. The code is consumed
// before PKCE is checked, so a failed verification still burns it.
func (s *OAuthService) AuthorizationCodeGrant(ctx context.Context, client *domain.Client, req TokenRequest) (*TokenResponse, error) {
	if req.Code == "" || req.RedirectURI == "" || req.CodeVerifier == "" {
		return nil, NewInvalidRequestError("code, redirect_uri and code_verifier are required")
	}

	code, err := s.codes.Consume(ctx, crypto.HashToken(req.Code), client.ClientID, req.RedirectURI, s.now())
	if err != nil {
		if errors.Is(err, repository.ErrCodeNotFound) {
			return nil, NewInvalidGrantError("authorization code is invalid")
		}
		return nil, fmt.Errorf("failed to consume authorization code: %w", err)
	}

	if !verifyPKCE(req.CodeVerifier, code.CodeChallenge, code.CodeChallengeMethod) {
		logger.From(ctx).Warn("pkce verification failed",
			logger.SecurityEvent(SecurityEventPKCEMismatch),
			logger.ClientID(client.ClientID),
			logger.UserID(code.UserID),
		)
		s.metrics.SecurityEvent(SecurityEventPKCEMismatch)
		return nil, NewInvalidGrantError("authorization code is invalid")
	}

	user, err := s.activeUser(ctx, code.UserID)
	if err != nil {
		return nil, err
	}

	resp, err := s.issue(ctx, user, client.ClientID, code.Scopes, code.Nonce, code.CreatedAt)
	if err != nil {
		return nil, err
	}

	if slices.Contains(code.Scopes, domain.ScopeOfflineAccess) {
		raw, _, err := s.tokens.GenerateRefreshToken(ctx, RefreshTokenParams{
			UserID:   user.ID,
			ClientID: client.ClientID,
			Scopes:   code.Scopes,
		})
		if err != nil {
			return nil, err
		}
		resp.RefreshToken = raw
	}
	return resp, nil
}

// RefreshTokenGrant rotates a refresh token. A narrower scope may be
// requested for the new access token; the rotated refresh token keeps the
// original grant.
func (s *OAuthService) RefreshTokenGrant(ctx context.Context, client *domain.Client, req TokenRequest) (*TokenResponse, error) {
	if req.RefreshToken == "" {
		return nil, NewInvalidRequestError("refresh_token is required")
	}

	v, err := s.tokens.ValidateRefreshToken(ctx, req.RefreshToken, client.ClientID)
	if err != nil {
		return nil, err
	}
	if !v.IsValid {
		return nil, NewInvalidGrantError("refresh token is invalid")
	}
	old := v.RefreshToken

	scopes := old.Scopes
	if req.Scope != "" {
		requested := ParseScopes(req.Scope)
		if !isSubset(requested, old.Scopes) {
			return nil, NewInvalidScopeError("requested scope exceeds the original grant")
		}
		scopes = requested
	}

	user, err := s.activeUser(ctx, old.UserID)
	if err != nil {
		return nil, err
	}

	raw, _, err := s.tokens.RotateRefreshToken(ctx, old)
	if err != nil {
		return nil, err
	}

	resp, err := s.issueWithIDScope(ctx, user, client.ClientID, scopes, old.Scopes, "", time.Time{})
	if err != nil {
		return nil, err
	}
	resp.RefreshToken = raw
	return resp, nil
}

func (s *OAuthService) issue(ctx context.Context, user *domain.User, clientID string, scopes []string, nonce string, authTime time.Time) (*TokenResponse, error) {
	return s.issueWithIDScope(ctx, user, clientID, scopes, scopes, nonce, authTime)
}

// issueWithIDScope mints the access token for scopes and, when grantScopes
// includes openid, an ID token bound to it.
func (s *OAuthService) issueWithIDScope(_ context.Context, user *domain.User, clientID string, scopes, grantScopes []string, nonce string, authTime time.Time) (*TokenResponse, error) {
	access, _, err := s.tokens.GenerateAccessToken(AccessTokenParams{
		UserID:   user.ID,
		ClientID: clientID,
		Scopes:   scopes,
	})
	if err != nil {
		return nil, err
	}

	resp := &TokenResponse{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.tokens.AccessTokenTTL().Seconds()),
		Scope:       JoinScopes(scopes),
	}

	if slices.Contains(grantScopes, domain.ScopeOpenID) {
		idToken, err := s.tokens.GenerateIDToken(IDTokenParams{
			User:        user,
			ClientID:    clientID,
			Scopes:      scopes,
			Nonce:       nonce,
			AccessToken: access,
			AuthTime:    authTime,
		})
		if err != nil {
			return nil, err
		}
		resp.IDToken = idToken
	}
	return resp, nil
}

func (s *OAuthService) activeUser(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, NewInvalidGrantError("user account is not available")
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if !user.IsActive() {
		return nil, NewInvalidGrantError("user account is not active")
	}
	return user, nil
}

// Revoke implements RFC 7009. Only client authentication failures are
// reported; unknown or foreign tokens succeed silently.
func (s *OAuthService) Revoke(ctx context.Context, clientID, clientSecret, token string) error {
	client, err := s.clients.ValidateClient(ctx, clientID, clientSecret)
	if err != nil {
		return err
	}
	if token == "" {
		return NewInvalidRequestError("token is required")
	}
	return s.tokens.RevokeRefreshToken(ctx, token, client.ClientID)
}

// Introspect implements RFC 7662 for access tokens. Any verification
// failure yields {active:false}.
func (s *OAuthService) Introspect(ctx context.Context, clientID, clientSecret, token string) (*IntrospectionResponse, error) {
	if _, err := s.clients.ValidateClient(ctx, clientID, clientSecret); err != nil {
		return nil, err
	}

	claims, err := s.tokens.VerifyAccessToken(token, VerifyOptions{})
	if err != nil {
		return &IntrospectionResponse{Active: false}, nil
	}
	return &IntrospectionResponse{
		Active:    true,
		Scope:     JoinScopes(claims.Scopes),
		ClientID:  claims.ClientID,
		Subject:   claims.Subject,
		TokenType: "Bearer",
		ExpiresAt: claims.ExpiresAt.Unix(),
		IssuedAt:  claims.IssuedAt.Unix(),
		Issuer:    s.issuer,
		JTI:       claims.JTI,
	}, nil
}

// UserInfo returns the claims an openid access token may read
func (s *OAuthService) UserInfo(ctx context.Context, accessToken string) (map[string]any, error) {
	claims, err := s.tokens.VerifyAccessToken(accessToken, VerifyOptions{RequiredScope: domain.ScopeOpenID})
	if err != nil {
		return nil, err
	}

	user, err := s.users.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, NewInvalidTokenError("user account is not available")
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if !user.IsActive() {
		return nil, NewInvalidTokenError("user account is not active")
	}

	out := UserClaims(user, claims.Scopes)
	out["sub"] = user.ID
	return out, nil
}
