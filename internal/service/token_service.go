package service

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dlddu/tiny-oidc/internal/crypto"
	"github.com/dlddu/tiny-oidc/internal/domain"
	"github.com/dlddu/tiny-oidc/internal/logger"
	"github.com/dlddu/tiny-oidc/internal/metrics"
	"github.com/dlddu/tiny-oidc/internal/repository"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// token_type claim values
const (
	TokenTypeAccess = "access_token"
	TokenTypeID     = "id_token"
)

const refreshTokenBytes = 32

// Refresh token revocation reasons
const (
	RevokeReasonReuse  = "reuse_detected"
	RevokeReasonClient = "revoked_by_client"
)

// TokenConfig holds token lifetimes
type TokenConfig struct {
	AccessTokenTTL  time.Duration
	IDTokenTTL      time.Duration
	RefreshTokenTTL time.Duration
}

// AccessTokenParams identifies the grant an access token is issued for
type AccessTokenParams struct {
	UserID   string
	ClientID string
	Scopes   []string
}

// AccessTokenClaims are the verified claims of an access token
type AccessTokenClaims struct {
	Subject   string
	ClientID  string
	Scopes    []string
	JTI       string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// VerifyOptions narrows VerifyAccessToken
type VerifyOptions struct {
	RequiredScope string
}

// IDTokenParams are the inputs of an OIDC ID token
type IDTokenParams struct {
	User        *domain.User
	ClientID    string
	Scopes      []string
	Nonce       string
	AccessToken string
	AuthTime    time.Time
}

// RefreshTokenParams starts a new family when FamilyID is empty
type RefreshTokenParams struct {
	UserID   string
	ClientID string
	Scopes   []string
	FamilyID string
}

// RefreshValidation is the outcome of ValidateRefreshToken
type RefreshValidation struct {
	IsValid       bool
	RefreshToken  *domain.RefreshToken
	SecurityEvent string
	FamilyID      string
}

// TokenService issues and verifies access, ID and refresh tokens
type TokenService struct {
	signer        TokenSigner
	refreshTokens repository.RefreshTokenRepository
	cfg           TokenConfig
	metrics       *metrics.Metrics
	now           func() time.Time
}

// NewTokenService creates a new TokenService instance
func NewTokenService(signer TokenSigner, refreshTokens repository.RefreshTokenRepository, cfg TokenConfig, m *metrics.Metrics) *TokenService {
	return &TokenService{
		signer:        signer,
		refreshTokens: refreshTokens,
		cfg:           cfg,
		metrics:       m,
		now:           time.Now,
	}
}

// AccessTokenTTL returns the configured access token lifetime
func (s *TokenService) AccessTokenTTL() time.Duration {
	return s.cfg.AccessTokenTTL
}

// GenerateAccessToken signs a stateless access token
func (s *TokenService) GenerateAccessToken(p AccessTokenParams) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.cfg.AccessTokenTTL)

	token, err := s.signer.Sign(jwt.MapClaims{
		"sub":        p.UserID,
		"aud":        p.ClientID,
		"exp":        exp.Unix(),
		"iat":        now.Unix(),
		"jti":        uuid.NewString(),
		"scope":      JoinScopes(p.Scopes),
		"client_id":  p.ClientID,
		"token_type": TokenTypeAccess,
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign access token: %w", err)
	}
	return token, exp, nil
}

// VerifyAccessToken checks signature, issuer, expiry and token_type, and
// optionally that a scope was granted.
func (s *TokenService) VerifyAccessToken(token string, opts VerifyOptions) (*AccessTokenClaims, error) {
	claims, err := s.signer.Verify(token, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, NewInvalidTokenError("token is invalid or expired")
	}
	if tt, _ := claims["token_type"].(string); tt != TokenTypeAccess {
		return nil, NewInvalidTokenError("not an access token")
	}

	out := &AccessTokenClaims{}
	out.Subject, _ = claims["sub"].(string)
	out.ClientID, _ = claims["client_id"].(string)
	out.JTI, _ = claims["jti"].(string)
	scope, _ := claims["scope"].(string)
	out.Scopes = ParseScopes(scope)
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		out.IssuedAt = iat.Time
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	if out.Subject == "" {
		return nil, NewInvalidTokenError("token has no subject")
	}

	if opts.RequiredScope != "" && !slices.Contains(out.Scopes, opts.RequiredScope) {
		return nil, &OAuthError{Code: CodeInsufficientScope, ErrorDescription: "token lacks scope " + opts.RequiredScope}
	}
	return out, nil
}

// GenerateIDToken signs an OIDC ID token. Profile and email claims follow
// the granted scopes; at_hash binds it to AccessToken when present.
func (s *TokenService) GenerateIDToken(p IDTokenParams) (string, error) {
	if p.User == nil {
		return "", errors.New("id token requires a user")
	}

	now := s.now()
	claims := jwt.MapClaims{
		"sub":        p.User.ID,
		"aud":        p.ClientID,
		"azp":        p.ClientID,
		"exp":        now.Add(s.cfg.IDTokenTTL).Unix(),
		"iat":        now.Unix(),
		"token_type": TokenTypeID,
	}
	if !p.AuthTime.IsZero() {
		claims["auth_time"] = p.AuthTime.Unix()
	}
	if p.Nonce != "" {
		claims["nonce"] = p.Nonce
	}
	if p.AccessToken != "" {
		claims["at_hash"] = AccessTokenHash(p.AccessToken)
	}
	for k, v := range UserClaims(p.User, p.Scopes) {
		claims[k] = v
	}

	token, err := s.signer.Sign(claims)
	if err != nil {
		return "", fmt.Errorf("failed to sign id token: %w", err)
	}
	return token, nil
}

// AccessTokenHash is the OIDC at_hash: base64url of the left half of SHA-256
func AccessTokenHash(accessToken string) string {
	sum := sha256.Sum256([]byte(accessToken))
	return base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2])
}

// UserClaims returns the profile and email claims the scopes allow
func UserClaims(u *domain.User, scopes []string) map[string]any {
	claims := map[string]any{}
	if slices.Contains(scopes, domain.ScopeProfile) {
		if u.Name != "" {
			claims["name"] = u.Name
		}
		if u.Avatar != "" {
			claims["picture"] = u.Avatar
		}
	}
	if slices.Contains(scopes, domain.ScopeEmail) {
		claims["email"] = u.Email
		claims["email_verified"] = u.EmailVerified
	}
	return claims
}

// GenerateRefreshToken stores a new opaque refresh token and returns its raw value
func (s *TokenService) GenerateRefreshToken(ctx context.Context, p RefreshTokenParams) (string, *domain.RefreshToken, error) {
	raw, token, err := s.newRefreshToken(p.UserID, p.ClientID, p.Scopes, p.FamilyID)
	if err != nil {
		return "", nil, err
	}
	if err := s.refreshTokens.Create(ctx, token); err != nil {
		return "", nil, fmt.Errorf("failed to store refresh token: %w", err)
	}
	return raw, token, nil
}

func (s *TokenService) newRefreshToken(userID, clientID string, scopes []string, familyID string) (string, *domain.RefreshToken, error) {
	raw, err := crypto.RandomToken(refreshTokenBytes)
	if err != nil {
		return "", nil, err
	}
	if familyID == "" {
		familyID = uuid.NewString()
	}

	now := s.now()
	return raw, &domain.RefreshToken{
		ID:        uuid.NewString(),
		TokenHash: crypto.HashToken(raw),
		UserID:    userID,
		ClientID:  clientID,
		FamilyID:  familyID,
		Scopes:    slices.Clone(scopes),
		ExpiresAt: now.Add(s.cfg.RefreshTokenTTL),
		CreatedAt: now,
	}, nil
}

// RotateRefreshToken retires old and issues its successor in the same family.
// Losing a concurrent rotation is treated as reuse: the family is revoked
// and invalid_grant returned.
func (s *TokenService) RotateRefreshToken(ctx context.Context, old *domain.RefreshToken) (string, *domain.RefreshToken, error) {
	raw, next, err := s.newRefreshToken(old.UserID, old.ClientID, old.Scopes, old.FamilyID)
	if err != nil {
		return "", nil, err
	}
	next.RotationCount = old.RotationCount + 1
	prev := old.ID
	next.PreviousTokenID = &prev

	if err := s.refreshTokens.Rotate(ctx, old.ID, next, s.now()); err != nil {
		if errors.Is(err, repository.ErrTokenAlreadyRotated) {
			s.securityEvent(ctx, SecurityEventRefreshReuse, old)
			if revokeErr := s.RevokeFamily(ctx, old.FamilyID, RevokeReasonReuse); revokeErr != nil {
				return "", nil, revokeErr
			}
			return "", nil, NewInvalidGrantError("refresh token is invalid")
		}
		return "", nil, fmt.Errorf("failed to rotate refresh token: %w", err)
	}
	return raw, next, nil
}

// ValidateRefreshToken checks, in order: existence, client binding, reuse,
// revocation and expiry. Reuse of a rotated token revokes its family. The
// error return is reserved for storage failures.
func (s *TokenService) ValidateRefreshToken(ctx context.Context, raw, clientID string) (*RefreshValidation, error) {
	if raw == "" {
		return &RefreshValidation{IsValid: false}, nil
	}

	token, err := s.refreshTokens.GetByTokenHash(ctx, crypto.HashToken(raw))
	if err != nil {
		if errors.Is(err, repository.ErrRefreshTokenNotFound) {
			return &RefreshValidation{IsValid: false}, nil
		}
		return nil, fmt.Errorf("failed to load refresh token: %w", err)
	}

	invalid := func(event string) *RefreshValidation {
		return &RefreshValidation{IsValid: false, SecurityEvent: event, FamilyID: token.FamilyID}
	}

	switch {
	case token.ClientID != clientID:
		s.securityEvent(ctx, SecurityEventRefreshClientMismatch, token)
		return invalid(SecurityEventRefreshClientMismatch), nil
	case token.RotatedAt != nil:
		s.securityEvent(ctx, SecurityEventRefreshReuse, token)
		if err := s.RevokeFamily(ctx, token.FamilyID, RevokeReasonReuse); err != nil {
			return nil, err
		}
		return invalid(SecurityEventRefreshReuse), nil
	case token.IsRevoked:
		s.securityEvent(ctx, SecurityEventRevokedTokenUse, token)
		return invalid(SecurityEventRevokedTokenUse), nil
	case !token.ExpiresAt.After(s.now()):
		return &RefreshValidation{IsValid: false, FamilyID: token.FamilyID}, nil
	}

	return &RefreshValidation{IsValid: true, RefreshToken: token, FamilyID: token.FamilyID}, nil
}

// RevokeFamily revokes every token of a family
func (s *TokenService) RevokeFamily(ctx context.Context, familyID, reason string) error {
	n, err := s.refreshTokens.RevokeFamily(ctx, familyID, reason, s.now())
	if err != nil {
		return fmt.Errorf("failed to revoke token family: %w", err)
	}
	logger.From(ctx).Info("refresh token family revoked",
		logger.FamilyID(familyID),
		logger.Op(reason),
		zap.Int64("tokens_revoked", n),
	)
	return nil
}

// RevokeRefreshToken revokes the family of raw when it belongs to clientID.
// Unknown tokens and tokens of other clients are ignored.
func (s *TokenService) RevokeRefreshToken(ctx context.Context, raw, clientID string) error {
	token, err := s.refreshTokens.GetByTokenHash(ctx, crypto.HashToken(strings.TrimSpace(raw)))
	if err != nil {
		if errors.Is(err, repository.ErrRefreshTokenNotFound) {
			return nil
		}
		return fmt.Errorf("failed to load refresh token: %w", err)
	}
	if token.ClientID != clientID {
		s.securityEvent(ctx, SecurityEventRefreshClientMismatch, token)
		return nil
	}
	return s.RevokeFamily(ctx, token.FamilyID, RevokeReasonClient)
}

func (s *TokenService) securityEvent(ctx context.Context, event string, token *domain.RefreshToken) {
	logger.From(ctx).Warn("refresh token security event",
		logger.SecurityEvent(event),
		logger.FamilyID(token.FamilyID),
		logger.ClientID(token.ClientID),
		logger.UserID(token.UserID),
	)
	s.metrics.SecurityEvent(event)
}
