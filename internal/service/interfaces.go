package service

import (
	"context"

	"github.com/dlddu/tiny-oidc/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

// SecretHasher hashes and verifies client secrets
type SecretHasher interface {
	HashSecret(secret string) (string, error)
	VerifySecret(hash, secret string) error
}

// TokenSigner signs and verifies JWTs with the server's key set
type TokenSigner interface {
	Sign(claims jwt.MapClaims) (string, error)
	Verify(token string, opts ...jwt.ParserOption) (jwt.MapClaims, error)
	Issuer() string
}

// ClientPolicy authorizes state-mutating client operations
type ClientPolicy interface {
	RequireAdmin(ctx context.Context, userID string) error
	CanManageClient(ctx context.Context, userID string, client *domain.Client) error
}

// Security events, logged at warn level and counted in metrics
const (
	SecurityEventPKCEMismatch          = "pkce_mismatch"
	SecurityEventRefreshReuse          = "refresh_token_reuse"
	SecurityEventRefreshClientMismatch = "refresh_token_client_mismatch"
	SecurityEventRevokedTokenUse       = "revoked_token_use"
	SecurityEventClientAuthFailed      = "client_auth_failed"
)
