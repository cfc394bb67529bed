package jwt

import (
	"crypto"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

// Algorithm is the only signing algorithm issued and accepted
const Algorithm = "RS256"

var (
	ErrEmptyToken = errors.New("empty token")
	ErrUnknownKID = errors.New("unknown key id")
)

// TokenManager signs and verifies RS256 JWTs and publishes the verification keys.
// It is read-only after construction and safe for concurrent use.
type TokenManager struct {
	signingKey *rsa.PrivateKey
	kid        string
	issuer     string
	publicKeys map[string]*rsa.PublicKey
	// order keeps the JWKS output stable: signing key first, then fallbacks
	order []string
}

// NewTokenManager creates a TokenManager. Fallback keys are accepted for
// verification and published in the JWKS but never used for signing.
func NewTokenManager(signingKey *rsa.PrivateKey, issuer string, fallback ...*rsa.PublicKey) (*TokenManager, error) {
	if signingKey == nil {
		return nil, errors.New("signing key is required")
	}
	if issuer == "" {
		return nil, errors.New("issuer is required")
	}

	kid, err := KeyID(&signingKey.PublicKey)
	if err != nil {
		return nil, err
	}

	tm := &TokenManager{
		signingKey: signingKey,
		kid:        kid,
		issuer:     issuer,
		publicKeys: map[string]*rsa.PublicKey{kid: &signingKey.PublicKey},
		order:      []string{kid},
	}

	for _, pub := range fallback {
		if pub == nil {
			continue
		}
		fkid, err := KeyID(pub)
		if err != nil {
			return nil, err
		}
		if _, dup := tm.publicKeys[fkid]; dup {
			continue
		}
		tm.publicKeys[fkid] = pub
		tm.order = append(tm.order, fkid)
	}

	return tm, nil
}

// KeyID returns the RFC 7638 SHA-256 thumbprint of a public key, base64url encoded
func KeyID(pub *rsa.PublicKey) (string, error) {
	jwk := jose.JSONWebKey{Key: pub}
	thumb, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("failed to compute key thumbprint: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(thumb), nil
}

// Issuer returns the iss value stamped on every token
func (tm *TokenManager) Issuer() string {
	return tm.issuer
}

// KID returns the key id of the current signing key
func (tm *TokenManager) KID() string {
	return tm.kid
}

// Sign signs the claims with the current key. The iss claim is always set to the manager's issuer.
func (tm *TokenManager) Sign(claims jwt.MapClaims) (string, error) {
	if claims == nil {
		claims = jwt.MapClaims{}
	}
	claims["iss"] = tm.issuer

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = tm.kid

	signed, err := token.SignedString(tm.signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, algorithm, issuer and expiry and returns the claims.
// Extra parser options (for example jwt.WithAudience) are applied on top.
func (tm *TokenManager) Verify(tokenString string, opts ...jwt.ParserOption) (jwt.MapClaims, error) {
	if tokenString == "" {
		return nil, ErrEmptyToken
	}

	parserOpts := append([]jwt.ParserOption{
		jwt.WithValidMethods([]string{Algorithm}),
		jwt.WithIssuer(tm.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}, opts...)

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, tm.keyFunc, parserOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to validate token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("token is invalid")
	}

	return claims, nil
}

func (tm *TokenManager) keyFunc(token *jwt.Token) (interface{}, error) {
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		return &tm.signingKey.PublicKey, nil
	}
	pub, ok := tm.publicKeys[kid]
	if !ok {
		return nil, ErrUnknownKID
	}
	return pub, nil
}

// JWKS returns the public key set used to verify issued tokens
func (tm *TokenManager) JWKS() jose.JSONWebKeySet {
	set := jose.JSONWebKeySet{Keys: make([]jose.JSONWebKey, 0, len(tm.order))}
	for _, kid := range tm.order {
		set.Keys = append(set.Keys, jose.JSONWebKey{
			Key:       tm.publicKeys[kid],
			KeyID:     kid,
			Algorithm: Algorithm,
			Use:       "sig",
		})
	}
	return set
}
