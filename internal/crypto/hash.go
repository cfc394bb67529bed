package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrEmptySecret = errors.New("secret cannot be empty")
	ErrEmptyHash   = errors.New("hash cannot be empty")
)

// HashSecret hashes a client secret using bcrypt with default cost
func HashSecret(secret string) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}

	return string(hash), nil
}

// VerifySecret checks a secret against a bcrypt hash in constant time
func VerifySecret(hash, secret string) error {
	if hash == "" {
		return ErrEmptyHash
	}
	if secret == "" {
		return ErrEmptySecret
	}

	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
}

// RandomToken returns n random bytes encoded as unpadded base64url.
func RandomToken(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("token size must be positive, got %d", n)
	}

	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashToken returns the hex SHA-256 digest used to look up opaque tokens.
// Authorization codes and refresh tokens are only ever stored in this form.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Hasher adapts the package functions to the service-layer interface
type Hasher struct{}

func (Hasher) HashSecret(secret string) (string, error) { return HashSecret(secret) }

func (Hasher) VerifySecret(hash, secret string) error { return VerifySecret(hash, secret) }
