package jwt

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultKeyBits is the RSA modulus size for generated keys
const DefaultKeyBits = 2048

var (
	ErrInvalidPEM   = errors.New("invalid PEM format")
	ErrWrongKeyType = errors.New("wrong key type")
)

// GenerateKey generates an RSA private key with the specified bit size
func GenerateKey(bitSize int) (*rsa.PrivateKey, error) {
	if bitSize < 2048 {
		return nil, errors.New("bit size must be at least 2048")
	}

	key, err := rsa.GenerateKey(rand.Reader, bitSize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// LoadSigningKey reads the PEM signing key at path.
// An empty path yields a freshly generated key, which only suits development.
func LoadSigningKey(path string) (*rsa.PrivateKey, bool, error) {
	if path == "" {
		key, err := GenerateKey(DefaultKeyBits)
		return key, true, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read private key file: %w", err)
	}

	key, err := ParsePrivateKey(data)
	return key, false, err
}

// LoadPublicKeys reads every PEM public key in paths
func LoadPublicKeys(paths []string) ([]*rsa.PublicKey, error) {
	keys := make([]*rsa.PublicKey, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read public key file %s: %w", p, err)
		}
		pub, err := ParsePublicKey(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		keys = append(keys, pub)
	}
	return keys, nil
}

// WriteKeyPair writes private.pem (0600) and public.pem (0644) into dir
// and returns their paths.
func WriteKeyPair(key *rsa.PrivateKey, dir string) (string, string, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", "", fmt.Errorf("failed to create key directory: %w", err)
	}

	privPath := filepath.Join(dir, "private.pem")
	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	if err := os.WriteFile(privPath, privPEM, 0o600); err != nil {
		return "", "", fmt.Errorf("failed to write private key: %w", err)
	}

	pubBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	pubPath := filepath.Join(dir, "public.pem")
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})
	if err := os.WriteFile(pubPath, pubPEM, 0o644); err != nil {
		return "", "", fmt.Errorf("failed to write public key: %w", err)
	}

	return privPath, pubPath, nil
}

// ParsePrivateKey parses a PKCS1 or PKCS8 RSA private key from PEM data
func ParsePrivateKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, ErrInvalidPEM
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		return key, nil
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		key, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("not an RSA private key")
		}
		return key, nil
	default:
		return nil, ErrWrongKeyType
	}
}

// ParsePublicKey parses a PKIX or PKCS1 RSA public key from PEM data
func ParsePublicKey(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, ErrInvalidPEM
	}

	switch block.Type {
	case "PUBLIC KEY":
		parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse public key: %w", err)
		}
		pub, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("not an RSA public key")
		}
		return pub, nil
	case "RSA PUBLIC KEY":
		pub, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse public key: %w", err)
		}
		return pub, nil
	default:
		return nil, ErrWrongKeyType
	}
}
