package auth

import (
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"
	"strings"
)

var (
	ErrEmptyHeader         = errors.New("authorization header is empty")
	ErrInvalidScheme       = errors.New("invalid authorization scheme, expected 'Basic'")
	ErrInvalidBase64       = errors.New("invalid base64 encoding")
	ErrInvalidCredentials  = errors.New("invalid credentials format")
	ErrEmptyClientID       = errors.New("client_id cannot be empty")
	ErrNoClientCredentials = errors.New("no client credentials supplied")
	ErrMultipleAuthMethods = errors.New("client used more than one authentication method")
)

// Client authentication methods advertised in discovery
const (
	MethodClientSecretBasic = "client_secret_basic"
	MethodClientSecretPost  = "client_secret_post"
)

// ClientCredentials are the credentials a client presented at a back-channel endpoint
type ClientCredentials struct {
	ClientID     string
	ClientSecret string
	Method       string
}

// ParseBasicAuth parses a Basic Authentication header and returns client_id and client_secret.
// Both halves are form-urlencoded before base64 encoding (RFC 6749 section 2.3.1).
func ParseBasicAuth(header string) (clientID, clientSecret string, err error) {
	if header == "" {
		return "", "", ErrEmptyHeader
	}

	const prefix = "Basic "
	if !strings.HasPrefix(header, prefix) {
		return "", "", ErrInvalidScheme
	}

	encoded := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if encoded == "" {
		return "", "", ErrInvalidBase64
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", "", ErrInvalidBase64
	}

	// Split by first colon only (secret can contain colons)
	rawID, rawSecret, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return "", "", ErrInvalidCredentials
	}

	if clientID, err = url.QueryUnescape(rawID); err != nil {
		return "", "", ErrInvalidCredentials
	}
	if clientSecret, err = url.QueryUnescape(rawSecret); err != nil {
		return "", "", ErrInvalidCredentials
	}

	if clientID == "" {
		return "", "", ErrEmptyClientID
	}

	return clientID, clientSecret, nil
}

// ClientCredentialsFromRequest extracts client credentials from the Authorization
// header or, failing that, the form body. The form must already be parsed.
func ClientCredentialsFromRequest(r *http.Request) (*ClientCredentials, error) {
	header := r.Header.Get("Authorization")
	formID := r.PostForm.Get("client_id")
	formSecret := r.PostForm.Get("client_secret")

	if header != "" {
		if formSecret != "" {
			return nil, ErrMultipleAuthMethods
		}
		id, secret, err := ParseBasicAuth(header)
		if err != nil {
			return nil, err
		}
		if formID != "" && formID != id {
			return nil, ErrInvalidCredentials
		}
		return &ClientCredentials{ClientID: id, ClientSecret: secret, Method: MethodClientSecretBasic}, nil
	}

	if formID == "" || formSecret == "" {
		return nil, ErrNoClientCredentials
	}
	return &ClientCredentials{ClientID: formID, ClientSecret: formSecret, Method: MethodClientSecretPost}, nil
}
