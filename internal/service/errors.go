package service

import (
	"errors"
	"net/http"
)

// OAuth 2.0 / OIDC error codes
const (
	CodeInvalidRequest          = "invalid_request"
	CodeInvalidClient           = "invalid_client"
	CodeInvalidGrant            = "invalid_grant"
	CodeUnauthorizedClient      = "unauthorized_client"
	CodeUnsupportedGrantType    = "unsupported_grant_type"
	CodeUnsupportedResponseType = "unsupported_response_type"
	CodeInvalidScope            = "invalid_scope"
	CodeAccessDenied            = "access_denied"
	CodeConsentRequired         = "consent_required"
	CodeServerError             = "server_error"
	CodeInvalidToken            = "invalid_token"
	CodeInsufficientScope       = "insufficient_scope"
)

// OAuthError represents an OAuth 2.0 error response
type OAuthError struct {
	Code             string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	ErrorURI         string `json:"error_uri,omitempty"`
}

func (e *OAuthError) Error() string {
	if e.ErrorDescription == "" {
		return e.Code
	}
	return e.Code + ": " + e.ErrorDescription
}

// Is matches any OAuthError with the same code, so
// errors.Is(err, ErrInvalidGrant) ignores the description.
func (e *OAuthError) Is(target error) bool {
	t, ok := target.(*OAuthError)
	return ok && t.Code == e.Code
}

// StatusCode is the HTTP status used when the error is returned directly
func (e *OAuthError) StatusCode() int {
	switch e.Code {
	case CodeInvalidClient, CodeInvalidToken:
		return http.StatusUnauthorized
	case CodeInsufficientScope:
		return http.StatusForbidden
	case CodeServerError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// Sentinels for errors.Is
var (
	ErrInvalidRequest          = &OAuthError{Code: CodeInvalidRequest}
	ErrInvalidClient           = &OAuthError{Code: CodeInvalidClient}
	ErrInvalidGrant            = &OAuthError{Code: CodeInvalidGrant}
	ErrUnauthorizedClient      = &OAuthError{Code: CodeUnauthorizedClient}
	ErrUnsupportedGrantType    = &OAuthError{Code: CodeUnsupportedGrantType}
	ErrUnsupportedResponseType = &OAuthError{Code: CodeUnsupportedResponseType}
	ErrInvalidScope            = &OAuthError{Code: CodeInvalidScope}
	ErrAccessDenied            = &OAuthError{Code: CodeAccessDenied}
	ErrConsentRequired         = &OAuthError{Code: CodeConsentRequired}
	ErrServerError             = &OAuthError{Code: CodeServerError}
	ErrInvalidToken            = &OAuthError{Code: CodeInvalidToken}
	ErrInsufficientScope       = &OAuthError{Code: CodeInsufficientScope}
)

// OAuth 2.0 error constructors
func NewInvalidRequestError(description string) *OAuthError {
	return &OAuthError{Code: CodeInvalidRequest, ErrorDescription: description}
}

func NewInvalidClientError(description string) *OAuthError {
	return &OAuthError{Code: CodeInvalidClient, ErrorDescription: description}
}

func NewInvalidGrantError(description string) *OAuthError {
	return &OAuthError{Code: CodeInvalidGrant, ErrorDescription: description}
}

func NewUnauthorizedClientError(description string) *OAuthError {
	return &OAuthError{Code: CodeUnauthorizedClient, ErrorDescription: description}
}

func NewUnsupportedGrantTypeError(description string) *OAuthError {
	return &OAuthError{Code: CodeUnsupportedGrantType, ErrorDescription: description}
}

func NewUnsupportedResponseTypeError(description string) *OAuthError {
	return &OAuthError{Code: CodeUnsupportedResponseType, ErrorDescription: description}
}

func NewInvalidScopeError(description string) *OAuthError {
	return &OAuthError{Code: CodeInvalidScope, ErrorDescription: description}
}

func NewAccessDeniedError(description string) *OAuthError {
	return &OAuthError{Code: CodeAccessDenied, ErrorDescription: description}
}

func NewConsentRequiredError(description string) *OAuthError {
	return &OAuthError{Code: CodeConsentRequired, ErrorDescription: description}
}

func NewInvalidTokenError(description string) *OAuthError {
	return &OAuthError{Code: CodeInvalidToken, ErrorDescription: description}
}

// AsOAuthError returns err as an OAuthError; anything else becomes server_error
func AsOAuthError(err error) *OAuthError {
	var oe *OAuthError
	if errors.As(err, &oe) {
		return oe
	}
	return &OAuthError{Code: CodeServerError, ErrorDescription: "internal server error"}
}

// Management API errors, wrapped with context via fmt.Errorf("%w: ...")
var (
	ErrClientNotFound          = errors.New("client not found")
	ErrConsentNotFound         = errors.New("consent not found")
	ErrNotClientOwner          = errors.New("not the owner of this client")
	ErrInvalidStatusTransition = errors.New("invalid client status transition")
	ErrValidation              = errors.New("validation failed")
)
