package service

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOAuthError(t *testing.T) {
	err := NewInvalidGrantError("code expired")
	assert.Equal(t, "invalid_grant: code expired", err.Error())
	assert.ErrorIs(t, fmt.Errorf("wrapped: %w", err), ErrInvalidGrant)
	assert.NotErrorIs(t, err, ErrInvalidRequest)

	tests := []struct {
		err    *OAuthError
		status int
	}{
		{NewInvalidClientError(""), http.StatusUnauthorized},
		{NewInvalidTokenError(""), http.StatusUnauthorized},
		{ErrInsufficientScope, http.StatusForbidden},
		{ErrServerError, http.StatusInternalServerError},
		{NewInvalidScopeError(""), http.StatusBadRequest},
		{NewUnsupportedGrantTypeError(""), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.err.Code, func(t *testing.T) {
			assert.Equal(t, tt.status, tt.err.StatusCode())
		})
	}
}

func TestAsOAuthError(t *testing.T) {
	oe := NewAccessDeniedError("no")
	assert.Same(t, oe, AsOAuthError(fmt.Errorf("x: %w", oe)))

	fallback := AsOAuthError(errors.New("db down"))
	assert.Equal(t, CodeServerError, fallback.Code)
	assert.NotContains(t, fallback.ErrorDescription, "db down")
}
