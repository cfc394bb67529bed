package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/dlddu/tiny-oidc/internal/auth"
	"github.com/dlddu/tiny-oidc/internal/logger"
	"github.com/dlddu/tiny-oidc/internal/service"
)

const maxBodyBytes = 1 << 20

// ErrorResponse is the JSON error body of every endpoint
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	// headers are already written
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, ErrorResponse{Error: code, ErrorDescription: description})
}

// noStore marks a response as carrying credentials
func noStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
}

// writeOAuthError writes err as an OAuth error body. Anything that is not an
// OAuthError is logged and hidden behind server_error.
func writeOAuthError(w http.ResponseWriter, r *http.Request, err error) *service.OAuthError {
	oe := service.AsOAuthError(err)
	if oe.Code == service.CodeServerError {
		logger.From(r.Context()).Error("request failed", logger.Err(err))
	}
	writeError(w, oe.StatusCode(), oe.Code, oe.ErrorDescription)
	return oe
}

// writeAPIError maps management API errors to HTTP statuses
func writeAPIError(w http.ResponseWriter, r *http.Request, err error) {
	var oe *service.OAuthError
	switch {
	case errors.As(err, &oe):
		writeOAuthError(w, r, oe)
	case errors.Is(err, auth.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
	case errors.Is(err, service.ErrNotClientOwner), errors.Is(err, auth.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, service.ErrClientNotFound), errors.Is(err, service.ErrConsentNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, service.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, service.ErrValidation):
		writeError(w, http.StatusBadRequest, service.CodeInvalidRequest, err.Error())
	default:
		logger.From(r.Context()).Error("request failed", logger.Err(err))
		writeError(w, http.StatusInternalServerError, service.CodeServerError, "internal server error")
	}
}

// readJSON decodes a JSON body of at most maxBodyBytes. An empty body leaves v untouched.
func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := strings.ToLower(r.Header.Get("Content-Type"))
	if r.ContentLength != 0 && !strings.HasPrefix(ct, "application/json") {
		writeError(w, http.StatusUnsupportedMediaType, service.CodeInvalidRequest, "content type must be application/json")
		return false
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, service.CodeInvalidRequest, "malformed JSON body")
		return false
	}
	return true
}

// parseForm parses a form body of at most maxBodyBytes
func parseForm(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, service.CodeInvalidRequest, "failed to parse form data")
		return false
	}
	return true
}
