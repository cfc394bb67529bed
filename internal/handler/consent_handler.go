package handler

import (
	"net/http"

	"github.com/dlddu/tiny-oidc/internal/auth"
	"github.com/dlddu/tiny-oidc/internal/service"
	"github.com/go-chi/chi/v5"
)

// ConsentHandler lets end users review and withdraw the consents they granted
type ConsentHandler struct {
	consents *service.ConsentService
}

// NewConsentHandler creates a new consent handler
func NewConsentHandler(consents *service.ConsentService) *ConsentHandler {
	return &ConsentHandler{consents: consents}
}

type revokeScopesRequest struct {
	Scopes []string `json:"scopes"`
}

// List handles GET /oauth/consents
func (h *ConsentHandler) List(w http.ResponseWriter, r *http.Request) {
	views, err := h.consents.ListUserConsents(r.Context(), auth.UserFromContext(r.Context()))
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

// Revoke handles DELETE /oauth/consents/{client_id}
func (h *ConsentHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	if err := h.consents.RevokeConsent(r.Context(), auth.UserFromContext(r.Context()), chi.URLParam(r, "client_id")); err != nil {
		writeAPIError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RevokeScopes handles POST /oauth/consents/{client_id}/revoke-scopes
func (h *ConsentHandler) RevokeScopes(w http.ResponseWriter, r *http.Request) {
	var req revokeScopesRequest
	if !readJSON(w, r, &req) {
		return
	}

	consent, err := h.consents.RevokeScopes(r.Context(), auth.UserFromContext(r.Context()), chi.URLParam(r, "client_id"), req.Scopes)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, consent)
}
