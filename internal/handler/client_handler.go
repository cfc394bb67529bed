package handler

import (
	"context"
	"net/http"

	"github.com/dlddu/tiny-oidc/internal/auth"
	"github.com/dlddu/tiny-oidc/internal/domain"
	"github.com/dlddu/tiny-oidc/internal/service"
	"github.com/go-chi/chi/v5"
)

// ClientHandler serves client registration, owner management and the admin approval workflow
type ClientHandler struct {
	clients *service.ClientService
}

// NewClientHandler creates a new client handler
func NewClientHandler(clients *service.ClientService) *ClientHandler {
	return &ClientHandler{clients: clients}
}

// clientResponse carries the plain secret only on registration and rotation
type clientResponse struct {
	*domain.Client
	ClientSecret string `json:"client_secret,omitempty"`
}

type secretResponse struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

type statusRequest struct {
	Reason string `json:"reason"`
}

// Register handles POST /oauth/clients
func (h *ClientHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterClientRequest
	if !readJSON(w, r, &req) {
		return
	}

	reg, err := h.clients.RegisterClient(r.Context(), auth.UserFromContext(r.Context()), req)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	noStore(w)
	writeJSON(w, http.StatusCreated, clientResponse{Client: reg.Client, ClientSecret: reg.ClientSecret})
}

// List handles GET /oauth/clients
func (h *ClientHandler) List(w http.ResponseWriter, r *http.Request) {
	clients, err := h.clients.ListOwnClients(r.Context(), auth.UserFromContext(r.Context()))
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(clients))
}

// Get handles GET /oauth/clients/{id}
func (h *ClientHandler) Get(w http.ResponseWriter, r *http.Request) {
	client, err := h.clients.GetClient(r.Context(), auth.UserFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, client)
}

// Update handles PATCH /oauth/clients/{id}
func (h *ClientHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req service.UpdateClientRequest
	if !readJSON(w, r, &req) {
		return
	}

	client, err := h.clients.UpdateClient(r.Context(), auth.UserFromContext(r.Context()), chi.URLParam(r, "id"), req)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, client)
}

// Delete handles DELETE /oauth/clients/{id}
func (h *ClientHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.clients.DeleteClient(r.Context(), auth.UserFromContext(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeAPIError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RotateSecret handles POST /oauth/clients/{id}/secret
func (h *ClientHandler) RotateSecret(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "id")
	secret, err := h.clients.RotateClientSecret(r.Context(), auth.UserFromContext(r.Context()), clientID)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	noStore(w)
	writeJSON(w, http.StatusOK, secretResponse{ClientID: clientID, ClientSecret: secret})
}

// AdminList handles GET /oauth/admin/clients?status=
func (h *ClientHandler) AdminList(w http.ResponseWriter, r *http.Request) {
	status := domain.ClientStatus(r.URL.Query().Get("status"))
	clients, err := h.clients.ListClients(r.Context(), auth.UserFromContext(r.Context()), status)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(clients))
}

// Transition handles POST /oauth/admin/clients/{id}/{action}
func (h *ClientHandler) Transition(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !readJSON(w, r, &req) {
		return
	}

	var transition func(ctx context.Context, adminID, clientID, reason string) (*domain.Client, error)
	switch chi.URLParam(r, "action") {
	case "approve":
		transition = h.clients.ApproveClient
	case "reject":
		transition = h.clients.RejectClient
	case "suspend":
		transition = h.clients.SuspendClient
	case "reactivate":
		transition = h.clients.ReactivateClient
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown action")
		return
	}

	client, err := transition(r.Context(), auth.UserFromContext(r.Context()), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, client)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
