package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bcnelson/cloudflare-waf-manager/internal/api/middleware"
	"github.com/bcnelson/cloudflare-waf-manager/internal/domain"
	"github.com/bcnelson/cloudflare-waf-manager/internal/storage"
	"github.com/go-chi/chi/v5"
)

const maxKeyNameLength = 100

// APIKeyHandler handles API key endpoints.
type APIKeyHandler struct {
	store storage.Storage
}

// NewAPIKeyHandler creates a new APIKeyHandler.
func NewAPIKeyHandler(store storage.Storage) *APIKeyHandler {
	return &APIKeyHandler{store: store}
}

// Create issues a new API key. The plaintext key is only returned here.
func (h *APIKeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateAPIKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	if len(req.Name) > maxKeyNameLength {
		respondError(w, http.StatusBadRequest, "name is too long")
		return
	}

	key, hash, prefix, err := domain.NewAPIKeySecret()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to generate API key")
		return
	}

	apiKey := &domain.APIKey{
		ID:        generateID(),
		Name:      req.Name,
		KeyHash:   hash,
		KeyPrefix: prefix,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.CreateAPIKey(r.Context(), apiKey); err != nil {
		handleError(w, err)
		return
	}
	slog.Info("API key issued", "id", apiKey.ID, "name", apiKey.Name, "prefix", prefix, "by", caller(r))

	respondJSON(w, http.StatusCreated, &domain.CreateAPIKeyResponse{
		ID:        apiKey.ID,
		Name:      apiKey.Name,
		Key:       key,
		KeyPrefix: apiKey.KeyPrefix,
		CreatedAt: apiKey.CreatedAt,
	})
}

// List lists all API keys without their secrets.
func (h *APIKeyHandler) List(w http.ResponseWriter, r *http.Request) {
	keys, err := h.store.ListAPIKeys(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, keys)
}

// Delete revokes an API key. A key cannot revoke itself, so a caller
// always keeps a working credential.
func (h *APIKeyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if current := middleware.GetAPIKeyFromContext(r.Context()); current != nil && current.ID == id {
		respondError(w, http.StatusConflict, "cannot revoke the key used for this request")
		return
	}

	if err := h.store.DeleteAPIKey(r.Context(), id); err != nil {
		handleError(w, err)
		return
	}
	slog.Info("API key revoked", "id", id, "by", caller(r))
	w.WriteHeader(http.StatusNoContent)
}

func caller(r *http.Request) string {
	if key := middleware.GetAPIKeyFromContext(r.Context()); key != nil {
		return key.ID
	}
	return ""
}
