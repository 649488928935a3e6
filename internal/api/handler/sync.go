package handler

import (
	"errors"
	"net/http"

	"github.com/bcnelson/cloudflare-waf-manager/internal/domain"
	"github.com/bcnelson/cloudflare-waf-manager/internal/service"
	"github.com/bcnelson/cloudflare-waf-manager/internal/storage"
	"github.com/go-chi/chi/v5"
)

const maxRunsPageSize = 100

// SyncHandler handles sync and run history endpoints.
type SyncHandler struct {
	store       storage.Storage
	syncService *service.SyncService
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(store storage.Storage, syncService *service.SyncService) *SyncHandler {
	return &SyncHandler{store: store, syncService: syncService}
}

// Sync runs a reconciliation. ?dry_run= overrides the rules document for
// this run; ?async=true schedules a debounced run and returns at once.
func (h *SyncHandler) Sync(w http.ResponseWriter, r *http.Request) {
	dryRun, err := queryBool(r, "dry_run")
	if err != nil {
		respondError(w, http.StatusBadRequest, "dry_run must be a boolean")
		return
	}
	async, err := queryBool(r, "async")
	if err != nil {
		respondError(w, http.StatusBadRequest, "async must be a boolean")
		return
	}

	if async != nil && *async {
		if dryRun != nil {
			respondError(w, http.StatusBadRequest, "dry_run cannot be combined with async")
			return
		}
		h.syncService.TriggerSync()
		respondJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
		return
	}

	resp, err := h.syncService.ForceSync(r.Context(), dryRun)
	if err != nil && resp == nil {
		handleError(w, err)
		return
	}

	status := http.StatusOK
	if err != nil {
		status = runFailureStatus(err)
	}
	respondJSON(w, status, resp)
}

// runFailureStatus maps the error of a recorded but failed run.
func runFailureStatus(err error) int {
	var remote *domain.RemoteError
	switch {
	case errors.Is(err, domain.ErrNoZoneRuleset):
		return http.StatusUnprocessableEntity
	case errors.As(err, &remote):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ListRuns lists runs, newest first.
func (h *SyncHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 20)
	if err != nil || limit == 0 {
		respondError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	if limit > maxRunsPageSize {
		limit = maxRunsPageSize
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		respondError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}

	runs, err := h.store.ListRuns(r.Context(), limit, offset)
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, runs)
}

// GetRun returns a run with its rule outcomes.
func (h *SyncHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, run)
}
