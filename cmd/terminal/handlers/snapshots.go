package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/quickmart/poscore/internal/cache"
	"github.com/quickmart/poscore/internal/models"
)

// SnapshotHandler exposes the entity snapshot cache to the UI. Writes come
// only from explicit UI calls; the sync queue never touches snapshots.
type SnapshotHandler struct {
	cache cache.Cache
}

// NewSnapshotHandler creates a SnapshotHandler.
func NewSnapshotHandler(c cache.Cache) *SnapshotHandler {
	return &SnapshotHandler{cache: c}
}

// Register attaches the snapshot routes to a mux.
func (h *SnapshotHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("PUT /api/cache/{entityType}/{id}", h.PutSnapshot)
	mux.HandleFunc("GET /api/cache/{entityType}/{id}", h.GetSnapshot)
	mux.HandleFunc("GET /api/cache/{entityType}", h.ListSnapshots)
	mux.HandleFunc("DELETE /api/cache/{entityType}/{id}", h.DeleteSnapshot)
}

func entityTypeParam(r *http.Request) (models.EntityType, bool) {
	t := models.EntityType(r.PathValue("entityType"))
	return t, models.IsKnownEntityType(t)
}

// PutSnapshot handles PUT /api/cache/{entityType}/{id}. The body is cached
// verbatim as the entity's last-known state.
func (h *SnapshotHandler) PutSnapshot(w http.ResponseWriter, r *http.Request) {
	entityType, ok := entityTypeParam(r)
	if !ok {
		http.Error(w, "unknown entity type", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	if !json.Valid(body) {
		http.Error(w, "Body must be valid JSON", http.StatusBadRequest)
		return
	}

	if err := h.cache.Put(r.Context(), entityType, r.PathValue("id"), body); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetSnapshot handles GET /api/cache/{entityType}/{id}.
func (h *SnapshotHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	entityType, ok := entityTypeParam(r)
	if !ok {
		http.Error(w, "unknown entity type", http.StatusBadRequest)
		return
	}

	snapshot, found, err := h.cache.Get(r.Context(), entityType, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !found {
		http.Error(w, "snapshot not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snapshot)
}

// ListSnapshots handles GET /api/cache/{entityType}.
func (h *SnapshotHandler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	entityType, ok := entityTypeParam(r)
	if !ok {
		http.Error(w, "unknown entity type", http.StatusBadRequest)
		return
	}

	snapshots, err := h.cache.GetAll(r.Context(), entityType)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"snapshots": snapshots,
		"count":     len(snapshots),
	})
}

// DeleteSnapshot handles DELETE /api/cache/{entityType}/{id}.
func (h *SnapshotHandler) DeleteSnapshot(w http.ResponseWriter, r *http.Request) {
	entityType, ok := entityTypeParam(r)
	if !ok {
		http.Error(w, "unknown entity type", http.StatusBadRequest)
		return
	}

	if err := h.cache.Delete(r.Context(), entityType, r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
