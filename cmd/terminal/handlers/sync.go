// Package handlers provides the localhost REST API the POS UI talks to.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/quickmart/poscore/internal/errors"
	"github.com/quickmart/poscore/internal/models"
	"github.com/quickmart/poscore/internal/sync/queue"
)

// ReplayTrigger requests an immediate replay pass.
type ReplayTrigger interface {
	TriggerNow()
}

// ConnectivityStatus exposes the current online flag.
type ConnectivityStatus interface {
	Online() bool
}

// SyncHandler handles queue and replay endpoints.
type SyncHandler struct {
	queue   *queue.OfflineQueue
	trigger ReplayTrigger
	status  ConnectivityStatus
}

// NewSyncHandler creates a SyncHandler.
func NewSyncHandler(q *queue.OfflineQueue, trigger ReplayTrigger, status ConnectivityStatus) *SyncHandler {
	return &SyncHandler{queue: q, trigger: trigger, status: status}
}

// Register attaches the sync routes to a mux.
func (h *SyncHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sync/operations", h.EnqueueOperation)
	mux.HandleFunc("GET /api/sync/operations", h.ListOperations)
	mux.HandleFunc("DELETE /api/sync/operations/{id}", h.RemoveOperation)
	mux.HandleFunc("POST /api/sync/replay", h.TriggerReplay)
	mux.HandleFunc("GET /api/sync/status", h.Status)
	mux.HandleFunc("GET /api/sync/dead-letters", h.ListDeadLetters)
	mux.HandleFunc("DELETE /api/sync/dead-letters/{id}", h.DiscardDeadLetter)
}

// EnqueueOperation handles POST /api/sync/operations.
// The UI calls this when a mutation cannot reach the backend.
func (h *SyncHandler) EnqueueOperation(w http.ResponseWriter, r *http.Request) {
	var request struct {
		EntityType models.EntityType `json:"entity_type"`
		Operation  models.Operation  `json:"operation"`
		Payload    json.RawMessage   `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if !models.IsKnownEntityType(request.EntityType) {
		http.Error(w, "unknown entity_type", http.StatusBadRequest)
		return
	}

	id, err := h.queue.Enqueue(r.Context(), request.EntityType, request.Operation, request.Payload)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":      id,
		"pending": h.queue.Count(),
	})
}

// ListOperations handles GET /api/sync/operations.
func (h *SyncHandler) ListOperations(w http.ResponseWriter, r *http.Request) {
	ops := h.queue.List(r.Context())

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"operations": ops,
		"count":      len(ops),
	})
}

// RemoveOperation handles DELETE /api/sync/operations/{id}.
// Idempotent: removing an unknown id still returns 204.
func (h *SyncHandler) RemoveOperation(w http.ResponseWriter, r *http.Request) {
	if err := h.queue.Remove(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TriggerReplay handles POST /api/sync/replay. The pass runs on the
// scheduler's goroutine; 202 means the request was accepted, not that the
// pass finished.
func (h *SyncHandler) TriggerReplay(w http.ResponseWriter, r *http.Request) {
	h.trigger.TriggerNow()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"pending": h.queue.Count(),
	})
}

// Status handles GET /api/sync/status. This is what the UI polls for the
// online banner and the pending-count badge.
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"online":  h.status.Online(),
		"pending": h.queue.Count(),
	})
}

// ListDeadLetters handles GET /api/sync/dead-letters.
func (h *SyncHandler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	dead, err := h.queue.DeadLetters(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"operations": dead,
		"count":      len(dead),
	})
}

// DiscardDeadLetter handles DELETE /api/sync/dead-letters/{id}.
func (h *SyncHandler) DiscardDeadLetter(w http.ResponseWriter, r *http.Request) {
	if err := h.queue.Discard(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeError maps application error codes onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errors.CodeOf(err) {
	case errors.ErrInvalid, errors.ErrValidation:
		status = http.StatusBadRequest
	case errors.ErrNotFound:
		status = http.StatusNotFound
	case errors.ErrStorageUnavailable, errors.ErrStorage:
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": err.Error(),
		"code":  string(errors.CodeOf(err)),
	})
}
