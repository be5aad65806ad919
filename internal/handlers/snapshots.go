package handlers

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/jwebster45206/storyforge/pkg/session"
	"github.com/jwebster45206/storyforge/pkg/storage"
)

const slotsPrefix = "/v1/slots"

// SnapshotHandler exports and imports whole session snapshots.
type SnapshotHandler struct {
	session *session.Session
	logger  *slog.Logger
}

// NewSnapshotHandler creates a new snapshot handler
func NewSnapshotHandler(sess *session.Session, logger *slog.Logger) *SnapshotHandler {
	return &SnapshotHandler{session: sess, logger: orDefault(logger)}
}

// ServeHTTP handles HTTP requests for snapshots
// Routes:
// GET /v1/snapshot  - Export the current snapshot
// POST /v1/snapshot - Replace all session state with the posted snapshot
func (h *SnapshotHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, h.logger, http.StatusOK, h.session.BuildSnapshot())

	case http.MethodPost:
		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, h.logger, http.StatusBadRequest, "Failed to read request body")
			return
		}
		snap, err := session.ParseSnapshot(data)
		if err != nil {
			h.logger.Warn("Invalid snapshot", "error", err)
			writeError(w, h.logger, http.StatusBadRequest, "Invalid snapshot JSON")
			return
		}
		if err := h.session.LoadSnapshot(snap); err != nil {
			writeFailure(w, h.logger, err)
			return
		}
		h.logger.Info("Snapshot loaded",
			"turns", len(snap.Turns))
		writeJSON(w, h.logger, http.StatusOK, h.session.BuildSnapshot())

	default:
		methodNotAllowed(w, r, h.logger, http.MethodGet, http.MethodPost)
	}
}

// SaveSlotRequest names a slot to save. A blank name uses the current time.
type SaveSlotRequest struct {
	Name string `json:"name"`
}

// SlotsResponse lists saved slots.
type SlotsResponse struct {
	Slots []storage.Slot `json:"slots"`
}

// SlotsHandler saves, restores, lists and deletes named snapshots.
type SlotsHandler struct {
	session *session.Session
	logger  *slog.Logger
}

// NewSlotsHandler creates a new slots handler
func NewSlotsHandler(sess *session.Session, logger *slog.Logger) *SlotsHandler {
	return &SlotsHandler{session: sess, logger: orDefault(logger)}
}

// ServeHTTP handles HTTP requests for save slots
// Routes:
// GET /v1/slots           - List slots
// POST /v1/slots          - Save the session into a slot
// POST /v1/slots/{name}   - Restore the session from a slot
// DELETE /v1/slots/{name} - Delete a slot
func (h *SlotsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := subPath(r, slotsPrefix)

	switch {
	case r.Method == http.MethodGet && name == "":
		slots, err := h.session.ListSlots(r.Context())
		if err != nil {
			writeFailure(w, h.logger, err)
			return
		}
		if slots == nil {
			slots = []storage.Slot{}
		}
		writeJSON(w, h.logger, http.StatusOK, SlotsResponse{Slots: slots})

	case r.Method == http.MethodPost && name == "":
		var req SaveSlotRequest
		if !decodeBody(w, r, h.logger, &req) {
			return
		}
		slot, err := h.session.SaveSnapshot(r.Context(), req.Name)
		if err != nil {
			writeFailure(w, h.logger, err)
			return
		}
		writeJSON(w, h.logger, http.StatusCreated, slot)

	case r.Method == http.MethodPost:
		if err := h.session.RestoreSnapshot(r.Context(), name); err != nil {
			writeFailure(w, h.logger, err)
			return
		}
		h.logger.Info("Slot restored", "slot", name)
		writeJSON(w, h.logger, http.StatusOK, h.session.BuildSnapshot())

	case r.Method == http.MethodDelete && name != "":
		if err := h.session.DeleteSlot(r.Context(), name); err != nil {
			writeFailure(w, h.logger, err)
			return
		}
		h.logger.Info("Slot deleted", "slot", name)
		w.WriteHeader(http.StatusNoContent)

	default:
		methodNotAllowed(w, r, h.logger, http.MethodGet, http.MethodPost, http.MethodDelete)
	}
}
