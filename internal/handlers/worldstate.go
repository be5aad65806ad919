package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/jwebster45206/storyforge/pkg/session"
	"github.com/jwebster45206/storyforge/pkg/state"
)

const worldStatePrefix = "/v1/worldstate"

// WorldStateResponse is the full game state: core player fields plus the
// world tree.
type WorldStateResponse struct {
	Player     PlayerFields `json:"player"`
	WorldState state.World  `json:"worldState"`
	Pins       []string     `json:"pins"`
}

// PlayerFields are the core fields of the player.
type PlayerFields struct {
	HP        int    `json:"hp"`
	Gold      int    `json:"gold"`
	Narration string `json:"narration"`
}

// ValueResponse is the value found at one world-state path.
type ValueResponse struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// RenameRequest renames an entity when Category is set, else a category.
type RenameRequest struct {
	Category string `json:"category,omitempty"`
	From     string `json:"from"`
	To       string `json:"to"`
}

// WorldStateHandler reads and edits the world-state tree.
type WorldStateHandler struct {
	session *session.Session
	logger  *slog.Logger
}

// NewWorldStateHandler creates a new world state handler
func NewWorldStateHandler(sess *session.Session, logger *slog.Logger) *WorldStateHandler {
	return &WorldStateHandler{session: sess, logger: orDefault(logger)}
}

// ServeHTTP handles HTTP requests for world state operations
// Routes:
// GET /v1/worldstate           - Full game state
// GET /v1/worldstate/{path}    - Value at a dotted path
// PUT /v1/worldstate/{path}    - Set the value at a path (body is any JSON value)
// DELETE /v1/worldstate/{path} - Delete a path, category, or entity (?level=1|2)
// POST /v1/worldstate/rename   - Rename an entity or category
func (h *WorldStateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := subPath(r, worldStatePrefix)

	if path == "rename" {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, h.logger, http.MethodPost)
			return
		}
		h.handleRename(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.handleRead(w, path)
	case http.MethodPut:
		h.handleSet(w, r, path)
	case http.MethodDelete:
		h.handleDelete(w, r, path)
	default:
		methodNotAllowed(w, r, h.logger, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

func (h *WorldStateHandler) handleRead(w http.ResponseWriter, path string) {
	if path == "" {
		writeJSON(w, h.logger, http.StatusOK, h.snapshot())
		return
	}

	value, ok := h.session.WorldState().Lookup(path)
	if !ok {
		writeError(w, h.logger, http.StatusNotFound, "Path not found: "+path)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, ValueResponse{Path: path, Value: value})
}

func (h *WorldStateHandler) handleSet(w http.ResponseWriter, r *http.Request, path string) {
	if path == "" {
		writeError(w, h.logger, http.StatusBadRequest, "A path is required for PUT requests")
		return
	}
	var value any
	if !decodeBody(w, r, h.logger, &value) {
		return
	}
	if err := h.session.SetValueAtPath(path, value); err != nil {
		writeFailure(w, h.logger, err)
		return
	}
	h.logger.Info("World state value set", "path", path)
	writeJSON(w, h.logger, http.StatusOK, ValueResponse{Path: path, Value: value})
}

func (h *WorldStateHandler) handleDelete(w http.ResponseWriter, r *http.Request, path string) {
	if path == "" {
		writeError(w, h.logger, http.StatusBadRequest, "A path is required for DELETE requests")
		return
	}

	var err error
	segs := strings.Split(path, ".")
	switch level := r.URL.Query().Get("level"); {
	case level != "":
		n, convErr := strconv.Atoi(level)
		if convErr != nil || len(segs) != 2 {
			writeError(w, h.logger, http.StatusBadRequest, "Entity deletes need a category.entity path and a numeric level")
			return
		}
		err = h.session.DeleteEntity(segs[0], segs[1], n)
	case len(segs) == 1:
		err = h.session.DeleteCategory(path)
	default:
		err = h.session.DeleteAtPath(path)
	}
	if err != nil {
		writeFailure(w, h.logger, err)
		return
	}
	h.logger.Info("World state path deleted", "path", path)
	w.WriteHeader(http.StatusNoContent)
}

func (h *WorldStateHandler) handleRename(w http.ResponseWriter, r *http.Request) {
	var req RenameRequest
	if !decodeBody(w, r, h.logger, &req) {
		return
	}

	var err error
	if req.Category != "" {
		err = h.session.RenameEntity(req.Category, req.From, req.To)
	} else {
		err = h.session.RenameCategory(req.From, req.To)
	}
	if err != nil {
		writeFailure(w, h.logger, err)
		return
	}
	h.logger.Info("World state renamed",
		"category", req.Category,
		"from", req.From,
		"to", req.To)
	writeJSON(w, h.logger, http.StatusOK, h.snapshot())
}

func (h *WorldStateHandler) snapshot() WorldStateResponse {
	gs := h.session.GameState()
	world := gs.World
	if world == nil {
		world = state.World{}
	}
	return WorldStateResponse{
		Player: PlayerFields{
			HP:        gs.HP,
			Gold:      gs.Gold,
			Narration: gs.Narration,
		},
		WorldState: world,
		Pins:       h.session.Pins(),
	}
}
