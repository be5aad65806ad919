package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/jwebster45206/storyforge/pkg/digest"
	"github.com/jwebster45206/storyforge/pkg/scene"
	"github.com/jwebster45206/storyforge/pkg/session"
	"github.com/jwebster45206/storyforge/pkg/tags"
)

// DigestResponse lists the stored digest lines. Top is only set when the
// request asked for ?top=N.
type DigestResponse struct {
	Lines []digest.Line `json:"lines"`
	Top   []string      `json:"top,omitempty"`
}

// DigestHandler serves the session's digest memory.
type DigestHandler struct {
	session *session.Session
	logger  *slog.Logger
}

// NewDigestHandler creates a new digest handler
func NewDigestHandler(sess *session.Session, logger *slog.Logger) *DigestHandler {
	return &DigestHandler{session: sess, logger: orDefault(logger)}
}

// ServeHTTP handles GET /v1/digest[?top=N]
func (h *DigestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, h.logger, http.MethodGet)
		return
	}
	lines := h.session.DigestLines()
	if lines == nil {
		lines = []digest.Line{}
	}
	resp := DigestResponse{Lines: lines}

	if raw := r.URL.Query().Get("top"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, h.logger, http.StatusBadRequest, "top must be a non-negative integer")
			return
		}
		view := digest.NewStore(h.logger)
		view.ReplaceAll(lines)
		resp.Top = view.TopForContext(n)
	}
	writeJSON(w, h.logger, http.StatusOK, resp)
}

// SceneResponse is the scene state plus the tags it resolves to.
type SceneResponse struct {
	Scene scene.State `json:"scene"`
	Tags  []string    `json:"tags"`
}

// SceneHandler serves the current scene.
type SceneHandler struct {
	session *session.Session
	logger  *slog.Logger
}

// NewSceneHandler creates a new scene handler
func NewSceneHandler(sess *session.Session, logger *slog.Logger) *SceneHandler {
	return &SceneHandler{session: sess, logger: orDefault(logger)}
}

// ServeHTTP handles GET /v1/scene
func (h *SceneHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, h.logger, http.MethodGet)
		return
	}
	sceneTags := h.session.SceneTags()
	if sceneTags == nil {
		sceneTags = []string{}
	}
	writeJSON(w, h.logger, http.StatusOK, SceneResponse{
		Scene: h.session.SceneState(),
		Tags:  sceneTags,
	})
}

// TagsResponse lists tag problems in the world state.
type TagsResponse struct {
	Valid  bool         `json:"valid"`
	Issues []tags.Issue `json:"issues"`
}

// TagsHandler runs the tag validator over the session's world state.
type TagsHandler struct {
	session *session.Session
	logger  *slog.Logger
}

// NewTagsHandler creates a new tags handler
func NewTagsHandler(sess *session.Session, logger *slog.Logger) *TagsHandler {
	return &TagsHandler{session: sess, logger: orDefault(logger)}
}

// ServeHTTP handles GET /v1/tags/validate
func (h *TagsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, h.logger, http.MethodGet)
		return
	}
	issues := tags.Validate(h.session.WorldState())
	writeJSON(w, h.logger, http.StatusOK, TagsResponse{
		Valid:  len(issues) == 0,
		Issues: issues,
	})
}

// PinRequest is the body of POST /v1/pins.
type PinRequest struct {
	Prefix string `json:"prefix"`
}

// PinsResponse lists the pinned world-state keys.
type PinsResponse struct {
	Toggled int      `json:"toggled,omitempty"`
	Pins    []string `json:"pins"`
}

// PinsHandler lists and toggles pinned keys.
type PinsHandler struct {
	session *session.Session
	logger  *slog.Logger
}

// NewPinsHandler creates a new pins handler
func NewPinsHandler(sess *session.Session, logger *slog.Logger) *PinsHandler {
	return &PinsHandler{session: sess, logger: orDefault(logger)}
}

// ServeHTTP handles GET /v1/pins and POST /v1/pins {"prefix"}
func (h *PinsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, h.logger, http.StatusOK, PinsResponse{Pins: h.pins()})
	case http.MethodPost:
		var req PinRequest
		if !decodeBody(w, r, h.logger, &req) {
			return
		}
		if req.Prefix == "" {
			writeError(w, h.logger, http.StatusBadRequest, "prefix is required")
			return
		}
		n := h.session.TogglePin(req.Prefix)
		h.logger.Debug("Pins toggled", "prefix", req.Prefix, "keys", n)
		writeJSON(w, h.logger, http.StatusOK, PinsResponse{Toggled: n, Pins: h.pins()})
	default:
		methodNotAllowed(w, r, h.logger, http.MethodGet, http.MethodPost)
	}
}

func (h *PinsHandler) pins() []string {
	pins := h.session.Pins()
	if pins == nil {
		pins = []string{}
	}
	return pins
}
