package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/jwebster45206/storyforge/pkg/chat"
	"github.com/jwebster45206/storyforge/pkg/session"
)

// DefaultWaitTimeout bounds how long ?wait=true holds a request open.
const DefaultWaitTimeout = 2 * time.Minute

// ActionRequest is the body of POST /v1/actions.
type ActionRequest struct {
	Message string `json:"message"`
}

// ActionResponse reports a submitted turn. Narrator and Error are only set
// once the turn has settled.
type ActionResponse struct {
	Turn       int    `json:"turn"`
	Generation uint64 `json:"generation"`
	State      string `json:"state"`
	Narrator   string `json:"narrator,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ActionsHandler submits player actions to the session.
type ActionsHandler struct {
	session     *session.Session
	logger      *slog.Logger
	waitTimeout time.Duration
}

// NewActionsHandler creates a new actions handler
func NewActionsHandler(sess *session.Session, logger *slog.Logger) *ActionsHandler {
	return &ActionsHandler{
		session:     sess,
		logger:      orDefault(logger),
		waitTimeout: DefaultWaitTimeout,
	}
}

// ServeHTTP handles POST /v1/actions. The turn is processed in the
// background and the handler answers 202 at once, unless ?wait=true asks
// it to block until the turn settles.
func (h *ActionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, h.logger, http.MethodPost)
		return
	}

	var req ActionRequest
	if !decodeBody(w, r, h.logger, &req) {
		return
	}

	turn, err := h.session.SubmitAction(r.Context(), req.Message)
	if err != nil {
		writeFailure(w, h.logger, err)
		return
	}
	h.logger.Info("Action submitted",
		"turn", turn.Number)

	if r.URL.Query().Get("wait") != "true" {
		writeJSON(w, h.logger, http.StatusAccepted, ActionResponse{
			Turn:       turn.Number,
			Generation: turn.Generation,
			State:      turn.State().String(),
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.waitTimeout)
	defer cancel()
	st, err := turn.Wait(ctx)
	resp := ActionResponse{
		Turn:       turn.Number,
		Generation: turn.Generation,
		State:      st.String(),
	}
	if err != nil {
		// still pending; the client can poll /v1/turns
		writeJSON(w, h.logger, http.StatusAccepted, resp)
		return
	}
	narrator, turnErr := turn.Result()
	resp.Narrator = narrator
	if turnErr != nil {
		resp.Error = turnErr.Error()
	}

	status := http.StatusOK
	if st == session.StateFailed {
		status = http.StatusBadGateway
	}
	writeJSON(w, h.logger, status, resp)
}

// TurnsResponse is the turn history of the session.
type TurnsResponse struct {
	Generation uint64                  `json:"generation"`
	Turns      []chat.ConversationTurn `json:"turns"`
}

// TurnsHandler lists the turn history.
type TurnsHandler struct {
	session *session.Session
	logger  *slog.Logger
}

// NewTurnsHandler creates a new turns handler
func NewTurnsHandler(sess *session.Session, logger *slog.Logger) *TurnsHandler {
	return &TurnsHandler{session: sess, logger: orDefault(logger)}
}

// ServeHTTP handles GET /v1/turns
func (h *TurnsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, h.logger, http.MethodGet)
		return
	}
	turns := h.session.Turns()
	if turns == nil {
		turns = []chat.ConversationTurn{}
	}
	writeJSON(w, h.logger, http.StatusOK, TurnsResponse{
		Generation: h.session.Generation(),
		Turns:      turns,
	})
}
