package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jwebster45206/storyforge/pkg/session"
)

const (
	eventWriteTimeout = 5 * time.Second
	eventPingInterval = 30 * time.Second
)

// EventsHandler streams session events over a websocket.
type EventsHandler struct {
	session  *session.Session
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(sess *session.Session, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		session: sess,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: orDefault(logger),
	}
}

// ServeHTTP handles GET /v1/events. Each session event is sent as one JSON
// text message until the client disconnects or the session closes.
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, h.logger, http.MethodGet)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Warn("Websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	events, unsubscribe := h.session.Subscribe()
	defer unsubscribe()

	h.logger.Info("Events client connected",
		"remote_addr", r.RemoteAddr)

	// The read loop only notices the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(eventPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			h.logger.Info("Events client disconnected")
			return

		case <-r.Context().Done():
			return

		case e, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"),
					time.Now().Add(time.Second))
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				h.logger.Error("Failed to marshal event", "error", err, "event_type", e.Type)
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debug("Failed to write event", "error", err)
				return
			}

		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(eventWriteTimeout)); err != nil {
				return
			}
		}
	}
}
