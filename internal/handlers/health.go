package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/jwebster45206/storyforge/pkg/session"
)

type HealthResponse struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Service    string            `json:"service"`
	Components map[string]string `json:"components"`
}

// Pinger is a backend that can report its health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	storage Pinger
	session *session.Session
	logger  *slog.Logger
}

// NewHealthHandler creates a health handler. storage may be nil when the
// server runs without a snapshot backend.
func NewHealthHandler(storage Pinger, sess *session.Session, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		storage: storage,
		session: sess,
		logger:  orDefault(logger),
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.logger.Debug("Health check requested",
		"method", r.Method,
		"path", r.URL.Path,
		"remote_addr", r.RemoteAddr)

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	components := make(map[string]string)
	overallStatus := "healthy"

	if h.storage != nil {
		if err := h.storage.Ping(ctx); err != nil {
			h.logger.Warn("Storage health check failed", "error", err)
			components["storage"] = "unhealthy"
			overallStatus = "degraded"
		} else {
			components["storage"] = "healthy"
		}
	}

	// a session without a card is idle, not unhealthy
	if h.session.Card() != nil {
		components["session"] = "active"
	} else {
		components["session"] = "idle"
	}

	statusCode := http.StatusOK
	if overallStatus != "healthy" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, h.logger, statusCode, HealthResponse{
		Status:     overallStatus,
		Timestamp:  time.Now(),
		Service:    "storyforge",
		Components: components,
	})
}
