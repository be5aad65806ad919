package handlers

import (
	"log/slog"
	"net/http"

	"github.com/jwebster45206/storyforge/internal/logger"
	"github.com/jwebster45206/storyforge/internal/middleware"
	"github.com/jwebster45206/storyforge/pkg/session"
)

// Routes registers every API handler for one session on a new mux and wraps
// it in request logging. storage and cards may be nil. Every handler logs
// with the session id.
func Routes(sess *session.Session, storage Pinger, cards CardSource, log *slog.Logger) http.Handler {
	log = logger.WithSession(orDefault(log), sess.ID())
	mux := http.NewServeMux()

	mux.Handle("/health", NewHealthHandler(storage, sess, log))

	mux.Handle("/v1/actions", NewActionsHandler(sess, log))
	mux.Handle("/v1/turns", NewTurnsHandler(sess, log))

	worldState := NewWorldStateHandler(sess, log)
	mux.Handle("/v1/worldstate", worldState)
	mux.Handle("/v1/worldstate/", worldState)

	mux.Handle("/v1/digest", NewDigestHandler(sess, log))
	mux.Handle("/v1/scene", NewSceneHandler(sess, log))
	mux.Handle("/v1/pins", NewPinsHandler(sess, log))
	mux.Handle("/v1/tags/validate", NewTagsHandler(sess, log))

	mux.Handle("/v1/snapshot", NewSnapshotHandler(sess, log))
	slots := NewSlotsHandler(sess, log)
	mux.Handle("/v1/slots", slots)
	mux.Handle("/v1/slots/", slots)

	if cards != nil {
		cardsHandler := NewCardsHandler(cards, sess, log)
		mux.Handle("/v1/cards", cardsHandler)
		mux.Handle("/v1/cards/", cardsHandler)
	}

	mux.Handle("/v1/events", NewEventsHandler(sess, log))

	return middleware.Logger(log, mux)
}
