package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/jwebster45206/storyforge/pkg/card"
	"github.com/jwebster45206/storyforge/pkg/session"
)

const cardsPrefix = "/v1/cards"

// CardSource lists and fetches prompt cards.
type CardSource interface {
	List(ctx context.Context) ([]*card.Card, error)
	Get(ctx context.Context, id string) (*card.Card, error)
}

// CardSummary is a library listing entry.
type CardSummary struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	IsExample   bool     `json:"isExample,omitempty"`
	Active      bool     `json:"active"`
}

// CardsResponse lists the card library.
type CardsResponse struct {
	Cards []CardSummary `json:"cards"`
}

// CardsHandler lists the card library and activates cards.
type CardsHandler struct {
	cards   CardSource
	session *session.Session
	logger  *slog.Logger
}

// NewCardsHandler creates a new cards handler
func NewCardsHandler(cards CardSource, sess *session.Session, logger *slog.Logger) *CardsHandler {
	return &CardsHandler{cards: cards, session: sess, logger: orDefault(logger)}
}

// ServeHTTP handles HTTP requests for prompt cards
// Routes:
// GET /v1/cards       - List the library
// GET /v1/cards/{id}  - Read one card
// POST /v1/cards/{id} - Activate a card, resetting the session
func (h *CardsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := subPath(r, cardsPrefix)

	switch {
	case r.Method == http.MethodGet && id == "":
		h.handleList(w, r)
	case r.Method == http.MethodGet:
		c, err := h.cards.Get(r.Context(), id)
		if err != nil {
			writeFailure(w, h.logger, err)
			return
		}
		writeJSON(w, h.logger, http.StatusOK, c)
	case r.Method == http.MethodPost && id != "":
		h.handleActivate(w, r, id)
	default:
		methodNotAllowed(w, r, h.logger, http.MethodGet, http.MethodPost)
	}
}

func (h *CardsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	cards, err := h.cards.List(r.Context())
	if err != nil {
		writeFailure(w, h.logger, err)
		return
	}
	activeID := ""
	if active := h.session.Card(); active != nil {
		activeID = active.ID
	}

	resp := CardsResponse{Cards: make([]CardSummary, 0, len(cards))}
	for _, c := range cards {
		resp.Cards = append(resp.Cards, CardSummary{
			ID:          c.ID,
			Title:       c.Title,
			Description: c.Description,
			Tags:        c.Tags,
			IsExample:   c.IsExample,
			Active:      c.ID == activeID,
		})
	}
	writeJSON(w, h.logger, http.StatusOK, resp)
}

func (h *CardsHandler) handleActivate(w http.ResponseWriter, r *http.Request, id string) {
	c, err := h.cards.Get(r.Context(), id)
	if err != nil {
		writeFailure(w, h.logger, err)
		return
	}
	if err := h.session.ActivateCard(c); err != nil {
		writeFailure(w, h.logger, err)
		return
	}
	h.logger.Info("Card activated",
		"card_id", c.ID,
		"title", c.Title)
	writeJSON(w, h.logger, http.StatusOK, CardSummary{
		ID:          c.ID,
		Title:       c.Title,
		Description: c.Description,
		Tags:        c.Tags,
		IsExample:   c.IsExample,
		Active:      true,
	})
}
