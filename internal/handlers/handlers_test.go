package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/storyforge/internal/services"
	"github.com/jwebster45206/storyforge/pkg/card"
	"github.com/jwebster45206/storyforge/pkg/chat"
	"github.com/jwebster45206/storyforge/pkg/session"
	"github.com/jwebster45206/storyforge/pkg/storage"
)

const harborReply = `The fog lifts over the docks. Mara waves.
@delta
{"=npcs.mara.mood": "wary", "+player.gold": 5}
@digest
[{"text": "#mara grew wary of the player", "importance": 4}]
@scene
{"location": "@harbor", "present": ["#mara"]}`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func harborCard() *card.Card {
	return &card.Card{
		ID:             "harbor",
		Title:          "The Harbor",
		Prompt:         "Narrate the harbor.",
		WorldStateInit: `{"npcs":{"mara":{"tag":"#mara","mood":"calm"}},"locations":{"harbor":{"tag":"@harbor"}}}`,
		AISettings:     chat.DefaultSettings(),
	}
}

type fakeCards map[string]*card.Card

func (f fakeCards) List(ctx context.Context) ([]*card.Card, error) {
	var out []*card.Card
	for _, id := range []string{"harbor", "untagged"} {
		if c, ok := f[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f fakeCards) Get(ctx context.Context, id string) (*card.Card, error) {
	c, ok := f[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", card.ErrNotFound, id)
	}
	return c, nil
}

type testServer struct {
	handler http.Handler
	session *session.Session
	client  *services.MockChatClient
	store   *storage.MockStorage
}

func newTestServer(t *testing.T, activate bool, opts ...session.Option) *testServer {
	t.Helper()
	client := services.NewMockChatClient()
	client.SetReply(harborReply)
	store := storage.NewMockStorage()

	opts = append([]session.Option{
		session.WithID("test-session"),
		session.WithClient(client),
		session.WithStorage(store),
		session.WithLogger(testLogger()),
	}, opts...)
	sess := session.New(opts...)
	t.Cleanup(func() { _ = sess.Close() })

	if activate {
		require.NoError(t, sess.ActivateCard(harborCard()))
	}
	cards := fakeCards{
		"harbor":   harborCard(),
		"untagged": {ID: "untagged", Title: "  "},
	}
	return &testServer{
		handler: Routes(sess, store, cards, testLogger()),
		session: sess,
		client:  client,
		store:   store,
	}
}

func (ts *testServer) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

// playTurn submits an action and waits for it to settle.
func (ts *testServer) playTurn(t *testing.T, message string) ActionResponse {
	t.Helper()
	rr := ts.do(t, http.MethodPost, "/v1/actions?wait=true", ActionRequest{Message: message})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp ActionResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name           string
		pingErr        error
		expectedStatus int
		expectedHealth string
		expectedStore  string
	}{
		{
			name:           "all healthy",
			expectedStatus: http.StatusOK,
			expectedHealth: "healthy",
			expectedStore:  "healthy",
		},
		{
			name:           "unhealthy storage",
			pingErr:        errors.New("connection refused"),
			expectedStatus: http.StatusServiceUnavailable,
			expectedHealth: "degraded",
			expectedStore:  "unhealthy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, true)
			ts.store.SetPingError(tt.pingErr)

			rr := ts.do(t, http.MethodGet, "/health", nil)
			assert.Equal(t, tt.expectedStatus, rr.Code)
			assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))

			resp := decode[HealthResponse](t, rr)
			assert.Equal(t, tt.expectedHealth, resp.Status)
			assert.Equal(t, "storyforge", resp.Service)
			assert.Equal(t, tt.expectedStore, resp.Components["storage"])
			assert.Equal(t, "active", resp.Components["session"])
		})
	}
}

func TestActionsHandler_Validation(t *testing.T) {
	tests := []struct {
		name           string
		activate       bool
		method         string
		body           any
		expectedStatus int
		expectedError  string
	}{
		{
			name:           "method not allowed",
			activate:       true,
			method:         http.MethodGet,
			expectedStatus: http.StatusMethodNotAllowed,
			expectedError:  "Method not allowed. Supported methods: POST",
		},
		{
			name:           "invalid JSON body",
			activate:       true,
			method:         http.MethodPost,
			body:           "not json",
			expectedStatus: http.StatusBadRequest,
			expectedError:  "Invalid request body. Expected JSON.",
		},
		{
			name:           "empty message",
			activate:       true,
			method:         http.MethodPost,
			body:           ActionRequest{Message: "   "},
			expectedStatus: http.StatusBadRequest,
			expectedError:  session.ErrEmptyAction.Error(),
		},
		{
			name:           "bad dice formula",
			activate:       true,
			method:         http.MethodPost,
			body:           ActionRequest{Message: "/roll 0d6"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "no active card",
			method:         http.MethodPost,
			body:           ActionRequest{Message: "look around"},
			expectedStatus: http.StatusConflict,
			expectedError:  session.ErrNoCard.Error(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, tt.activate)
			rr := ts.do(t, tt.method, "/v1/actions", tt.body)
			assert.Equal(t, tt.expectedStatus, rr.Code)
			resp := decode[ErrorResponse](t, rr)
			if tt.expectedError != "" {
				assert.Equal(t, tt.expectedError, resp.Error)
			} else {
				assert.NotEmpty(t, resp.Error)
			}
			assert.Empty(t, ts.session.Turns())
		})
	}
}

func TestActionsHandler_Async(t *testing.T) {
	ts := newTestServer(t, true)
	release := make(chan struct{})
	ts.client.SendFunc = func(ctx context.Context, _ []chat.ChatMessage, _ chat.Settings, model string) (*chat.Completion, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &chat.Completion{Content: harborReply, FinishReason: "stop", Model: model}, nil
	}

	rr := ts.do(t, http.MethodPost, "/v1/actions", ActionRequest{Message: "look around"})
	require.Equal(t, http.StatusAccepted, rr.Code)
	resp := decode[ActionResponse](t, rr)
	assert.Equal(t, 0, resp.Turn)
	assert.Equal(t, "pending", resp.State)

	turns := decode[TurnsResponse](t, ts.do(t, http.MethodGet, "/v1/turns", nil))
	require.Len(t, turns.Turns, 1)
	assert.Equal(t, "look around", turns.Turns[0].User)
	assert.True(t, turns.Turns[0].Pending())

	close(release)
	assert.Eventually(t, func() bool {
		turns := ts.session.Turns()
		return len(turns) == 1 && !turns[0].Pending()
	}, 2*time.Second, 10*time.Millisecond)
}

func TestActionsHandler_WaitAppliesTurn(t *testing.T) {
	ts := newTestServer(t, true)

	resp := ts.playTurn(t, "look around")
	assert.Equal(t, "completed", resp.State)
	assert.Equal(t, "The fog lifts over the docks. Mara waves.", resp.Narrator)

	gs := decode[WorldStateResponse](t, ts.do(t, http.MethodGet, "/v1/worldstate", nil))
	assert.Equal(t, 55, gs.Player.Gold)
	assert.Equal(t, 100, gs.Player.HP)

	rr := ts.do(t, http.MethodGet, "/v1/worldstate/npcs.mara.mood", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "wary", decode[ValueResponse](t, rr).Value)

	sc := decode[SceneResponse](t, ts.do(t, http.MethodGet, "/v1/scene", nil))
	require.NotNil(t, sc.Scene.Location)
	assert.Equal(t, "@harbor", *sc.Scene.Location)
	assert.Contains(t, sc.Tags, "#mara")
	assert.Contains(t, sc.Tags, "@harbor")

	dg := decode[DigestResponse](t, ts.do(t, http.MethodGet, "/v1/digest?top=1", nil))
	var texts []string
	for _, l := range dg.Lines {
		texts = append(texts, l.Text)
	}
	assert.Contains(t, texts, "#mara grew wary of the player")
	assert.Len(t, dg.Top, 1)
}

func TestActionsHandler_TransportFailure(t *testing.T) {
	ts := newTestServer(t, true)
	ts.client.SetSendError(errors.New("upstream unavailable"))

	rr := ts.do(t, http.MethodPost, "/v1/actions?wait=true", ActionRequest{Message: "look around"})
	assert.Equal(t, http.StatusBadGateway, rr.Code)
	resp := decode[ActionResponse](t, rr)
	assert.Equal(t, "failed", resp.State)
	assert.Contains(t, resp.Error, "upstream unavailable")

	// the world is untouched
	rr = ts.do(t, http.MethodGet, "/v1/worldstate/npcs.mara.mood", nil)
	assert.Equal(t, "calm", decode[ValueResponse](t, rr).Value)
}

func TestWorldStateHandler_Edits(t *testing.T) {
	tests := []struct {
		name           string
		method         string
		target         string
		body           any
		expectedStatus int
		check          func(t *testing.T, ts *testServer)
	}{
		{
			name:           "set attribute",
			method:         http.MethodPut,
			target:         "/v1/worldstate/npcs.mara.mood",
			body:           "\"angry\"",
			expectedStatus: http.StatusOK,
			check: func(t *testing.T, ts *testServer) {
				v, _ := ts.session.WorldState().Lookup("npcs.mara.mood")
				assert.Equal(t, "angry", v)
			},
		},
		{
			name:           "set through a scalar",
			method:         http.MethodPut,
			target:         "/v1/worldstate/npcs.mara.mood.level",
			body:           "3",
			expectedStatus: http.StatusConflict,
		},
		{
			name:           "put without path",
			method:         http.MethodPut,
			target:         "/v1/worldstate",
			body:           "{}",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "read missing path",
			method:         http.MethodGet,
			target:         "/v1/worldstate/npcs.nobody",
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "delete attribute",
			method:         http.MethodDelete,
			target:         "/v1/worldstate/npcs.mara.mood",
			expectedStatus: http.StatusNoContent,
			check: func(t *testing.T, ts *testServer) {
				_, ok := ts.session.WorldState().Lookup("npcs.mara.mood")
				assert.False(t, ok)
			},
		},
		{
			name:           "delete category",
			method:         http.MethodDelete,
			target:         "/v1/worldstate/locations",
			expectedStatus: http.StatusNoContent,
			check: func(t *testing.T, ts *testServer) {
				_, ok := ts.session.WorldState().Category("locations")
				assert.False(t, ok)
			},
		},
		{
			name:           "delete entity by level",
			method:         http.MethodDelete,
			target:         "/v1/worldstate/npcs.mara?level=1",
			expectedStatus: http.StatusNoContent,
			check: func(t *testing.T, ts *testServer) {
				_, ok := ts.session.WorldState().Entity("npcs", "mara")
				assert.False(t, ok)
			},
		},
		{
			name:           "delete missing",
			method:         http.MethodDelete,
			target:         "/v1/worldstate/npcs.nobody.mood",
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "method not allowed",
			method:         http.MethodPatch,
			target:         "/v1/worldstate",
			expectedStatus: http.StatusMethodNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, true)
			rr := ts.do(t, tt.method, tt.target, tt.body)
			assert.Equal(t, tt.expectedStatus, rr.Code, rr.Body.String())
			if tt.check != nil {
				tt.check(t, ts)
			}
		})
	}
}

func TestWorldStateHandler_RenameMovesPins(t *testing.T) {
	ts := newTestServer(t, true)

	pins := decode[PinsResponse](t, ts.do(t, http.MethodPost, "/v1/pins", PinRequest{Prefix: "npcs.mara"}))
	assert.Equal(t, 2, pins.Toggled)
	assert.Equal(t, []string{"npcs.mara.mood", "npcs.mara.tag"}, pins.Pins)

	rr := ts.do(t, http.MethodPost, "/v1/worldstate/rename", RenameRequest{Category: "npcs", From: "mara", To: "marta"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	gs := decode[WorldStateResponse](t, rr)
	assert.Equal(t, []string{"npcs.marta.mood", "npcs.marta.tag"}, gs.Pins)
	assert.Contains(t, gs.WorldState["npcs"], "marta")

	// renaming onto an existing name is refused
	rr = ts.do(t, http.MethodPost, "/v1/worldstate/rename", RenameRequest{From: "npcs", To: "locations"})
	assert.Equal(t, http.StatusConflict, rr.Code)

	// toggling again unpins everything under the prefix
	pins = decode[PinsResponse](t, ts.do(t, http.MethodPost, "/v1/pins", PinRequest{Prefix: "npcs.marta"}))
	assert.Equal(t, 2, pins.Toggled)
	assert.Empty(t, pins.Pins)
}

func TestTagsHandler(t *testing.T) {
	ts := newTestServer(t, true)

	resp := decode[TagsResponse](t, ts.do(t, http.MethodGet, "/v1/tags/validate", nil))
	assert.True(t, resp.Valid)
	assert.Empty(t, resp.Issues)

	rr := ts.do(t, http.MethodPut, "/v1/worldstate/npcs.finn", `{"tag": "#mara"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	resp = decode[TagsResponse](t, ts.do(t, http.MethodGet, "/v1/tags/validate", nil))
	assert.False(t, resp.Valid)
	require.Len(t, resp.Issues, 1)
	assert.Equal(t, "npcs.mara", resp.Issues[0].Path)
}

func TestSnapshotAndSlots(t *testing.T) {
	ts := newTestServer(t, true, session.WithSlots(storage.NewMockSlotStore()))
	ts.playTurn(t, "look around")

	rr := ts.do(t, http.MethodPost, "/v1/slots", SaveSlotRequest{Name: "dock"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	slot := decode[storage.Slot](t, rr)
	assert.Equal(t, "dock", slot.Name)
	assert.Equal(t, "The Harbor", slot.Title)
	assert.Equal(t, 1, slot.Turns)

	list := decode[SlotsResponse](t, ts.do(t, http.MethodGet, "/v1/slots", nil))
	require.Len(t, list.Slots, 1)

	exported := ts.do(t, http.MethodGet, "/v1/snapshot", nil)
	require.Equal(t, http.StatusOK, exported.Code)

	// a reset followed by a restore brings the turn back
	require.NoError(t, ts.session.Reset())
	assert.Len(t, ts.session.Turns(), 0)

	rr = ts.do(t, http.MethodPost, "/v1/slots/dock", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Len(t, ts.session.Turns(), 1)

	require.NoError(t, ts.session.Reset())
	rr = ts.do(t, http.MethodPost, "/v1/snapshot", exported.Body.String())
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	v, _ := ts.session.WorldState().Lookup("npcs.mara.mood")
	assert.Equal(t, "wary", v)

	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, "/v1/slots/dock", nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodDelete, "/v1/slots/dock", nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPost, "/v1/slots/dock", nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/v1/snapshot", "{").Code)
}

func TestSlotsHandler_NoSlotStore(t *testing.T) {
	ts := newTestServer(t, true)
	rr := ts.do(t, http.MethodGet, "/v1/slots", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, session.ErrNoSlots.Error(), decode[ErrorResponse](t, rr).Error)
}

func TestCardsHandler(t *testing.T) {
	ts := newTestServer(t, false)

	list := decode[CardsResponse](t, ts.do(t, http.MethodGet, "/v1/cards", nil))
	require.Len(t, list.Cards, 2)
	assert.False(t, list.Cards[0].Active)

	rr := ts.do(t, http.MethodGet, "/v1/cards/harbor", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "The Harbor", decode[card.Card](t, rr).Title)

	rr = ts.do(t, http.MethodPost, "/v1/cards/harbor", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.True(t, decode[CardSummary](t, rr).Active)
	assert.Equal(t, "harbor", ts.session.Card().ID)

	list = decode[CardsResponse](t, ts.do(t, http.MethodGet, "/v1/cards", nil))
	assert.True(t, list.Cards[0].Active)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/v1/cards/untagged", nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPost, "/v1/cards/missing", nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, ts.do(t, http.MethodDelete, "/v1/cards/harbor", nil).Code)
}

func TestRoutes_LogsCarrySessionAndError(t *testing.T) {
	ts := newTestServer(t, true)
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	handler := Routes(ts.session, ts.store, nil, log)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/v1/worldstate/ghosts", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	out := buf.String()
	assert.Contains(t, out, `msg="Request rejected"`)
	assert.Contains(t, out, "error=")
	assert.Contains(t, out, "status=404")
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		assert.Equal(t, 1, strings.Count(line, "session_id=test-session"), line)
	}
}
