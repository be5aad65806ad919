package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/storyforge/pkg/session"
)

func TestEventsHandler_StreamsTurnEvents(t *testing.T) {
	ts := newTestServer(t, true)
	srv := httptest.NewServer(ts.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	// the handler subscribes right after the handshake completes
	time.Sleep(100 * time.Millisecond)

	ts.playTurn(t, "look around")

	seen := map[session.EventType]bool{}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for !seen[session.EventTurnCompleted] {
		var e session.Event
		require.NoError(t, conn.ReadJSON(&e))
		assert.Equal(t, "test-session", e.SessionID)
		seen[e.Type] = true
	}
	assert.True(t, seen[session.EventTurnPending])
}

func TestEventsHandler_RejectsPlainRequests(t *testing.T) {
	ts := newTestServer(t, true)

	rr := ts.do(t, http.MethodPost, "/v1/events", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	// a GET without upgrade headers fails the handshake
	rr = ts.do(t, http.MethodGet, "/v1/events", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
