package orchestrator

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressHub_BroadcastWithNoClientsIsNoop(t *testing.T) {
	hub := NewProgressHub(zerolog.Nop())
	assert.NotPanics(t, func() {
		hub.Broadcast(TaskOutcome{Phase: PhaseBars, Component: "bars", ID: "BTC"})
	})
}

func TestProgressHub_ServeHTTP_StreamsOutcomeToClient(t *testing.T) {
	hub := NewProgressHub(zerolog.Nop())
	server := httptest.NewServer(hub)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/progress"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Give the server goroutine a moment to register the client before broadcasting.
	time.Sleep(20 * time.Millisecond)
	hub.Broadcast(TaskOutcome{Phase: PhaseEMA, Component: "ema", ID: "BTC", RowsWritten: 5})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"phase":"ema"`)
	assert.Contains(t, string(data), `"id":"BTC"`)
	assert.Contains(t, string(data), `"rows_written":5`)
}

func TestErrString_NilReturnsEmpty(t *testing.T) {
	assert.Equal(t, "", errString(nil))
}
