package orchestrator

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ProgressHub fans TaskOutcomes out to every connected /progress websocket
// client. A run proceeds identically with zero subscribers; the hub only
// broadcasts best-effort and never blocks the pipeline on a slow client.
type ProgressHub struct {
	mu       sync.Mutex
	clients  map[*websocket.Conn]chan TaskOutcome
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// NewProgressHub creates an empty hub. Origin checking is left permissive
// since this is an operator-local monitoring surface, not a public API.
func NewProgressHub(log zerolog.Logger) *ProgressHub {
	return &ProgressHub{
		clients:  make(map[*websocket.Conn]chan TaskOutcome),
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		log:      log.With().Str("component", "progress").Logger(),
	}
}

// ServeHTTP upgrades the request to a websocket and streams TaskOutcomes
// as Broadcast delivers them, until the client disconnects.
func (h *ProgressHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	ch := make(chan TaskOutcome, 32)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		close(ch)
		conn.Close()
	}()

	for outcome := range ch {
		data, err := json.Marshal(progressMessage{
			Phase:        string(outcome.Phase),
			Component:    outcome.Component,
			ID:           outcome.ID,
			RowsWritten:  outcome.RowsWritten,
			RowsRejected: outcome.RowsRejected,
			Error:        errString(outcome.Err),
		})
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

// progressMessage is the wire shape for one TaskOutcome; Err doesn't
// marshal meaningfully on its own so it's flattened to a string.
type progressMessage struct {
	Phase        string `json:"phase"`
	Component    string `json:"component"`
	ID           string `json:"id"`
	RowsWritten  int    `json:"rows_written"`
	RowsRejected int    `json:"rows_rejected"`
	Error        string `json:"error,omitempty"`
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Broadcast delivers outcome to every currently connected client,
// dropping it for any client whose buffer is full rather than blocking.
func (h *ProgressHub) Broadcast(outcome TaskOutcome) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.clients {
		select {
		case ch <- outcome:
		default:
			h.log.Warn().Msg("progress client too slow, dropping update")
			_ = conn
		}
	}
}
