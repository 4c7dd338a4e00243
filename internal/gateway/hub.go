package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"posmon/internal/model"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// Hub pushes monitor events to connected WebSocket clients. It satisfies
// monitor.Broadcaster.
type Hub struct {
	log *slog.Logger

	mu      sync.RWMutex
	clients map[*Client]struct{}
	seq     int64
	replay  *ReplayBuffer

	// OnDrop is called when a slow client misses an event.
	OnDrop func()
}

// NewHub creates a Hub that keeps the last replaySize envelopes for
// reconnecting clients.
func NewHub(replaySize int, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		log:     logger.With(slog.String("component", "ws")),
		clients: make(map[*Client]struct{}),
		replay:  NewReplayBuffer(replaySize),
	}
}

// Emit encodes ev as {"seq":N,...event fields} and fans it out. Slow clients
// lose the message instead of blocking the caller.
func (h *Hub) Emit(_ context.Context, ev model.Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("encode event", slog.String("type", string(ev.Type)), slog.Any("error", err))
		return
	}

	h.mu.Lock()
	h.seq++
	seq := h.seq
	buf := make([]byte, 0, len(body)+24)
	buf = append(buf, `{"seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	if len(body) > 2 {
		buf = append(buf, ',')
	}
	buf = append(buf, body[1:]...)
	h.replay.Push(seq, buf)

	for c := range h.clients {
		select {
		case c.send <- buf:
		default:
			if h.OnDrop != nil {
				h.OnDrop()
			}
		}
	}
	h.mu.Unlock()
}

// ServeHTTP upgrades to WebSocket. A last_seq query parameter replays
// buffered events newer than it.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", slog.Any("error", err))
		return
	}

	var after int64 = -1
	if v := r.URL.Query().Get("last_seq"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			after = n
		}
	}

	c := &Client{conn: conn, send: make(chan []byte, 256), hub: h}

	// Register and replay under the lock so no event is missed or doubled.
	h.mu.Lock()
	if after >= 0 {
		for _, env := range h.replay.After(after) {
			select {
			case c.send <- env:
			default:
			}
		}
	}
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	h.log.Info("ws client connected", slog.Int("clients", count))
	go c.writePump()
	go c.readPump()
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Seq returns the seq of the last emitted event.
func (h *Hub) Seq() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seq
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	count := len(h.clients)
	h.mu.Unlock()
	h.log.Info("ws client disconnected", slog.Int("clients", count))
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
