// cmd/tickserver: local trade-stream simulator.
// Serves Binance-style trade streams so posmon can run without an exchange.
//
// Connect to ws://localhost:9001/ws/<key>@trade, e.g. /ws/btcusdt@trade.
// Each message looks like:
//
//	{"e":"trade","s":"BTCUSDT","p":"65012.40","q":"0.013","T":1700000000000}
//
// Config (env vars):
//
//	TICK_SERVER_ADDR  listen address (default ":9001")
//	TICK_PAIRS        comma-separated KEY:START_PRICE (default "btcusdt:65000,ethusdt:3200")
//	TICK_INTERVAL_MS  broadcast interval in milliseconds (default "250")
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"posmon/internal/marketdata/feed"
)

type tradeMsg struct {
	Event  string `json:"e"`
	Symbol string `json:"s"`
	Price  string `json:"p"`
	Qty    string `json:"q"`
	Time   int64  `json:"T"`
}

// ─── Hub ──────────────────────────────────────────────────────────────────────

// hub tracks clients per stream key and the simulated price of every key.
type hub struct {
	mu      sync.RWMutex
	prices  map[string]float64
	clients map[string]map[*websocket.Conn]chan []byte
}

func newHub(prices map[string]float64) *hub {
	return &hub{
		prices:  prices,
		clients: make(map[string]map[*websocket.Conn]chan []byte),
	}
}

func (h *hub) register(key string, conn *websocket.Conn) chan []byte {
	ch := make(chan []byte, 256)
	h.mu.Lock()
	if _, ok := h.prices[key]; !ok {
		h.prices[key] = 100
	}
	if h.clients[key] == nil {
		h.clients[key] = make(map[*websocket.Conn]chan []byte)
	}
	h.clients[key][conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *hub) unregister(key string, conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[key][conn]; ok {
		close(ch)
		delete(h.clients[key], conn)
	}
	h.mu.Unlock()
}

// step walks every price once and sends a trade to each subscriber.
func (h *hub) step(rng *rand.Rand) {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := time.Now().UnixMilli()
	for key, price := range h.prices {
		price = walkPrice(rng, price)
		h.prices[key] = price
		if len(h.clients[key]) == 0 {
			continue
		}
		b, err := json.Marshal(tradeMsg{
			Event:  "trade",
			Symbol: strings.ToUpper(key),
			Price:  strconv.FormatFloat(price, 'f', 2, 64),
			Qty:    strconv.FormatFloat(rng.Float64(), 'f', 3, 64),
			Time:   now,
		})
		if err != nil {
			continue
		}
		for _, ch := range h.clients[key] {
			select {
			case ch <- b:
			default: // slow client, drop trade
			}
		}
	}
}

// ─── WebSocket handler ────────────────────────────────────────────────────────

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func wsHandler(h *hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stream := r.PathValue("stream")
		key := feed.Normalize(strings.TrimSuffix(stream, "@trade"))
		if key == "" || !strings.HasSuffix(stream, "@trade") {
			http.Error(w, "want /ws/<symbol>@trade", http.StatusNotFound)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[tickserver] upgrade error: %v", err)
			return
		}
		log.Printf("[tickserver] client connected: %s stream=%s", r.RemoteAddr, key)

		ch := h.register(key, conn)
		defer func() {
			h.unregister(key, conn)
			conn.Close()
			log.Printf("[tickserver] client disconnected: %s stream=%s", r.RemoteAddr, key)
		}()

		for msg := range ch {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// ─── Trade generator ─────────────────────────────────────────────────────────

// walkPrice applies a random walk of up to ±0.1%.
func walkPrice(rng *rand.Rand, price float64) float64 {
	pct := (rng.Float64()*0.2 - 0.1) / 100.0
	next := price * (1 + pct)
	if next < 0.01 {
		next = 0.01
	}
	return next
}

func runGenerator(h *hub, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for range ticker.C {
		h.step(rng)
	}
}

// ─── main ─────────────────────────────────────────────────────────────────────

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[tickserver] starting trade-stream simulator...")

	addr := envOrDefault("TICK_SERVER_ADDR", ":9001")
	prices := parsePairs(envOrDefault("TICK_PAIRS", "btcusdt:65000,ethusdt:3200"))
	intervalMs := envIntOrDefault("TICK_INTERVAL_MS", 250)
	if intervalMs <= 0 {
		log.Fatalf("[tickserver] TICK_INTERVAL_MS must be positive")
	}
	log.Printf("[tickserver] pairs: %v", prices)
	log.Printf("[tickserver] broadcast interval: %dms", intervalMs)

	h := newHub(prices)
	go runGenerator(h, time.Duration(intervalMs)*time.Millisecond)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/{stream}", wsHandler(h))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"tickserver"}`)
	})

	log.Printf("[tickserver] listening on %s (ws://localhost%s/ws/btcusdt@trade)", addr, addr)
	log.Printf("[tickserver] point posmon at it with POSMON_FEED_URL_TEMPLATE=ws://localhost%s/ws/%%s@trade", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("[tickserver] server error: %v", err)
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func parsePairs(s string) map[string]float64 {
	result := make(map[string]float64)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		seg := strings.SplitN(part, ":", 2)
		key := feed.Normalize(seg[0])
		if key == "" {
			log.Printf("[tickserver] skipping invalid pair entry: %q", part)
			continue
		}
		price := 100.0
		if len(seg) == 2 {
			p, err := strconv.ParseFloat(strings.TrimSpace(seg[1]), 64)
			if err != nil || p <= 0 {
				log.Printf("[tickserver] bad start price in %q, using 100", part)
			} else {
				price = p
			}
		}
		result[key] = price
	}
	return result
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
