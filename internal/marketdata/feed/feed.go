// Package feed multiplexes per-instrument upstream trade streams across any
// number of in-process subscribers.
//
// Each canonical key owns exactly one goroutine that dials, reads and
// reconnects. The goroutine lives while the key has at least one subscriber;
// removing the last subscriber cancels it and discards the key.
//
// The expected wire format is a Binance-style trade message:
//
//	{"e":"trade","s":"BTCUSDT","p":"64210.50","q":"0.01","T":1718000000000}
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"posmon/internal/model"
)

// DefaultURLTemplate is the public Binance trade stream.
const DefaultURLTemplate = "wss://stream.binance.com:9443/ws/%s@trade"

// TickFunc receives every trade for the key it subscribed to.
type TickFunc func(model.Tick)

// Config holds upstream connection settings.
type Config struct {
	// URLTemplate has a single %s verb for the canonical key.
	URLTemplate string

	// ReconnectDelay is the fixed wait before redialling. Defaults to 5s.
	ReconnectDelay time.Duration

	// HandshakeTimeout bounds each dial. Defaults to 10s.
	HandshakeTimeout time.Duration
}

func (c *Config) defaults() {
	if c.URLTemplate == "" {
		c.URLTemplate = DefaultURLTemplate
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	key string
	fn  TickFunc
}

// Key returns the canonical key the subscription is attached to.
func (s *Subscription) Key() string { return s.key }

type stream struct {
	key    string
	subs   []*Subscription
	cancel context.CancelFunc
}

// Multiplexer owns one upstream connection per subscribed key.
type Multiplexer struct {
	cfg Config
	log *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	streams map[string]*stream
	closed  bool

	open atomic.Int64

	// Optional hooks, set before the first Subscribe.
	OnConnect    func(key string)
	OnDisconnect func(key string, err error)
	OnReconnect  func(key string)
	OnMalformed  func(key string)
}

// New creates a Multiplexer. A nil logger falls back to slog.Default.
func New(cfg Config, logger *slog.Logger) *Multiplexer {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Multiplexer{
		cfg:     cfg,
		log:     logger.With(slog.String("component", "feed")),
		ctx:     ctx,
		cancel:  cancel,
		streams: make(map[string]*stream),
	}
}

// Normalize maps a symbol such as "BTC/USDT" or "btc-usdt" to the canonical
// feed key "btcusdt".
func Normalize(symbol string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '-', '_', ':', ' ':
			return -1
		}
		return r
	}, strings.ToLower(symbol))
}

// Subscribe attaches fn to symbol's stream. The first subscriber for a key
// starts its upstream connection.
func (m *Multiplexer) Subscribe(symbol string, fn TickFunc) *Subscription {
	key := Normalize(symbol)
	sub := &Subscription{key: key, fn: fn}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return sub
	}

	s, ok := m.streams[key]
	if !ok {
		ctx, cancel := context.WithCancel(m.ctx)
		s = &stream{key: key, cancel: cancel}
		m.streams[key] = s
		m.wg.Add(1)
		go m.run(ctx, s)
		m.log.Info("stream opened", slog.String("key", key))
	}
	s.subs = append(s.subs, sub)
	return sub
}

// Unsubscribe detaches sub. Removing the last subscriber of a key closes its
// upstream connection. Unknown or already removed handles are ignored.
func (m *Multiplexer) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.streams[sub.key]
	if !ok {
		return
	}
	for i, existing := range s.subs {
		if existing == sub {
			s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
			break
		}
	}
	if len(s.subs) == 0 {
		delete(m.streams, sub.key)
		s.cancel()
		m.log.Info("stream closed", slog.String("key", sub.key))
	}
}

// Keys returns the currently subscribed canonical keys.
func (m *Multiplexer) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.streams))
	for k := range m.streams {
		keys = append(keys, k)
	}
	return keys
}

// Subscribers returns the number of subscribers on symbol's key.
func (m *Multiplexer) Subscribers(symbol string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.streams[Normalize(symbol)]; ok {
		return len(s.subs)
	}
	return 0
}

// Connections returns the number of upstream connections currently open.
func (m *Multiplexer) Connections() int {
	return int(m.open.Load())
}

// Close tears down every upstream connection and waits for their goroutines.
func (m *Multiplexer) Close() {
	m.mu.Lock()
	m.closed = true
	m.streams = make(map[string]*stream)
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
}

// dispatch delivers t to a snapshot of the stream's subscribers, in order.
// A subscriber removed after the snapshot may still see this tick.
func (m *Multiplexer) dispatch(s *stream, t model.Tick) {
	m.mu.Lock()
	if m.streams[s.key] != s {
		m.mu.Unlock()
		return
	}
	subs := make([]*Subscription, len(s.subs))
	copy(subs, s.subs)
	m.mu.Unlock()

	for _, sub := range subs {
		m.deliver(sub, t)
	}
}

func (m *Multiplexer) deliver(sub *Subscription, t model.Tick) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("subscriber panicked",
				slog.String("key", sub.key),
				slog.String("panic", fmt.Sprint(r)))
		}
	}()
	sub.fn(t)
}
