package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"posmon/internal/model"

	"github.com/gorilla/websocket"
)

var errNoPrice = errors.New("feed: trade message has no price")

// trade is the subset of the upstream trade message we read.
type trade struct {
	Price     string `json:"p"`
	TradeTime int64  `json:"T"`
}

// parseTrade extracts price and trade time. A missing T falls back to now.
func parseTrade(raw []byte, now time.Time) (float64, time.Time, error) {
	var tr trade
	if err := json.Unmarshal(raw, &tr); err != nil {
		return 0, time.Time{}, fmt.Errorf("feed: decode trade: %w", err)
	}
	if tr.Price == "" {
		return 0, time.Time{}, errNoPrice
	}
	price, err := strconv.ParseFloat(tr.Price, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("feed: parse price %q: %w", tr.Price, err)
	}
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return 0, time.Time{}, fmt.Errorf("feed: non-finite price %q", tr.Price)
	}
	if price <= 0 {
		return 0, time.Time{}, fmt.Errorf("feed: non-positive price %q", tr.Price)
	}
	ts := now
	if tr.TradeTime > 0 {
		ts = time.UnixMilli(tr.TradeTime)
	}
	return price, ts, nil
}

// run owns the key's connection for its whole life: dial, read, and redial
// after a fixed delay until ctx is cancelled.
func (m *Multiplexer) run(ctx context.Context, s *stream) {
	defer m.wg.Done()
	log := m.log.With(slog.String("key", s.key))

	for {
		err := m.runOnce(ctx, s)
		if ctx.Err() != nil {
			return
		}
		if m.OnDisconnect != nil {
			m.OnDisconnect(s.key, err)
		}
		log.Warn("upstream disconnected, reconnecting",
			slog.Any("error", err),
			slog.Duration("delay", m.cfg.ReconnectDelay))

		select {
		case <-ctx.Done():
			return
		case <-time.After(m.cfg.ReconnectDelay):
		}
		if m.OnReconnect != nil {
			m.OnReconnect(s.key)
		}
	}
}

// runOnce makes a single connection attempt and reads until disconnect or
// ctx cancel.
func (m *Multiplexer) runOnce(ctx context.Context, s *stream) error {
	url := fmt.Sprintf(m.cfg.URLTemplate, s.key)
	dialer := websocket.Dialer{HandshakeTimeout: m.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("feed: dial %s: %w", url, err)
	}
	defer conn.Close()

	m.open.Add(1)
	defer m.open.Add(-1)
	if m.OnConnect != nil {
		m.OnConnect(s.key)
	}
	m.log.Info("upstream connected", slog.String("key", s.key), slog.String("url", url))

	// Closes the connection when ctx is cancelled so ReadMessage unblocks.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "unsubscribed"),
				time.Now().Add(time.Second))
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		price, ts, err := parseTrade(raw, time.Now())
		if err != nil {
			m.log.Warn("dropping malformed trade",
				slog.String("key", s.key),
				slog.Any("error", err))
			if m.OnMalformed != nil {
				m.OnMalformed(s.key)
			}
			continue
		}
		m.dispatch(s, model.Tick{Pair: s.key, Price: price, TS: ts})
	}
}
