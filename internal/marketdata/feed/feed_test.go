package feed

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"posmon/internal/model"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tradeServer is a Binance-style stream server that records connections per
// stream and lets tests push raw frames to every live connection.
type tradeServer struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[string][]*websocket.Conn
	dials  map[string]int
	active atomic.Int64
}

func newTradeServer(t *testing.T) *tradeServer {
	t.Helper()
	ts := &tradeServer{
		conns: make(map[string][]*websocket.Conn),
		dials: make(map[string]int),
	}
	ts.srv = httptest.NewServer(http.HandlerFunc(ts.handle))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *tradeServer) handle(w http.ResponseWriter, r *http.Request) {
	stream := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/ws/"), "@trade")
	conn, err := ts.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	ts.active.Add(1)
	ts.mu.Lock()
	ts.conns[stream] = append(ts.conns[stream], conn)
	ts.dials[stream]++
	ts.mu.Unlock()

	defer func() {
		ts.active.Add(-1)
		ts.mu.Lock()
		live := ts.conns[stream][:0]
		for _, c := range ts.conns[stream] {
			if c != conn {
				live = append(live, c)
			}
		}
		ts.conns[stream] = live
		ts.mu.Unlock()
		conn.Close()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (ts *tradeServer) template() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws/%s@trade"
}

func (ts *tradeServer) send(stream, msg string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for _, c := range ts.conns[stream] {
		c.WriteMessage(websocket.TextMessage, []byte(msg))
	}
}

func (ts *tradeServer) dropAll(stream string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for _, c := range ts.conns[stream] {
		c.Close()
	}
}

func (ts *tradeServer) dialCount(stream string) int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.dials[stream]
}

func (ts *tradeServer) liveCount(stream string) int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.conns[stream])
}

func newMux(t *testing.T, ts *tradeServer, delay time.Duration) *Multiplexer {
	t.Helper()
	m := New(Config{URLTemplate: ts.template(), ReconnectDelay: delay}, nil)
	t.Cleanup(m.Close)
	return m
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"BTC/USDT":  "btcusdt",
		"btc-usdt":  "btcusdt",
		"Eth_Usdt":  "ethusdt",
		"SOL:USDT":  "solusdt",
		" bnb usdt": "bnbusdt",
		"btcusdt":   "btcusdt",
	}
	for in, want := range cases {
		assert.Equal(t, want, Normalize(in), "Normalize(%q)", in)
	}
}

func TestParseTrade(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	price, ts, err := parseTrade([]byte(`{"e":"trade","s":"BTCUSDT","p":"64210.50","T":1718000000000}`), now)
	require.NoError(t, err)
	assert.Equal(t, 64210.50, price)
	assert.Equal(t, time.UnixMilli(1718000000000), ts)

	_, ts, err = parseTrade([]byte(`{"p":"1.5"}`), now)
	require.NoError(t, err)
	assert.Equal(t, now, ts)

	for _, raw := range []string{`not json`, `{}`, `{"p":"abc"}`, `{"p":"0"}`, `{"p":12}`,
		`{"p":"NaN"}`, `{"p":"Inf"}`, `{"p":"-Inf"}`, `{"p":"Infinity"}`} {
		_, _, err := parseTrade([]byte(raw), now)
		assert.Error(t, err, "raw %s", raw)
	}
}

func TestMultiplexer_SharesOneConnectionPerKey(t *testing.T) {
	ts := newTradeServer(t)
	m := newMux(t, ts, time.Hour)

	var got1, got2 atomic.Int64
	s1 := m.Subscribe("BTC/USDT", func(model.Tick) { got1.Add(1) })
	s2 := m.Subscribe("btcusdt", func(model.Tick) { got2.Add(1) })

	require.Eventually(t, func() bool { return m.Connections() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, ts.dialCount("btcusdt"))
	assert.Equal(t, 2, m.Subscribers("BTC-USDT"))

	ts.send("btcusdt", `{"p":"100.5"}`)
	require.Eventually(t, func() bool { return got1.Load() == 1 && got2.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	m.Unsubscribe(s1)
	assert.Equal(t, 1, m.Connections(), "connection must stay while a subscriber remains")

	m.Unsubscribe(s2)
	require.Eventually(t, func() bool { return m.Connections() == 0 && ts.liveCount("btcusdt") == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, m.Keys())

	// Double unsubscribe is a no-op.
	m.Unsubscribe(s2)
}

func TestMultiplexer_DeliversInOrderAndIsolatesPanics(t *testing.T) {
	ts := newTradeServer(t)
	m := newMux(t, ts, time.Hour)

	var mu sync.Mutex
	var order []string
	m.Subscribe("ETH/USDT", func(model.Tick) {
		mu.Lock()
		order = append(order, "first")
		mu.Unlock()
		panic("boom")
	})
	m.Subscribe("ETH/USDT", func(tk model.Tick) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "ethusdt", tk.Pair)
		assert.Equal(t, 2000.0, tk.Price)
		order = append(order, "second")
	})
	require.Eventually(t, func() bool { return m.Connections() == 1 }, 2*time.Second, 10*time.Millisecond)

	ts.send("ethusdt", `{"p":"2000"}`)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestMultiplexer_MalformedKeepsConnection(t *testing.T) {
	ts := newTradeServer(t)
	m := newMux(t, ts, time.Hour)

	var malformed, ticks atomic.Int64
	m.OnMalformed = func(string) { malformed.Add(1) }
	m.Subscribe("SOL/USDT", func(model.Tick) { ticks.Add(1) })
	require.Eventually(t, func() bool { return m.Connections() == 1 }, 2*time.Second, 10*time.Millisecond)

	ts.send("solusdt", `garbage`)
	ts.send("solusdt", `{"p":"nope"}`)
	ts.send("solusdt", `{"p":"NaN"}`)
	ts.send("solusdt", `{"p":"Infinity"}`)
	ts.send("solusdt", `{"p":"150.25"}`)

	require.Eventually(t, func() bool { return ticks.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(4), malformed.Load())
	assert.Equal(t, 1, ts.dialCount("solusdt"))
}

func TestMultiplexer_ReconnectsWhileSubscribed(t *testing.T) {
	ts := newTradeServer(t)
	m := newMux(t, ts, 50*time.Millisecond)

	var reconnects atomic.Int64
	m.OnReconnect = func(string) { reconnects.Add(1) }
	m.Subscribe("BTC/USDT", func(model.Tick) {})
	require.Eventually(t, func() bool { return ts.liveCount("btcusdt") == 1 }, 2*time.Second, 10*time.Millisecond)

	// Repeated drops must never produce overlapping connections.
	for i := 1; i <= 3; i++ {
		ts.dropAll("btcusdt")
		want := i + 1
		require.Eventually(t, func() bool {
			return ts.dialCount("btcusdt") == want && ts.liveCount("btcusdt") == 1
		}, 2*time.Second, 10*time.Millisecond)
	}
	assert.Equal(t, 4, ts.dialCount("btcusdt"))
	assert.Equal(t, int64(3), reconnects.Load())
}

func TestMultiplexer_NoReconnectAfterLastUnsubscribe(t *testing.T) {
	ts := newTradeServer(t)
	m := newMux(t, ts, 20*time.Millisecond)

	sub := m.Subscribe("BTC/USDT", func(model.Tick) {})
	require.Eventually(t, func() bool { return m.Connections() == 1 }, 2*time.Second, 10*time.Millisecond)

	m.Unsubscribe(sub)
	require.Eventually(t, func() bool { return ts.liveCount("btcusdt") == 0 }, 2*time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, ts.dialCount("btcusdt"))
}
