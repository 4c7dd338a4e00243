package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"posmon/internal/history"
	"posmon/internal/marketdata/feed"
	"posmon/internal/model"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeSub struct {
	key string
	fn  feed.TickFunc
}

// fakeFeed counts subscriptions per key the way the multiplexer would open
// upstream connections.
type fakeFeed struct {
	mu    sync.Mutex
	subs  map[*feed.Subscription]fakeSub
	opens map[string]int
	drops map[string]int
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{
		subs:  make(map[*feed.Subscription]fakeSub),
		opens: make(map[string]int),
		drops: make(map[string]int),
	}
}

func (f *fakeFeed) Subscribe(symbol string, fn feed.TickFunc) *feed.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := feed.Normalize(symbol)
	if f.active(key) == 0 {
		f.opens[key]++
	}
	sub := &feed.Subscription{}
	f.subs[sub] = fakeSub{key: key, fn: fn}
	return sub
}

func (f *fakeFeed) Unsubscribe(sub *feed.Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subs[sub]
	if !ok {
		return
	}
	delete(f.subs, sub)
	if f.active(s.key) == 0 {
		f.drops[s.key]++
	}
}

func (f *fakeFeed) active(key string) int {
	n := 0
	for _, s := range f.subs {
		if s.key == key {
			n++
		}
	}
	return n
}

func (f *fakeFeed) Active(symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active(feed.Normalize(symbol))
}

func (f *fakeFeed) Opens(symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens[feed.Normalize(symbol)]
}

func (f *fakeFeed) Drops(symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.drops[feed.Normalize(symbol)]
}

func (f *fakeFeed) Total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Push delivers a tick to every subscriber on symbol, as a reader goroutine would.
func (f *fakeFeed) Push(symbol string, price float64) {
	key := feed.Normalize(symbol)
	f.mu.Lock()
	var fns []feed.TickFunc
	for _, s := range f.subs {
		if s.key == key {
			fns = append(fns, s.fn)
		}
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(model.Tick{Pair: key, Price: price, TS: time.Now()})
	}
}

type recorder struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *recorder) Emit(_ context.Context, ev model.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) Types() []model.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func (r *recorder) OfType(typ model.EventType) []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Event
	for _, ev := range r.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

type notice struct {
	kind    string
	id      string
	price   float64
	amount  float64
	percent float64
}

type sinkRecorder struct {
	mu      sync.Mutex
	notices []notice
}

func (s *sinkRecorder) add(n notice) {
	s.mu.Lock()
	s.notices = append(s.notices, n)
	s.mu.Unlock()
}

func (s *sinkRecorder) NotifyPositionOpen(p model.Position) {
	s.add(notice{kind: "open", id: p.ID})
}

func (s *sinkRecorder) NotifyTP(p model.Position, profit, pct float64) {
	s.add(notice{kind: "tp", id: p.ID, price: p.CurrentPrice, amount: profit, percent: pct})
}

func (s *sinkRecorder) NotifySL(p model.Position, loss, pct float64) {
	s.add(notice{kind: "sl", id: p.ID, price: p.CurrentPrice, amount: loss, percent: pct})
}

func (s *sinkRecorder) Notices() []notice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notice(nil), s.notices...)
}

func (s *sinkRecorder) Kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.notices))
	for i, n := range s.notices {
		out[i] = n.kind
	}
	return out
}

type harness struct {
	engine  *Engine
	feed    *fakeFeed
	history *history.Store
	events  *recorder
	sink    *sinkRecorder
	clock   *fakeClock
	cancel  context.CancelFunc
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		feed:    newFakeFeed(),
		history: history.Open(nil, 0, nil),
		events:  &recorder{},
		sink:    &sinkRecorder{},
		clock:   &fakeClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)},
	}
	h.engine = New(Options{
		Feed:        h.feed,
		History:     h.history,
		Broadcaster: h.events,
		Sink:        h.sink,
		Now:         h.clock.Now,
	})
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go h.engine.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.engine.Done()
	})
	return h
}

func (h *harness) add(t *testing.T, p model.Position) {
	t.Helper()
	require.NoError(t, h.engine.AddPosition(context.Background(), p))
}

func (h *harness) tick(t *testing.T, pair string, price float64) {
	t.Helper()
	require.NoError(t, h.engine.OnTick(context.Background(), pair, price))
}

func (h *harness) ids(t *testing.T) []string {
	t.Helper()
	ps, err := h.engine.Positions(context.Background())
	require.NoError(t, err)
	ids := make([]string, len(ps))
	for i, p := range ps {
		ids[i] = p.ID
	}
	return ids
}

func btc(id string) model.Position {
	return model.Position{ID: id, Pair: "BTC/USDT", Entry: 100, TP: 110, SL: 90, Amount: 1000}
}
