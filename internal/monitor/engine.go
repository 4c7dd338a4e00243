// Package monitor owns the open-position ledger. A single goroutine (Run)
// applies every mutation: API calls are submitted as closures and feed ticks
// arrive on a channel, so closes are exactly-once without locks.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"posmon/internal/marketdata/feed"
	"posmon/internal/model"

	"github.com/google/uuid"
)

// ErrStopped is returned by calls made after Run has returned.
var ErrStopped = errors.New("monitor: engine stopped")

// ErrInvalidPrice is returned for prices that are not finite and positive.
var ErrInvalidPrice = errors.New("monitor: invalid price")

// DefaultSuppressWindow is how long a closed id or pair is kept out of sync.
const DefaultSuppressWindow = 5 * time.Minute

// Hooks are optional observers called on the engine goroutine.
type Hooks struct {
	OnTick       func(pair string)
	OnClose      func(reason model.CloseReason)
	OnSuppressed func(id string)
	OnOpen       func(open int)
}

// Options configures an Engine. Feed and History are required.
type Options struct {
	Feed        Feed
	History     History
	Broadcaster Broadcaster
	Sink        NotificationSink
	Logger      *slog.Logger

	// Now defaults to time.Now.
	Now func() time.Time

	// SuppressWindow defaults to DefaultSuppressWindow.
	SuppressWindow time.Duration

	// TickBuffer is the capacity of the inbound tick channel. Defaults to 1024.
	TickBuffer int

	Hooks Hooks
}

type tickMsg struct {
	pair  string
	price float64
}

// Engine is the position monitor.
type Engine struct {
	feed    Feed
	history History
	bc      Broadcaster
	sink    NotificationSink
	log     *slog.Logger
	now     func() time.Time
	window  time.Duration
	hooks   Hooks

	ledger     *ledger
	suppressed []closure

	ctx   context.Context
	calls chan func()
	ticks chan tickMsg
	done  chan struct{}
}

// New builds an Engine. Nothing runs until Run is called.
func New(opts Options) *Engine {
	if opts.Broadcaster == nil {
		opts.Broadcaster = nopBroadcaster{}
	}
	if opts.Sink == nil {
		opts.Sink = nopSink{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.SuppressWindow <= 0 {
		opts.SuppressWindow = DefaultSuppressWindow
	}
	if opts.TickBuffer <= 0 {
		opts.TickBuffer = 1024
	}
	return &Engine{
		feed:    opts.Feed,
		history: opts.History,
		bc:      opts.Broadcaster,
		sink:    opts.Sink,
		log:     opts.Logger.With(slog.String("component", "monitor")),
		now:     opts.Now,
		window:  opts.SuppressWindow,
		hooks:   opts.Hooks,
		ledger:  newLedger(),
		ctx:     context.Background(),
		calls:   make(chan func()),
		ticks:   make(chan tickMsg, opts.TickBuffer),
		done:    make(chan struct{}),
	}
}

// Run processes calls and ticks until ctx is cancelled, then releases every
// feed subscription. Run must be called exactly once.
func (e *Engine) Run(ctx context.Context) {
	e.ctx = ctx
	defer close(e.done)
	defer e.releaseAll()

	e.log.Info("engine started", slog.Duration("suppress_window", e.window))
	for {
		select {
		case <-ctx.Done():
			e.log.Info("engine stopping", slog.Int("open", e.ledger.len()))
			return
		case fn := <-e.calls:
			fn()
		case t := <-e.ticks:
			e.onTick(t.pair, t.price)
		}
	}
}

// Done is closed once Run has returned.
func (e *Engine) Done() <-chan struct{} { return e.done }

// do runs fn on the engine goroutine and waits for it.
func (e *Engine) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case e.calls <- func() { fn(); close(finished) }:
	case <-e.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

// AddPosition inserts p, replacing any open position with the same id.
// Missing direction, current price and timestamps are filled in.
func (e *Engine) AddPosition(ctx context.Context, p model.Position) error {
	return e.do(ctx, func() { e.addPosition(p) })
}

// RemovePosition drops id without recording a close. It reports whether id
// was open.
func (e *Engine) RemovePosition(ctx context.Context, id string) (bool, error) {
	var removed bool
	err := e.do(ctx, func() { removed = e.removePosition(id) })
	return removed, err
}

// ClosePosition closes id at exit as if a threshold had fired. A second call
// for the same id is a no-op and reports false.
func (e *Engine) ClosePosition(ctx context.Context, id string, reason model.CloseReason, exit float64) (bool, error) {
	if !validPrice(exit) {
		return false, ErrInvalidPrice
	}
	var closed bool
	err := e.do(ctx, func() { closed = e.closePosition(id, reason, exit) })
	return closed, err
}

// OnTick applies a price for pair synchronously. Feed ticks take the same
// path through the tick channel.
func (e *Engine) OnTick(ctx context.Context, pair string, price float64) error {
	if !validPrice(price) {
		return ErrInvalidPrice
	}
	return e.do(ctx, func() { e.onTick(pair, price) })
}

// Positions returns a snapshot of open positions ordered by open time.
func (e *Engine) Positions(ctx context.Context) ([]model.Position, error) {
	var out []model.Position
	err := e.do(ctx, func() { out = e.ledger.snapshot() })
	return out, err
}

// ClosedHistory returns closed records, filtered to those after since when
// since is non-zero.
func (e *Engine) ClosedHistory(since time.Time) []model.ClosedRecord {
	return e.history.Query(since)
}

// ClearOldHistory prunes records closed at or before olderThan.
func (e *Engine) ClearOldHistory(olderThan time.Time) int {
	n := e.history.Prune(olderThan)
	e.log.Info("history pruned", slog.Time("older_than", olderThan), slog.Int("removed", n))
	return n
}

func (e *Engine) addPosition(p model.Position) {
	now := e.now()
	if p.Direction != model.Short {
		p.Direction = model.Long
	}
	if p.CurrentPrice == 0 {
		p.CurrentPrice = p.Entry
	}
	if p.OpenTime.IsZero() {
		p.OpenTime = now
	}
	if p.LastCheck.IsZero() {
		p.LastCheck = p.OpenTime
	}

	if old, ok := e.ledger.get(p.ID); ok && feed.Normalize(old.Pair) != feed.Normalize(p.Pair) {
		e.unwatch(e.ledger.release(old.Pair, old.ID))
	}

	pos := &p
	if w, fresh := e.ledger.put(pos); fresh {
		w.sub = e.feed.Subscribe(w.pair, e.tickFunc(w.pair))
	}

	e.log.Info("position added",
		slog.String("id", p.ID),
		slog.String("pair", p.Pair),
		slog.String("direction", string(p.Direction)),
		slog.Float64("entry", p.Entry),
		slog.Float64("tp", p.TP),
		slog.Float64("sl", p.SL))

	e.emit(model.EventPositionAdded, p)
	e.sink.NotifyPositionOpen(p)
	e.openChanged()
}

func (e *Engine) removePosition(id string) bool {
	p, w := e.ledger.remove(id)
	if p == nil {
		return false
	}
	e.unwatch(w)
	e.log.Info("position removed", slog.String("id", id), slog.String("pair", p.Pair))
	e.openChanged()
	return true
}

// closePosition is the only path that records a close.
func (e *Engine) closePosition(id string, reason model.CloseReason, exit float64) bool {
	p, ok := e.ledger.get(id)
	if !ok {
		return false
	}

	now := e.now()
	p.CurrentPrice = exit
	p.LastCheck = now
	rec := p.Close(exit, reason, now)
	e.history.Append(rec)

	snap := *p
	if reason == model.ReasonSL {
		e.sink.NotifySL(snap, rec.Profit, rec.ProfitPercent)
	} else {
		e.sink.NotifyTP(snap, rec.Profit, rec.ProfitPercent)
	}

	_, w := e.ledger.remove(id)
	e.unwatch(w)
	e.suppress(id, p.Pair, now)

	e.log.Info("position closed",
		slog.String("id", id),
		slog.String("pair", p.Pair),
		slog.String("reason", string(reason)),
		slog.Float64("exit", exit),
		slog.Float64("profit", rec.Profit),
		slog.Float64("profit_percent", rec.ProfitPercent))

	e.emit(model.EventPositionClosed, rec)
	if e.hooks.OnClose != nil {
		e.hooks.OnClose(reason)
	}
	e.openChanged()
	return true
}

func (e *Engine) onTick(pair string, price float64) {
	if !validPrice(price) {
		e.log.Warn("tick dropped", slog.String("pair", pair), slog.Float64("price", price))
		return
	}
	now := e.now()
	for _, id := range e.ledger.onKey(feed.Normalize(pair)) {
		p, ok := e.ledger.get(id)
		if !ok {
			continue
		}
		p.CurrentPrice = price
		p.LastCheck = now
		if d := Evaluate(p, price); d != None {
			e.closePosition(id, d.Reason(), price)
		}
	}
	if e.hooks.OnTick != nil {
		e.hooks.OnTick(pair)
	}
	e.emit(model.EventPriceUpdate, model.PriceUpdate{Pair: pair, Price: price})
}

// tickFunc is the feed callback for pair. It runs on the feed's reader
// goroutine and only hands the tick to the engine.
func (e *Engine) tickFunc(pair string) feed.TickFunc {
	return func(t model.Tick) {
		select {
		case e.ticks <- tickMsg{pair: pair, price: t.Price}:
		case <-e.done:
		}
	}
}

func (e *Engine) unwatch(w *watch) {
	if w == nil || w.sub == nil {
		return
	}
	e.feed.Unsubscribe(w.sub)
	e.log.Debug("feed released", slog.String("pair", w.pair))
}

func (e *Engine) releaseAll() {
	for key, w := range e.ledger.watches {
		e.unwatch(w)
		delete(e.ledger.watches, key)
	}
}

func (e *Engine) emit(typ model.EventType, data any) {
	e.bc.Emit(e.ctx, model.Event{
		ID:   uuid.NewString(),
		Type: typ,
		Data: data,
		TS:   e.now(),
	})
}

func (e *Engine) openChanged() {
	if e.hooks.OnOpen != nil {
		e.hooks.OnOpen(e.ledger.len())
	}
}

// validPrice rejects zero, negative, NaN and infinite prices.
func validPrice(v float64) bool {
	return v > 0 && !math.IsInf(v, 1)
}
