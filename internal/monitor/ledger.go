package monitor

import (
	"sort"

	"posmon/internal/marketdata/feed"
	"posmon/internal/model"
)

// watch is one feed subscription shared by every position on a key.
type watch struct {
	pair string
	sub  *feed.Subscription
	ids  map[string]struct{}
}

// ledger is the set of open positions and the key -> watch index. It is
// owned by the engine goroutine and never locked.
type ledger struct {
	positions map[string]*model.Position
	watches   map[string]*watch
}

func newLedger() *ledger {
	return &ledger{
		positions: make(map[string]*model.Position),
		watches:   make(map[string]*watch),
	}
}

func (l *ledger) get(id string) (*model.Position, bool) {
	p, ok := l.positions[id]
	return p, ok
}

// put stores p and attaches it to its key's watch. fresh reports that the
// key had no watch yet and the caller must subscribe.
func (l *ledger) put(p *model.Position) (w *watch, fresh bool) {
	l.positions[p.ID] = p
	key := feed.Normalize(p.Pair)
	w, ok := l.watches[key]
	if !ok {
		w = &watch{pair: p.Pair, ids: make(map[string]struct{})}
		l.watches[key] = w
	}
	w.ids[p.ID] = struct{}{}
	return w, !ok
}

// remove deletes id and detaches it from its watch. When that was the last
// position on the key, the watch is dropped and returned for unsubscribing.
func (l *ledger) remove(id string) (*model.Position, *watch) {
	p, ok := l.positions[id]
	if !ok {
		return nil, nil
	}
	delete(l.positions, id)
	return p, l.release(p.Pair, id)
}

func (l *ledger) release(pair, id string) *watch {
	key := feed.Normalize(pair)
	w, ok := l.watches[key]
	if !ok {
		return nil
	}
	delete(w.ids, id)
	if len(w.ids) > 0 {
		return nil
	}
	delete(l.watches, key)
	return w
}

// onKey returns the ids watching key in deterministic order.
func (l *ledger) onKey(key string) []string {
	w, ok := l.watches[key]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(w.ids))
	for id := range w.ids {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// snapshot copies every open position, ordered by open time then id.
func (l *ledger) snapshot() []model.Position {
	out := make([]model.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenTime.Equal(out[j].OpenTime) {
			return out[i].OpenTime.Before(out[j].OpenTime)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (l *ledger) len() int { return len(l.positions) }
