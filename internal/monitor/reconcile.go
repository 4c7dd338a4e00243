package monitor

import (
	"context"
	"log/slog"
	"time"

	"posmon/internal/marketdata/feed"
	"posmon/internal/model"
)

// closure remembers a recent threshold close so a stale client snapshot
// cannot reopen it.
type closure struct {
	id  string
	key string
	at  time.Time
}

// SyncResult lists the ids touched by SyncPositions.
type SyncResult struct {
	Removed    []string `json:"removed"`
	Added      []string `json:"added"`
	Suppressed []string `json:"suppressed"`
	Unchanged  []string `json:"unchanged"`
}

// SyncPositions makes the ledger match external, the client's view of what
// is open. Ledger ids missing from external are removed without a record.
// External positions already open are left as they are. The rest are added
// unless their id or pair closed within the suppression window, in which
// case POSITION_ALREADY_CLOSED is emitted instead.
func (e *Engine) SyncPositions(ctx context.Context, external []model.Position) (SyncResult, error) {
	var res SyncResult
	err := e.do(ctx, func() { res = e.sync(external) })
	return res, err
}

func (e *Engine) sync(external []model.Position) SyncResult {
	var res SyncResult

	want := make(map[string]struct{}, len(external))
	for _, p := range external {
		want[p.ID] = struct{}{}
	}
	for _, p := range e.ledger.snapshot() {
		if _, ok := want[p.ID]; !ok && e.removePosition(p.ID) {
			res.Removed = append(res.Removed, p.ID)
		}
	}

	e.pruneSuppressed(e.now())
	for _, p := range external {
		if _, ok := e.ledger.get(p.ID); ok {
			res.Unchanged = append(res.Unchanged, p.ID)
			continue
		}
		if e.isSuppressed(p) {
			res.Suppressed = append(res.Suppressed, p.ID)
			e.log.Info("sync skipped recently closed position",
				slog.String("id", p.ID), slog.String("pair", p.Pair))
			e.emit(model.EventPositionAlreadyClosed, model.ClosedNotice{ID: p.ID, Pair: p.Pair})
			if e.hooks.OnSuppressed != nil {
				e.hooks.OnSuppressed(p.ID)
			}
			continue
		}
		e.addPosition(p)
		res.Added = append(res.Added, p.ID)
	}

	e.log.Info("positions synced",
		slog.Int("removed", len(res.Removed)),
		slog.Int("added", len(res.Added)),
		slog.Int("suppressed", len(res.Suppressed)),
		slog.Int("unchanged", len(res.Unchanged)))
	return res
}

func (e *Engine) suppress(id, pair string, at time.Time) {
	e.pruneSuppressed(at)
	e.suppressed = append(e.suppressed, closure{id: id, key: feed.Normalize(pair), at: at})
}

// pruneSuppressed drops closures at least one window old.
func (e *Engine) pruneSuppressed(now time.Time) {
	kept := e.suppressed[:0]
	for _, c := range e.suppressed {
		if now.Sub(c.at) < e.window {
			kept = append(kept, c)
		}
	}
	e.suppressed = kept
}

func (e *Engine) isSuppressed(p model.Position) bool {
	key := feed.Normalize(p.Pair)
	for _, c := range e.suppressed {
		if c.id == p.ID || c.key == key {
			return true
		}
	}
	return false
}
