package monitor

import (
	"context"
	"time"

	"posmon/internal/marketdata/feed"
	"posmon/internal/model"
)

// Feed is the upstream price multiplexer the engine subscribes through.
type Feed interface {
	Subscribe(symbol string, fn feed.TickFunc) *feed.Subscription
	Unsubscribe(sub *feed.Subscription)
}

// History stores closed records. Implementations must be safe for
// concurrent use and must not block on durable I/O inside Append.
type History interface {
	Append(rec model.ClosedRecord)
	Query(since time.Time) []model.ClosedRecord
	Prune(olderThan time.Time) int
}

// Broadcaster receives every engine event. Emit is called from the engine
// goroutine and must not block.
type Broadcaster interface {
	Emit(ctx context.Context, ev model.Event)
}

// Broadcasters fans an event out to several broadcasters in order.
type Broadcasters []Broadcaster

func (bs Broadcasters) Emit(ctx context.Context, ev model.Event) {
	for _, b := range bs {
		b.Emit(ctx, ev)
	}
}

// NotificationSink is told about opens and threshold closes. Calls are
// fire-and-forget; a sink owns its own failures.
type NotificationSink interface {
	NotifyPositionOpen(p model.Position)
	NotifyTP(p model.Position, profit, profitPercent float64)
	NotifySL(p model.Position, loss, lossPercent float64)
}

type nopBroadcaster struct{}

func (nopBroadcaster) Emit(context.Context, model.Event) {}

type nopSink struct{}

func (nopSink) NotifyPositionOpen(model.Position)         {}
func (nopSink) NotifyTP(model.Position, float64, float64) {}
func (nopSink) NotifySL(model.Position, float64, float64) {}
