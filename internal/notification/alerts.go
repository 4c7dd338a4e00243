package notification

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"posmon/internal/model"
)

// PositionAlerts turns position events into alerts and sends them in the
// background. It satisfies monitor.NotificationSink.
type PositionAlerts struct {
	n       Notifier
	log     *slog.Logger
	timeout time.Duration
	wg      sync.WaitGroup

	// OnFailure is called for every failed or panicking send.
	OnFailure func(kind AlertKind)
}

// NewPositionAlerts sends through n with a per-alert timeout (default 10s).
func NewPositionAlerts(n Notifier, timeout time.Duration, logger *slog.Logger) *PositionAlerts {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PositionAlerts{
		n:       n,
		log:     logger.With(slog.String("component", "alerts")),
		timeout: timeout,
	}
}

func (a *PositionAlerts) NotifyPositionOpen(p model.Position) {
	a.dispatch(Alert{
		Level:      AlertInfo,
		Kind:       KindOpen,
		Title:      fmt.Sprintf("%s %s opened", p.Pair, p.Side()),
		Message:    fmt.Sprintf("Entry %s, TP %s, SL %s, amount %s%s", price(p.Entry), price(p.TP), price(p.SL), price(p.Amount), aiTag(p)),
		PositionID: p.ID,
		Pair:       p.Pair,
	})
}

func (a *PositionAlerts) NotifyTP(p model.Position, profit, profitPercent float64) {
	a.dispatch(Alert{
		Level:      AlertInfo,
		Kind:       KindTakeProfit,
		Title:      fmt.Sprintf("%s take profit hit", p.Pair),
		Message:    fmt.Sprintf("Closed at %s, profit %+.2f (%+.2f%%)%s", price(p.CurrentPrice), profit, profitPercent, aiTag(p)),
		PositionID: p.ID,
		Pair:       p.Pair,
	})
}

func (a *PositionAlerts) NotifySL(p model.Position, loss, lossPercent float64) {
	a.dispatch(Alert{
		Level:      AlertWarning,
		Kind:       KindStopLoss,
		Title:      fmt.Sprintf("%s stop loss hit", p.Pair),
		Message:    fmt.Sprintf("Closed at %s, loss %+.2f (%+.2f%%)%s", price(p.CurrentPrice), loss, lossPercent, aiTag(p)),
		PositionID: p.ID,
		Pair:       p.Pair,
	})
}

// Wait blocks until every in-flight alert has finished.
func (a *PositionAlerts) Wait() {
	a.wg.Wait()
}

func (a *PositionAlerts) dispatch(alert Alert) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				a.log.Error("notifier panicked", slog.String("kind", string(alert.Kind)), slog.Any("panic", r))
				a.failed(alert.Kind)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		if err := a.n.Send(ctx, alert); err != nil {
			a.log.Warn("alert not delivered",
				slog.String("kind", string(alert.Kind)),
				slog.String("position_id", alert.PositionID),
				slog.Any("error", err))
			a.failed(alert.Kind)
		}
	}()
}

func (a *PositionAlerts) failed(kind AlertKind) {
	if a.OnFailure != nil {
		a.OnFailure(kind)
	}
}

func price(v float64) string {
	return fmt.Sprintf("%.8g", v)
}

func aiTag(p model.Position) string {
	if p.IsAI {
		return " [AI]"
	}
	return ""
}
