// Package notification delivers position alerts to external channels
// (Telegram, webhooks, the log).
package notification

import (
	"context"
	"errors"
	"log/slog"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// AlertKind names the position event behind an alert.
type AlertKind string

const (
	KindOpen       AlertKind = "open"
	KindTakeProfit AlertKind = "take_profit"
	KindStopLoss   AlertKind = "stop_loss"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level      AlertLevel `json:"level"`
	Kind       AlertKind  `json:"kind"`
	Title      string     `json:"title"`
	Message    string     `json:"message"`
	PositionID string     `json:"positionId,omitempty"`
	Pair       string     `json:"pair,omitempty"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to a structured logger.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a log-based notifier. A nil logger uses slog.Default.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{log: logger.With(slog.String("component", "notify"))}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	n.log.InfoContext(ctx, alert.Title,
		slog.String("level", string(alert.Level)),
		slog.String("kind", string(alert.Kind)),
		slog.String("position_id", alert.PositionID),
		slog.String("message", alert.Message))
	return nil
}

// Multi sends to every backend and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
