package monitor

import "posmon/internal/model"

// Decision is the outcome of evaluating a position against a price.
type Decision int

const (
	None Decision = iota
	TakeProfit
	StopLoss
)

func (d Decision) String() string {
	switch d {
	case TakeProfit:
		return "TP"
	case StopLoss:
		return "SL"
	default:
		return "NONE"
	}
}

// Reason maps a hit to the close reason recorded in history.
func (d Decision) Reason() model.CloseReason {
	if d == StopLoss {
		return model.ReasonSL
	}
	return model.ReasonTP
}

// Evaluate decides whether price crosses the position's take-profit or
// stop-loss. Take-profit is always checked first, so a misconfigured position
// where both hold on the same tick closes as TP.
//
// Shorts are mirrored: TP fires at or below tp, SL at or above sl.
func Evaluate(p *model.Position, price float64) Decision {
	if p.IsShort() {
		if price <= p.TP {
			return TakeProfit
		}
		if price >= p.SL {
			return StopLoss
		}
		return None
	}
	if price >= p.TP {
		return TakeProfit
	}
	if price <= p.SL {
		return StopLoss
	}
	return None
}
