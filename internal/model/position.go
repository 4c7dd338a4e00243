package model

import (
	"math"
	"time"
)

// Direction is the side of a paper position.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// Position is an open paper position watched for take-profit / stop-loss.
// Prices are plain floats: crypto pairs quote with arbitrary decimals.
type Position struct {
	ID           string    `json:"id"`
	Pair         string    `json:"pair"` // e.g. "BTC/USDT"
	Direction    Direction `json:"direction"`
	Entry        float64   `json:"entry"`
	TP           float64   `json:"tp"`
	SL           float64   `json:"sl"`
	Amount       float64   `json:"amount"`
	CurrentPrice float64   `json:"currentPrice"`
	OpenTime     time.Time `json:"openTime"`
	LastCheck    time.Time `json:"lastCheck"`
	IsAI         bool      `json:"isAI"`
}

// IsShort reports whether the position uses mirrored short semantics.
// Anything other than an explicit "short" is treated as long.
func (p *Position) IsShort() bool {
	return p.Direction == Short
}

// Side returns the normalized direction, defaulting to long.
func (p *Position) Side() Direction {
	if p.IsShort() {
		return Short
	}
	return Long
}

// CloseReason is why a position was closed by the monitor.
type CloseReason string

const (
	ReasonTP CloseReason = "TP"
	ReasonSL CloseReason = "SL"
)

// ClosedRecord is the immutable outcome of a monitor-detected close.
type ClosedRecord struct {
	ID            string      `json:"id"`
	Pair          string      `json:"pair"`
	Type          Direction   `json:"type"`
	Entry         float64     `json:"entry"`
	Exit          float64     `json:"exit"`
	Amount        float64     `json:"amount"`
	Profit        float64     `json:"profit"`
	ProfitPercent float64     `json:"profitPercent"`
	OpenTime      time.Time   `json:"openTime"`
	CloseTime     time.Time   `json:"closeTime"`
	Reason        CloseReason `json:"reason"`
	IsAI          bool        `json:"isAI"`
}

// PnL returns the realized profit at exit and the percentage move of the
// threshold level that fired, both rounded to cents. Losses are negative.
func (p *Position) PnL(exit float64, reason CloseReason) (profit, percent float64) {
	if p.Entry <= 0 {
		return 0, 0
	}
	level := p.TP
	if reason == ReasonSL {
		level = p.SL
	}
	move := exit - p.Entry
	levelMove := level - p.Entry
	if p.IsShort() {
		move, levelMove = -move, -levelMove
	}
	profit = Round2(move / p.Entry * p.Amount)
	percent = Round2(levelMove / p.Entry * 100)
	return profit, percent
}

// Close builds the ClosedRecord for this position.
func (p *Position) Close(exit float64, reason CloseReason, at time.Time) ClosedRecord {
	profit, pct := p.PnL(exit, reason)
	return ClosedRecord{
		ID:            p.ID,
		Pair:          p.Pair,
		Type:          p.Side(),
		Entry:         p.Entry,
		Exit:          exit,
		Amount:        p.Amount,
		Profit:        profit,
		ProfitPercent: pct,
		OpenTime:      p.OpenTime,
		CloseTime:     at,
		Reason:        reason,
		IsAI:          p.IsAI,
	}
}

// Round2 rounds to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
