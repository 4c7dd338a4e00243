package model

import "time"

// Tick is a single trade price observed on an upstream feed.
// Pair holds the canonical feed key (e.g. "btcusdt"), not the display pair.
type Tick struct {
	Pair  string    `json:"pair"`
	Price float64   `json:"price"`
	TS    time.Time `json:"ts"`
}
