package model

import "time"

// EventType names a monitor event pushed to broadcasters.
type EventType string

const (
	EventPositionAdded         EventType = "POSITION_ADDED"
	EventPriceUpdate           EventType = "PRICE_UPDATE"
	EventPositionClosed        EventType = "POSITION_CLOSED"
	EventPositionAlreadyClosed EventType = "POSITION_ALREADY_CLOSED"
)

// Event is the envelope emitted for every ledger change and price update.
type Event struct {
	ID   string    `json:"id"`
	Type EventType `json:"type"`
	Data any       `json:"data"`
	TS   time.Time `json:"ts"`
}

// PriceUpdate is the payload of PRICE_UPDATE.
type PriceUpdate struct {
	Pair  string  `json:"pair"`
	Price float64 `json:"price"`
}

// ClosedNotice is the payload of POSITION_ALREADY_CLOSED.
type ClosedNotice struct {
	ID   string `json:"id"`
	Pair string `json:"pair"`
}
