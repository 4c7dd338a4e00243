package gateway

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"posmon/internal/model"
)

// positionRequest is the inbound position payload. Pointers distinguish a
// missing number from zero.
type positionRequest struct {
	ID        string     `json:"id"`
	Pair      string     `json:"pair"`
	Direction string     `json:"direction"`
	Entry     *float64   `json:"entry"`
	TP        *float64   `json:"tp"`
	SL        *float64   `json:"sl"`
	Amount    *float64   `json:"amount"`
	OpenTime  *time.Time `json:"openTime"`
	IsAI      bool       `json:"isAI"`
}

type syncRequest struct {
	Positions []positionRequest `json:"positions"`
}

// closeRequest is the manual close payload.
type closeRequest struct {
	Reason string   `json:"reason"`
	Price  *float64 `json:"price"`
}

func (r closeRequest) validate() (model.CloseReason, float64, error) {
	reason := model.CloseReason(strings.ToUpper(r.Reason))
	if reason != model.ReasonTP && reason != model.ReasonSL {
		return "", 0, fmt.Errorf("reason must be TP or SL, got %q", r.Reason)
	}
	if r.Price == nil {
		return "", 0, errors.New("price is required")
	}
	if *r.Price <= 0 {
		return "", 0, errors.New("price must be positive")
	}
	return reason, *r.Price, nil
}

func (r positionRequest) toPosition(defaultAmount float64) (model.Position, error) {
	switch {
	case r.ID == "":
		return model.Position{}, errors.New("id is required")
	case r.Pair == "":
		return model.Position{}, errors.New("pair is required")
	}
	for _, f := range []struct {
		name string
		v    *float64
	}{{"entry", r.Entry}, {"tp", r.TP}, {"sl", r.SL}} {
		if f.v == nil {
			return model.Position{}, fmt.Errorf("%s is required", f.name)
		}
		if *f.v <= 0 {
			return model.Position{}, fmt.Errorf("%s must be positive", f.name)
		}
	}

	dir := model.Direction(r.Direction)
	switch dir {
	case "":
		dir = model.Long
	case model.Long, model.Short:
	default:
		return model.Position{}, fmt.Errorf("direction must be long or short, got %q", r.Direction)
	}

	amount := defaultAmount
	if r.Amount != nil {
		if *r.Amount <= 0 {
			return model.Position{}, errors.New("amount must be positive")
		}
		amount = *r.Amount
	}

	p := model.Position{
		ID:        r.ID,
		Pair:      r.Pair,
		Direction: dir,
		Entry:     *r.Entry,
		TP:        *r.TP,
		SL:        *r.SL,
		Amount:    amount,
		IsAI:      r.IsAI,
	}
	if r.OpenTime != nil {
		p.OpenTime = *r.OpenTime
	}
	return p, nil
}
