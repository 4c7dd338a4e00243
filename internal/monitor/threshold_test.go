package monitor

import (
	"testing"

	"posmon/internal/model"

	"github.com/stretchr/testify/assert"
)

func TestEvaluate(t *testing.T) {
	long := &model.Position{Entry: 100, TP: 110, SL: 90}
	short := &model.Position{Direction: model.Short, Entry: 100, TP: 90, SL: 110}

	cases := []struct {
		name  string
		pos   *model.Position
		price float64
		want  Decision
	}{
		{"long between", long, 105, None},
		{"long at tp", long, 110, TakeProfit},
		{"long above tp", long, 111, TakeProfit},
		{"long at sl", long, 90, StopLoss},
		{"long below sl", long, 50, StopLoss},
		{"short between", short, 95, None},
		{"short at tp", short, 90, TakeProfit},
		{"short below tp", short, 80, TakeProfit},
		{"short at sl", short, 110, StopLoss},
		{"short above sl", short, 120, StopLoss},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Evaluate(tc.pos, tc.price))
		})
	}
}

func TestEvaluate_TakeProfitWinsTie(t *testing.T) {
	p := &model.Position{Entry: 100, TP: 105, SL: 110}
	assert.Equal(t, TakeProfit, Evaluate(p, 108))
	assert.Equal(t, model.ReasonTP, Evaluate(p, 108).Reason())
}

func TestDecision_String(t *testing.T) {
	assert.Equal(t, "TP", TakeProfit.String())
	assert.Equal(t, "SL", StopLoss.String())
	assert.Equal(t, "NONE", None.String())
	assert.Equal(t, model.ReasonSL, StopLoss.Reason())
}
