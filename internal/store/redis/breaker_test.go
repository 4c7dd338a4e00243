package redis

import (
	"errors"
	"testing"
	"time"
)

type stepClock struct{ t time.Time }

func (c *stepClock) now() time.Time          { return c.t }
func (c *stepClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(max int, cooldown time.Duration) (*Breaker, *stepClock) {
	clk := &stepClock{t: time.Unix(1_700_000_000, 0)}
	b := NewBreaker(max, cooldown)
	b.now = clk.now
	return b, clk
}

var errFail = errors.New("fail")

func TestBreaker_StartsClosed(t *testing.T) {
	b, _ := newTestBreaker(3, time.Second)
	if b.State() != StateClosed {
		t.Errorf("state: got %v, want closed", b.State())
	}
}

func TestBreaker_OpensAfterFailures(t *testing.T) {
	b, _ := newTestBreaker(3, time.Second)
	for i := 0; i < 3; i++ {
		if err := b.Execute(func() error { return errFail }); err != errFail {
			t.Fatalf("call %d: got %v, want errFail", i, err)
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("state: got %v, want open", b.State())
	}

	called := false
	err := b.Execute(func() error { called = true; return nil })
	if err != ErrBreakerOpen {
		t.Errorf("open call: got %v, want ErrBreakerOpen", err)
	}
	if called {
		t.Error("fn must not run while open")
	}
}

func TestBreaker_ProbeRecovers(t *testing.T) {
	b, clk := newTestBreaker(2, time.Second)
	b.Execute(func() error { return errFail })
	b.Execute(func() error { return errFail })

	clk.advance(1100 * time.Millisecond)
	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("probe: got %v, want nil", err)
	}
	if b.State() != StateClosed {
		t.Errorf("state: got %v, want closed", b.State())
	}
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	b, clk := newTestBreaker(2, time.Second)
	b.Execute(func() error { return errFail })
	b.Execute(func() error { return errFail })

	clk.advance(1100 * time.Millisecond)
	b.Execute(func() error { return errFail })
	if b.State() != StateOpen {
		t.Errorf("state: got %v, want open", b.State())
	}

	// The cooldown restarts from the failed probe.
	clk.advance(500 * time.Millisecond)
	if err := b.Execute(func() error { return nil }); err != ErrBreakerOpen {
		t.Errorf("got %v, want ErrBreakerOpen", err)
	}
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b, _ := newTestBreaker(3, time.Second)
	b.Execute(func() error { return errFail })
	b.Execute(func() error { return errFail })
	b.Execute(func() error { return nil })
	b.Execute(func() error { return errFail })
	b.Execute(func() error { return errFail })

	if b.State() != StateClosed {
		t.Errorf("state: got %v, want closed", b.State())
	}
}

func TestBreaker_Transitions(t *testing.T) {
	b, clk := newTestBreaker(1, time.Second)
	var seen []State
	b.OnStateChange = func(_, to State) { seen = append(seen, to) }

	b.Execute(func() error { return errFail })
	clk.advance(2 * time.Second)
	b.Execute(func() error { return nil })

	want := []State{StateOpen, StateHalfOpen, StateClosed}
	if len(seen) != len(want) {
		t.Fatalf("transitions: got %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("transition %d: got %v, want %v", i, seen[i], want[i])
		}
	}
}
