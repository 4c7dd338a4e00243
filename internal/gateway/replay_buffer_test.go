package gateway

import (
	"strconv"
	"testing"
)

func pushN(rb *ReplayBuffer, from, to int64) {
	for i := from; i <= to; i++ {
		rb.Push(i, []byte(strconv.FormatInt(i, 10)))
	}
}

func TestReplayBuffer_After(t *testing.T) {
	rb := NewReplayBuffer(100)
	pushN(rb, 1, 10)

	got := rb.After(7)
	if len(got) != 3 {
		t.Fatalf("After(7): got %d entries, want 3", len(got))
	}
	for i, want := range []string{"8", "9", "10"} {
		if string(got[i]) != want {
			t.Errorf("entry %d: got %s, want %s", i, got[i], want)
		}
	}
}

func TestReplayBuffer_Wraparound(t *testing.T) {
	rb := NewReplayBuffer(5)
	pushN(rb, 1, 8)

	if rb.Len() != 5 {
		t.Fatalf("Len: got %d, want 5", rb.Len())
	}
	got := rb.After(0)
	if len(got) != 5 {
		t.Fatalf("After(0): got %d entries, want 5", len(got))
	}
	if string(got[0]) != "4" || string(got[4]) != "8" {
		t.Errorf("window: got %s..%s, want 4..8", got[0], got[4])
	}
}

func TestReplayBuffer_Empty(t *testing.T) {
	rb := NewReplayBuffer(10)
	if got := rb.After(0); len(got) != 0 {
		t.Fatalf("empty buffer: got %d entries", len(got))
	}
}
