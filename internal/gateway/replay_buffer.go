package gateway

import "sync"

type replayEntry struct {
	Seq  int64
	Data []byte // encoded envelope
}

// ReplayBuffer is a fixed-size ring of recent envelopes so a reconnecting
// client can catch up from the last seq it saw.
type ReplayBuffer struct {
	mu   sync.RWMutex
	buf  []replayEntry
	pos  int // next write position
	full bool
}

// NewReplayBuffer creates a replay buffer with the given capacity.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = 500
	}
	return &ReplayBuffer{buf: make([]replayEntry, capacity)}
}

// Push stores an envelope, overwriting the oldest when full. data is not
// copied; callers must not modify it afterwards.
func (rb *ReplayBuffer) Push(seq int64, data []byte) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.buf[rb.pos] = replayEntry{Seq: seq, Data: data}
	rb.pos = (rb.pos + 1) % len(rb.buf)
	if rb.pos == 0 {
		rb.full = true
	}
}

// After returns envelopes with seq > after, oldest first.
func (rb *ReplayBuffer) After(after int64) [][]byte {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	n, start := rb.pos, 0
	if rb.full {
		n, start = len(rb.buf), rb.pos
	}
	var out [][]byte
	for i := 0; i < n; i++ {
		e := rb.buf[(start+i)%len(rb.buf)]
		if e.Seq > after {
			out = append(out, e.Data)
		}
	}
	return out
}

// Len returns the number of envelopes held.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	if rb.full {
		return len(rb.buf)
	}
	return rb.pos
}
