// Package history keeps closed-position records in memory and snapshots the
// most recent ones to durable storage off the caller's goroutine.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"posmon/internal/model"
)

// DefaultLimit is how many of the newest records are kept durably.
const DefaultLimit = 50

// Persister is a durable snapshot target. Save replaces the whole snapshot.
type Persister interface {
	Save(records []model.ClosedRecord) error
	Load() ([]model.ClosedRecord, error)
}

// Store is the in-memory closed history. Memory is authoritative for the
// running process; the persister only ever sees the newest limit records.
type Store struct {
	mu      sync.RWMutex
	records []model.ClosedRecord

	limit int
	p     Persister
	log   *slog.Logger

	dirty     chan struct{}
	persistMu sync.Mutex

	// OnPersistError is called for every failed durable write.
	OnPersistError func(error)
}

// Open loads the durable snapshot through p. Missing or unreadable data
// yields an empty history and a warning; it never fails.
func Open(p Persister, limit int, logger *slog.Logger) *Store {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		limit: limit,
		p:     p,
		log:   logger.With(slog.String("component", "history")),
		dirty: make(chan struct{}, 1),
	}
	if p == nil {
		return s
	}
	recs, err := p.Load()
	if err != nil {
		s.log.Warn("history unreadable, starting empty", slog.Any("error", err))
		return s
	}
	s.records = recs
	s.log.Info("history loaded", slog.Int("records", len(recs)))
	return s
}

// Append adds rec and schedules a durable snapshot.
func (s *Store) Append(rec model.ClosedRecord) {
	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()
	s.markDirty()
}

// Query returns every record, or only those closed strictly after since when
// since is non-zero.
func (s *Store) Query(since time.Time) []model.ClosedRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ClosedRecord, 0, len(s.records))
	for _, r := range s.records {
		if since.IsZero() || r.CloseTime.After(since) {
			out = append(out, r)
		}
	}
	return out
}

// Prune drops records closed at or before olderThan and returns how many
// were removed.
func (s *Store) Prune(olderThan time.Time) int {
	s.mu.Lock()
	kept := s.records[:0]
	for _, r := range s.records {
		if r.CloseTime.After(olderThan) {
			kept = append(kept, r)
		}
	}
	removed := len(s.records) - len(kept)
	for i := len(kept); i < len(s.records); i++ {
		s.records[i] = model.ClosedRecord{}
	}
	s.records = kept
	s.mu.Unlock()

	if removed > 0 {
		s.markDirty()
	}
	return removed
}

// Len returns the number of in-memory records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Run writes a snapshot each time the history changes until ctx is done,
// then flushes once more.
func (s *Store) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.flush()
			return
		case <-s.dirty:
			s.flush()
		}
	}
}

// Persist synchronously writes the newest limit records.
func (s *Store) Persist() error {
	if s.p == nil {
		return nil
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.RLock()
	start := 0
	if len(s.records) > s.limit {
		start = len(s.records) - s.limit
	}
	snap := make([]model.ClosedRecord, len(s.records)-start)
	copy(snap, s.records[start:])
	s.mu.RUnlock()

	if err := s.p.Save(snap); err != nil {
		return fmt.Errorf("history: persist %d records: %w", len(snap), err)
	}
	return nil
}

func (s *Store) flush() {
	if err := s.Persist(); err != nil {
		s.log.Error("history write failed", slog.Any("error", err))
		if s.OnPersistError != nil {
			s.OnPersistError(err)
		}
	}
}

func (s *Store) markDirty() {
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}
