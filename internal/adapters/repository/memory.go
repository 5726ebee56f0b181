package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/okian/encuesta/internal/domain/model"
)

type counterKey struct {
	concept string
	date    string
}

// MemoryStore is a process-local Store. Transactions hold the store lock for
// their whole duration and stage writes until commit.
type MemoryStore struct {
	mu       sync.Mutex
	records  map[string]model.EligibilityRecord
	counters map[counterKey]model.ConceptCounter
	closed   bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[string]model.EligibilityRecord),
		counters: make(map[counterKey]model.ConceptCounter),
	}
}

// Exists reports whether a decision for id is already stored.
func (s *MemoryStore) Exists(ctx context.Context, id string) (found bool, err error) {
	err = s.Tx(ctx, func(o Ops) error {
		found, err = o.Exists(ctx, id)
		return err
	})
	return found, err
}

// CountEligible counts eligible decisions for concept on date.
func (s *MemoryStore) CountEligible(ctx context.Context, concept, date string) (n int, err error) {
	err = s.Tx(ctx, func(o Ops) error {
		n, err = o.CountEligible(ctx, concept, date)
		return err
	})
	return n, err
}

// CountEligibleForContact counts eligible decisions for contactID on date.
func (s *MemoryStore) CountEligibleForContact(ctx context.Context, contactID, date string) (n int, err error) {
	err = s.Tx(ctx, func(o Ops) error {
		n, err = o.CountEligibleForContact(ctx, contactID, date)
		return err
	})
	return n, err
}

// InsertRecord stores rec. A second decision for the same id fails with ErrDuplicate.
func (s *MemoryStore) InsertRecord(ctx context.Context, rec model.EligibilityRecord) error {
	return s.Tx(ctx, func(o Ops) error { return o.InsertRecord(ctx, rec) })
}

// IncrementCounter bumps the daily counter of concept, creating it on first use.
func (s *MemoryStore) IncrementCounter(ctx context.Context, concept, date string, limit int) error {
	return s.Tx(ctx, func(o Ops) error { return o.IncrementCounter(ctx, concept, date, limit) })
}

// Tx runs fn with exclusive access to the store.
func (s *MemoryStore) Tx(ctx context.Context, fn func(Ops) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	tx := &memTx{
		s:        s,
		records:  make(map[string]model.EligibilityRecord),
		counters: make(map[counterKey]model.ConceptCounter),
	}
	if err := fn(tx); err != nil {
		return err
	}
	for id, rec := range tx.records {
		s.records[id] = rec
	}
	for k, c := range tx.counters {
		s.counters[k] = c
	}
	return nil
}

// DailyCounters lists the counters of date ordered by concept.
func (s *MemoryStore) DailyCounters(_ context.Context, date string) ([]model.ConceptCounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	out := make([]model.ConceptCounter, 0)
	for k, c := range s.counters {
		if k.date == date {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Concept < out[j].Concept })
	return out, nil
}

// Record returns the stored decision for id.
func (s *MemoryStore) Record(id string) (model.EligibilityRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	return rec, ok
}

// RecordCount returns the number of stored decisions.
func (s *MemoryStore) RecordCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Ping fails once the store is closed.
func (s *MemoryStore) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Close marks the store closed. Later calls fail with ErrClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// memTx reads through to the store and keeps its own writes staged.
// The store lock is held by Tx for its lifetime.
type memTx struct {
	s        *MemoryStore
	records  map[string]model.EligibilityRecord
	counters map[counterKey]model.ConceptCounter
}

func (t *memTx) record(id string) (model.EligibilityRecord, bool) {
	if rec, ok := t.records[id]; ok {
		return rec, true
	}
	rec, ok := t.s.records[id]
	return rec, ok
}

func (t *memTx) Exists(_ context.Context, id string) (bool, error) {
	_, ok := t.record(id)
	return ok, nil
}

func (t *memTx) countWhere(match func(model.EligibilityRecord) bool) int {
	n := 0
	for id, rec := range t.s.records {
		if _, shadowed := t.records[id]; shadowed {
			continue
		}
		if rec.Eligible && match(rec) {
			n++
		}
	}
	for _, rec := range t.records {
		if rec.Eligible && match(rec) {
			n++
		}
	}
	return n
}

func (t *memTx) CountEligible(_ context.Context, concept, date string) (int, error) {
	return t.countWhere(func(r model.EligibilityRecord) bool {
		return r.Concept == concept && r.ControlDate == date
	}), nil
}

func (t *memTx) CountEligibleForContact(_ context.Context, contactID, date string) (int, error) {
	return t.countWhere(func(r model.EligibilityRecord) bool {
		return r.ContactID == contactID && r.ControlDate == date
	}), nil
}

func (t *memTx) InsertRecord(_ context.Context, rec model.EligibilityRecord) error {
	if _, ok := t.record(rec.ID); ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, rec.ID)
	}
	t.records[rec.ID] = rec
	return nil
}

func (t *memTx) IncrementCounter(_ context.Context, concept, date string, limit int) error {
	k := counterKey{concept: concept, date: date}
	c, ok := t.counters[k]
	if !ok {
		c, ok = t.s.counters[k]
	}
	if !ok {
		c = model.ConceptCounter{Concept: concept, LogDate: date, Limit: limit}
	}
	c.CurrentCount++
	t.counters[k] = c
	return nil
}
