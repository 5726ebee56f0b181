// Package dedupe tracks entity ids that are currently being processed.
package dedupe

import (
	"context"
	"sync"
	"sync/atomic"
)

// Deduper collapses concurrent deliveries of the same entity inside one
// process. Durable idempotency is the store's job; this only stops a second
// copy from reaching the CRM while the first is still in flight.
type Deduper interface {
	// SeenAndRecord atomically checks if id is in flight and claims it if not.
	// seen is true if id was already claimed; recorded is true only when this
	// call took the claim and must later release it.
	SeenAndRecord(ctx context.Context, id string) (seen, recorded bool)

	// Unrecord releases a claim taken by SeenAndRecord. Call it only when
	// SeenAndRecord reported recorded.
	Unrecord(ctx context.Context, id string)

	// Size returns the number of ids currently claimed.
	Size() int64
}

type inMemoryDeduper struct {
	mu       sync.Mutex
	inflight map[string]struct{}
	maxSize  int // 0 or negative = unbounded
	size     atomic.Int64
}

// NewInMemoryDeduper creates an in-flight guard.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: 10_000,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.inflight = make(map[string]struct{})
	return d
}

// SeenAndRecord claims id. When the guard is full the id is let through
// unclaimed; the store-level duplicate checks still apply.
func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, id string) (seen, recorded bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.inflight[id]; exists {
		return true, false
	}
	if d.maxSize > 0 && len(d.inflight) >= d.maxSize {
		return false, false
	}
	d.inflight[id] = struct{}{}
	d.size.Add(1)
	return false, true
}

// Unrecord releases the claim on id, if any.
func (d *inMemoryDeduper) Unrecord(_ context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.inflight[id]; exists {
		delete(d.inflight, id)
		d.size.Add(-1)
	}
}

// Size returns the number of ids currently claimed.
func (d *inMemoryDeduper) Size() int64 {
	return d.size.Load()
}
