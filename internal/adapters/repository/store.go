// Package repository persists eligibility decisions and daily concept counters.
package repository

import (
	"context"

	"github.com/okian/encuesta/internal/domain/model"
)

// Ops are the reads and writes a single decision needs. Dates are calendar
// days formatted as model.DateLayout.
type Ops interface {
	// Exists reports whether a decision was already recorded for id.
	Exists(ctx context.Context, id string) (bool, error)

	// CountEligible counts eligible records for concept on date.
	CountEligible(ctx context.Context, concept, date string) (int, error)

	// CountEligibleForContact counts eligible records for contactID on date.
	CountEligibleForContact(ctx context.Context, contactID, date string) (int, error)

	// InsertRecord writes rec. Returns ErrDuplicate if rec.ID already exists.
	InsertRecord(ctx context.Context, rec model.EligibilityRecord) error

	// IncrementCounter creates the (concept, date) counter at 1 or bumps it
	// by one in a single statement.
	IncrementCounter(ctx context.Context, concept, date string, limit int) error
}

// Store is the durable eligibility store.
type Store interface {
	Ops

	// Tx runs fn on one connection inside a transaction. It commits when fn
	// returns nil and rolls back otherwise.
	Tx(ctx context.Context, fn func(Ops) error) error

	// DailyCounters lists every counter of date ordered by concept.
	DailyCounters(ctx context.Context, date string) ([]model.ConceptCounter, error)

	Ping(ctx context.Context) error
	Close() error
}
