// Package quota holds the per-concept daily limits and the eligibility rule.
package quota

import (
	"strings"
	"time"

	"github.com/okian/encuesta/internal/domain/model"
)

// Reasons a decision came out negative.
const (
	ReasonQuotaExhausted  = "quota_exhausted"
	ReasonContactSurveyed = "contact_already_surveyed"
)

// Bucketing modes for the control date.
const (
	BucketCloseDate      = "close_date"
	BucketProcessingDate = "processing_date"
)

// Normalize canonicalizes a concept label: trimmed, upper case.
func Normalize(concept string) string {
	return strings.ToUpper(strings.TrimSpace(concept))
}

// LimitTable maps normalized concepts to their daily quota. It is immutable
// after construction and safe for concurrent reads.
type LimitTable struct {
	limits map[string]int
}

// NewLimitTable copies limits, normalizing keys.
func NewLimitTable(limits map[string]int) *LimitTable {
	t := &LimitTable{limits: make(map[string]int, len(limits))}
	for concept, limit := range limits {
		if c := Normalize(concept); c != "" && limit >= 0 {
			t.limits[c] = limit
		}
	}
	return t
}

// Lookup returns the limit of a normalized concept.
func (t *LimitTable) Lookup(concept string) (int, bool) {
	limit, ok := t.limits[concept]
	return limit, ok
}

// Len returns the number of known concepts.
func (t *LimitTable) Len() int { return len(t.limits) }

// Counts are the store readings a decision is based on.
type Counts struct {
	UsedToday       int
	ContactSurveyed int
}

// Decision is the outcome of Evaluate.
type Decision struct {
	Eligible  bool
	UsedToday int
	Limit     int
	Reason    string
}

// Evaluate applies the rule: under quota and contact not yet surveyed today.
func Evaluate(c Counts, limit int) Decision {
	d := Decision{UsedToday: c.UsedToday, Limit: limit}
	switch {
	case c.UsedToday >= limit:
		d.Reason = ReasonQuotaExhausted
	case c.ContactSurveyed > 0:
		d.Reason = ReasonContactSurveyed
	default:
		d.Eligible = true
	}
	return d
}

// Policy carries the configurable parts of the rule.
type Policy struct {
	ContactGuard   bool
	RequireContact bool
	Bucketing      string
	Location       *time.Location
}

// DefaultPolicy guards contacts, tolerates deals without one and buckets by
// close date in UTC.
func DefaultPolicy() Policy {
	return Policy{
		ContactGuard: true,
		Bucketing:    BucketCloseDate,
		Location:     time.UTC,
	}
}

// ControlDate returns the calendar day, in the policy time zone, the event is
// counted against. A close date given as a bare day is that day everywhere.
func (p Policy) ControlDate(closeDate, now time.Time) string {
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	if p.Bucketing != BucketProcessingDate && !closeDate.IsZero() {
		if model.IsCalendarDay(closeDate) {
			return closeDate.Format(model.DateLayout)
		}
		return closeDate.In(loc).Format(model.DateLayout)
	}
	return now.In(loc).Format(model.DateLayout)
}

// GuardsContact reports whether the per-contact count applies for contactID.
func (p Policy) GuardsContact(contactID string) bool {
	return p.ContactGuard && contactID != ""
}
