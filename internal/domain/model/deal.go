package model

import "time"

// DateLayout is the calendar-day format used for control dates.
const DateLayout = "2006-01-02"

// calendarDay is the zone of times parsed from a bare date. Such a time
// names a day, not an instant, and keeps that day in every time zone.
var calendarDay = time.FixedZone("calendar-day", 0)

// ParseDay parses a bare DateLayout date as a calendar day.
func ParseDay(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, calendarDay)
}

// IsCalendarDay reports whether t came from ParseDay.
func IsCalendarDay(t time.Time) bool {
	return t.Location() == calendarDay
}

// DealMetadata is what the CRM knows about a deal. Zero values mean absent.
type DealMetadata struct {
	Concept   string
	CloseDate time.Time
	ContactID string
}

// EligibilityRecord is the durable decision for one entity.
type EligibilityRecord struct {
	ID          string
	ContactID   string
	Concept     string
	Eligible    bool
	CreatedAt   time.Time
	ControlDate string
}

// ConceptCounter is the running per-day volume of a concept.
type ConceptCounter struct {
	Concept      string `json:"concepto"`
	LogDate      string `json:"fecha_log"`
	CurrentCount int    `json:"cantidad_actual"`
	Limit        int    `json:"limite"`
}
