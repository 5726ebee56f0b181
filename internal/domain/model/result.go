package model

// Status is the terminal state of one event.
type Status string

const (
	StatusDuplicate             Status = "duplicate"
	StatusSkippedNotFound       Status = "skipped_not_found"
	StatusSkippedNoConcept      Status = "skipped_no_concept"
	StatusSkippedNoContact      Status = "skipped_no_contact"
	StatusSkippedUnknownConcept Status = "skipped_unknown_concept"
	StatusDone                  Status = "done"
	StatusPublishFailed         Status = "publish_failed"
	StatusFailed                Status = "failed"
)

// Result is the per-event entry returned in a batch response.
// Decision fields are only set once a decision was persisted.
type Result struct {
	EntityID    string `json:"entityId"`
	Status      Status `json:"status"`
	Eligible    *bool  `json:"eligible,omitempty"`
	Concept     string `json:"concepto,omitempty"`
	ControlDate string `json:"fecha_control,omitempty"`
	UsedToday   *int   `json:"usados_hoy,omitempty"`
	Limit       *int   `json:"limite,omitempty"`
	Error       string `json:"error,omitempty"`
}

// BatchResult is the response to one webhook delivery.
type BatchResult struct {
	Processed int      `json:"processed"`
	Results   []Result `json:"resultados"`
}

// Count returns how many results ended in status s.
func (b BatchResult) Count(s Status) int {
	n := 0
	for _, r := range b.Results {
		if r.Status == s {
			n++
		}
	}
	return n
}
