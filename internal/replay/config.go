package replay

import "time"

// Config holds configuration for a replay run.
type Config struct {
	BaseURL   string        // Base URL of the service
	BatchSize int           // Deal ids per webhook call
	Workers   int           // Concurrent webhook calls
	Timeout   time.Duration // HTTP request timeout
	Verbose   bool          // Log every batch
}

// Summary is the outcome of a replay run.
type Summary struct {
	RunID     string
	Batches   int
	Events    int
	Failed    int // batches the service rejected or never answered
	Eligible  int
	ByStatus  map[string]int
	Counters  []Counter
	StartTime time.Time
	Duration  time.Duration
}

// Counter mirrors one row of the service's daily report.
type Counter struct {
	Concept      string `json:"concepto"`
	LogDate      string `json:"fecha_log"`
	CurrentCount int    `json:"cantidad_actual"`
	Limit        int    `json:"limite"`
}

type webhookEvent struct {
	ObjectID string `json:"objectId"`
}

type batchResponse struct {
	Processed int `json:"processed"`
	Results   []struct {
		EntityID string `json:"entityId"`
		Status   string `json:"status"`
		Eligible *bool  `json:"eligible"`
	} `json:"resultados"`
}

const (
	defaultBatchSize = 10
	defaultWorkers   = 1
)
