// Package replay re-submits deal ids to a running eligibility service and
// summarizes what it decided. It is meant for backfills after an outage.
package replay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/okian/encuesta/pkg/logger"
)

// Run posts ids to the service's webhook in batches and tallies the results.
// A batch the service rejects is counted as failed; the run continues.
func Run(ctx context.Context, cfg *Config, ids []string, log logger.Logger) (*Summary, error) {
	if len(ids) == 0 {
		return nil, ErrNoIDs
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	sum := &Summary{
		RunID:     uuid.NewString(),
		ByStatus:  map[string]int{},
		StartTime: time.Now(),
	}
	log = log.With(logger.String("run_id", sum.RunID))
	c := newClient(cfg.BaseURL, sum.RunID, cfg.Timeout)

	log.Info(ctx, "starting replay",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("ids", len(ids)),
		logger.Int("batchSize", batchSize),
		logger.Int("workers", workers))

	if err := c.health(ctx); err != nil {
		return nil, fmt.Errorf("service health check failed: %w", err)
	}

	batches := Chunk(ids, batchSize)
	batchCh := make(chan []string)
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batch := range batchCh {
				resp, err := c.postBatch(ctx, batch)
				mu.Lock()
				sum.record(resp, err)
				mu.Unlock()
				if err != nil {
					log.Warn(ctx, "batch failed", logger.Int("size", len(batch)), logger.Error(err))
					continue
				}
				if cfg.Verbose {
					log.Info(ctx, "batch done", logger.Int("size", len(batch)), logger.Int("processed", resp.Processed))
				}
			}
		}()
	}

feed:
	for _, b := range batches {
		select {
		case <-ctx.Done():
			break feed
		case batchCh <- b:
		}
	}
	close(batchCh)
	wg.Wait()

	counters, err := c.counters(ctx)
	if err != nil {
		log.Warn(ctx, "could not fetch daily counters", logger.Error(err))
	}
	sum.Counters = counters
	sum.Duration = time.Since(sum.StartTime)

	log.Info(ctx, "replay finished",
		logger.Int("batches", sum.Batches),
		logger.Int("events", sum.Events),
		logger.Int("eligible", sum.Eligible),
		logger.Int("failedBatches", sum.Failed),
		logger.Any("byStatus", sum.ByStatus),
		logger.Duration("duration", sum.Duration))

	if err := ctx.Err(); err != nil {
		return sum, fmt.Errorf("replay interrupted: %w", err)
	}
	return sum, nil
}

func (s *Summary) record(resp batchResponse, err error) {
	s.Batches++
	if err != nil {
		s.Failed++
		return
	}
	s.Events += len(resp.Results)
	for _, r := range resp.Results {
		s.ByStatus[r.Status]++
		if r.Eligible != nil && *r.Eligible {
			s.Eligible++
		}
	}
}
