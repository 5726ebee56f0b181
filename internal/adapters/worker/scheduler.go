// Package worker runs batches of independent tasks in paced, bounded chunks.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/okian/encuesta/pkg/logger"
	"github.com/okian/encuesta/pkg/metrics"
)

// Default scheduler configuration constants.
const (
	defaultChunkSize = 10
	defaultPause     = time.Second
)

// ErrTaskPanicked wraps a panic recovered from a task.
var ErrTaskPanicked = errors.New("task panicked")

// Task processes the item at idx. Its error is stored at errs[idx].
type Task func(ctx context.Context, idx int) error

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Scheduler splits a batch into chunks, runs each chunk concurrently with a
// ceiling, and pauses between chunks.
type Scheduler struct {
	chunkSize   int
	concurrency int // 0 means chunkSize
	pause       time.Duration
	sleep       SleepFunc
	logger      logger.Logger
}

// NewScheduler creates a Scheduler.
func NewScheduler(opts ...Option) *Scheduler {
	s := &Scheduler{
		chunkSize: defaultChunkSize,
		pause:     defaultPause,
		sleep:     sleepContext,
		logger:    logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes task for every index in [0, total) and returns one error slot
// per index. Chunks run in order; the pause is never taken after the last
// one. When ctx ends between chunks, the indices not started get ctx.Err().
func (s *Scheduler) Run(ctx context.Context, total int, task Task) []error {
	errs := make([]error, total)
	for start := 0; start < total; start += s.chunkSize {
		end := min(start+s.chunkSize, total)

		s.runChunk(ctx, start, end, task, errs)
		metrics.RecordChunk()
		s.logger.Debug(ctx, "chunk done", logger.Int("from", start), logger.Int("to", end))

		if end == total {
			break
		}
		if s.pause > 0 {
			if err := s.sleep(ctx, s.pause); err != nil {
				for i := end; i < total; i++ {
					errs[i] = err
				}
				s.logger.Warn(ctx, "batch interrupted", logger.Int("pending", total-end), logger.Error(err))
				break
			}
		}
	}
	return errs
}

func (s *Scheduler) runChunk(ctx context.Context, start, end int, task Task, errs []error) {
	limit := s.concurrency
	if limit <= 0 || limit > end-start {
		limit = end - start
	}
	sem := make(chan struct{}, limit)

	var wg sync.WaitGroup
	for i := start; i < end; i++ {
		sem <- struct{}{}
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			errs[idx] = s.safeRun(ctx, idx, task)
		}(i)
	}
	wg.Wait()
}

func (s *Scheduler) safeRun(ctx context.Context, idx int, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordError("worker", "panic")
			s.logger.Error(ctx, "task panicked",
				logger.Int("index", idx),
				logger.Any("panic", r),
				logger.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, r)
		}
	}()
	return task(ctx, idx)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
