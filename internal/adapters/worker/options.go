package worker

import (
	"time"

	"github.com/okian/encuesta/pkg/logger"
)

// Option applies a configuration option to the Scheduler.
type Option func(*Scheduler)

// WithChunkSize sets how many tasks start together.
func WithChunkSize(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// WithConcurrency caps running tasks inside a chunk. 0 means the chunk size.
func WithConcurrency(n int) Option {
	return func(s *Scheduler) {
		if n >= 0 {
			s.concurrency = n
		}
	}
}

// WithPause sets the wait between chunks. 0 disables pacing.
func WithPause(d time.Duration) Option {
	return func(s *Scheduler) {
		if d >= 0 {
			s.pause = d
		}
	}
}

// WithSleep replaces the pause implementation, mostly for tests.
func WithSleep(fn SleepFunc) Option {
	return func(s *Scheduler) {
		if fn != nil {
			s.sleep = fn
		}
	}
}

// WithLogger sets the logger for the scheduler.
func WithLogger(l logger.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}
