package service

import (
	"time"

	"github.com/okian/encuesta/internal/adapters/lock"
	"github.com/okian/encuesta/internal/adapters/worker"
	"github.com/okian/encuesta/internal/domain/dedupe"
	"github.com/okian/encuesta/internal/domain/quota"
	"github.com/okian/encuesta/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLimits sets the concept limit table.
func WithLimits(limits map[string]int) Option {
	return func(s *Service) {
		s.limits = quota.NewLimitTable(limits)
	}
}

// WithPolicy sets the contact guard, contact requirement and date bucketing.
func WithPolicy(p quota.Policy) Option {
	return func(s *Service) {
		s.policy = p
	}
}

// WithLocker sets the lock used around quota decisions.
func WithLocker(l lock.Locker) Option {
	return func(s *Service) {
		if l != nil {
			s.locker = l
		}
	}
}

// WithScheduler sets the batch scheduler.
func WithScheduler(sch *worker.Scheduler) Option {
	return func(s *Service) {
		if sch != nil {
			s.scheduler = sch
		}
	}
}

// WithDeduper sets the in-flight guard.
func WithDeduper(d dedupe.Deduper) Option {
	return func(s *Service) {
		if d != nil {
			s.deduper = d
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
