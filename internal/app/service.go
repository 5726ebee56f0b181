// Package service runs the quota-gated eligibility pipeline behind the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/okian/encuesta/internal/adapters/lock"
	"github.com/okian/encuesta/internal/adapters/repository"
	"github.com/okian/encuesta/internal/adapters/worker"
	"github.com/okian/encuesta/internal/domain/dedupe"
	"github.com/okian/encuesta/internal/domain/model"
	"github.com/okian/encuesta/internal/domain/quota"
	"github.com/okian/encuesta/pkg/logger"
	"github.com/okian/encuesta/pkg/metrics"
)

// Resolver fetches what the CRM knows about a deal.
type Resolver interface {
	Resolve(ctx context.Context, entityID string) (model.DealMetadata, error)
}

// Publisher mirrors a decision back to the CRM.
type Publisher interface {
	Publish(ctx context.Context, entityID string, eligible bool) error
}

// Service decides survey eligibility for batches of deal events.
type Service struct {
	store     repository.Store
	resolver  Resolver
	publisher Publisher

	limits    *quota.LimitTable
	policy    quota.Policy
	locker    lock.Locker
	deduper   dedupe.Deduper
	scheduler *worker.Scheduler
	now       func() time.Time
	logger    logger.Logger

	batches  atomic.Int64
	mu       sync.Mutex
	byStatus map[model.Status]int64
}

// New constructs a Service. The store is owned by the caller.
func New(store repository.Store, resolver Resolver, publisher Publisher, opts ...Option) *Service {
	s := &Service{
		store:     store,
		resolver:  resolver,
		publisher: publisher,
		limits:    quota.NewLimitTable(nil),
		policy:    quota.DefaultPolicy(),
		locker:    lock.NewLocal(),
		deduper:   dedupe.NewInMemoryDeduper(),
		scheduler: worker.NewScheduler(),
		now:       time.Now,
		logger:    logger.Nop(),
		byStatus:  make(map[model.Status]int64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Process runs every event through the pipeline and returns one result per
// event in input order. The batch is detached from ctx cancellation: work
// already accepted is finished even if the caller goes away. Only an
// unreachable store fails the batch as a whole.
func (s *Service) Process(ctx context.Context, events []model.Event) (model.BatchResult, error) {
	start := time.Now()
	ctx = context.WithoutCancel(ctx)

	if err := s.store.Ping(ctx); err != nil {
		metrics.RecordError("store", "unavailable")
		s.logger.Error(ctx, "store unavailable, rejecting batch", logger.Int("events", len(events)), logger.Error(err))
		return model.BatchResult{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	log := s.logger.With(logger.String("batch", uuid.NewString()))
	log.Info(ctx, "batch received", logger.Int("events", len(events)))

	results := make([]model.Result, len(events))
	errs := s.scheduler.Run(ctx, len(events), func(ctx context.Context, i int) error {
		results[i] = s.processEvent(ctx, log, events[i])
		return nil
	})
	for i, err := range errs {
		if err != nil {
			results[i] = model.Result{EntityID: events[i].EntityID, Status: model.StatusFailed, Error: err.Error()}
			s.countStatus(model.StatusFailed)
		}
	}

	s.batches.Add(1)
	elapsed := time.Since(start)
	metrics.RecordBatch(len(events), float64(elapsed.Milliseconds()))
	log.Info(ctx, "batch done", logger.Int("events", len(events)), logger.Duration("elapsed", elapsed))

	return model.BatchResult{Processed: len(events), Results: results}, nil
}

func (s *Service) processEvent(ctx context.Context, log logger.Logger, ev model.Event) (res model.Result) {
	start := time.Now()
	res.EntityID = ev.EntityID
	defer func() {
		if res.Status == "" {
			return
		}
		metrics.RecordEvent(string(res.Status), float64(time.Since(start).Milliseconds()))
		s.countStatus(res.Status)
		log.Debug(ctx, "event done", logger.String("entityId", res.EntityID), logger.String("status", string(res.Status)))
	}()

	fail := func(err error) model.Result {
		res.Status = model.StatusFailed
		res.Error = err.Error()
		log.Warn(ctx, "event failed", logger.String("entityId", ev.EntityID), logger.Error(err))
		return res
	}

	if ev.EntityID == "" {
		return fail(errors.New("missing entity id"))
	}

	seen, claimed := s.deduper.SeenAndRecord(ctx, ev.EntityID)
	if seen {
		metrics.RecordInflightDuplicate()
		res.Status = model.StatusDuplicate
		return res
	}
	if claimed {
		defer s.deduper.Unrecord(ctx, ev.EntityID)
	}

	exists, err := s.store.Exists(ctx, ev.EntityID)
	if err != nil {
		return fail(fmt.Errorf("check existing record: %w", err))
	}
	if exists {
		res.Status = model.StatusDuplicate
		return res
	}

	meta, err := s.resolver.Resolve(ctx, ev.EntityID)
	switch {
	case errors.Is(err, model.ErrNotFound):
		res.Status = model.StatusSkippedNotFound
		return res
	case err != nil:
		metrics.RecordError("crm", "resolve")
		return fail(fmt.Errorf("resolve metadata: %w", err))
	}

	concept := quota.Normalize(meta.Concept)
	if concept == "" {
		res.Status = model.StatusSkippedNoConcept
		return res
	}
	res.Concept = concept
	if meta.ContactID == "" && s.policy.RequireContact {
		res.Status = model.StatusSkippedNoContact
		return res
	}
	limit, ok := s.limits.Lookup(concept)
	if !ok {
		res.Status = model.StatusSkippedUnknownConcept
		return res
	}

	date := s.policy.ControlDate(meta.CloseDate, s.now())
	res.ControlDate = date

	dec, err := s.decide(ctx, log, ev.EntityID, concept, meta.ContactID, date, limit)
	switch {
	case errors.Is(err, repository.ErrDuplicate):
		res.Status = model.StatusDuplicate
		return res
	case err != nil:
		metrics.RecordError("store", "decide")
		return fail(fmt.Errorf("persist decision: %w", err))
	}
	metrics.RecordDecision(concept, dec.Eligible)
	res.Eligible = &dec.Eligible
	res.UsedToday = &dec.UsedToday
	res.Limit = &dec.Limit

	if err := s.publisher.Publish(ctx, ev.EntityID, dec.Eligible); err != nil {
		metrics.RecordError("crm", "publish")
		log.Warn(ctx, "publish failed, decision kept",
			logger.String("entityId", ev.EntityID),
			logger.Bool("eligible", dec.Eligible),
			logger.Error(err),
		)
		res.Status = model.StatusPublishFailed
		res.Error = err.Error()
		return res
	}

	log.Info(ctx, "decision published",
		logger.String("entityId", ev.EntityID),
		logger.String("concept", concept),
		logger.String("controlDate", date),
		logger.Bool("eligible", dec.Eligible),
		logger.Int("usedToday", dec.UsedToday),
		logger.Int("limit", dec.Limit),
	)
	res.Status = model.StatusDone
	return res
}

// decide evaluates and persists one decision while holding the concept and
// contact locks. The counter increment goes first so that, on SQL stores,
// its row lock also serializes deciders running in other processes. A
// duplicate insert rolls the whole transaction back, increment included.
func (s *Service) decide(ctx context.Context, log logger.Logger, id, concept, contactID, date string, limit int) (quota.Decision, error) {
	guarded := s.policy.GuardsContact(contactID)
	keys := []string{lock.ConceptKey(concept, date)}
	if guarded {
		keys = append(keys, lock.ContactKey(contactID, date))
	}

	lockStart := time.Now()
	release, err := s.locker.Lock(ctx, keys...)
	if err != nil {
		return quota.Decision{}, err
	}
	metrics.RecordLockWait(float64(time.Since(lockStart).Milliseconds()))
	defer func() {
		if err := release(ctx); err != nil {
			log.Warn(ctx, "lock release failed", logger.String("entityId", id), logger.Error(err))
		}
	}()

	var dec quota.Decision
	err = s.store.Tx(ctx, func(o repository.Ops) error {
		if err := o.IncrementCounter(ctx, concept, date, limit); err != nil {
			return err
		}
		used, err := o.CountEligible(ctx, concept, date)
		if err != nil {
			return err
		}
		surveyed := 0
		if guarded {
			if surveyed, err = o.CountEligibleForContact(ctx, contactID, date); err != nil {
				return err
			}
		}
		dec = quota.Evaluate(quota.Counts{UsedToday: used, ContactSurveyed: surveyed}, limit)
		return o.InsertRecord(ctx, model.EligibilityRecord{
			ID:          id,
			ContactID:   contactID,
			Concept:     concept,
			Eligible:    dec.Eligible,
			CreatedAt:   s.now(),
			ControlDate: date,
		})
	})
	return dec, err
}

// DailyCounters reports today's per-concept volume in the policy time zone.
func (s *Service) DailyCounters(ctx context.Context) ([]model.ConceptCounter, error) {
	return s.store.DailyCounters(ctx, s.policy.ControlDate(time.Time{}, s.now()))
}

// Ready reports whether the store can be reached.
func (s *Service) Ready(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Service) countStatus(st model.Status) {
	s.mu.Lock()
	s.byStatus[st]++
	s.mu.Unlock()
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.Lock()
	statuses := make(map[string]int64, len(s.byStatus))
	var events int64
	for st, n := range s.byStatus {
		statuses[string(st)] = n
		events += n
	}
	s.mu.Unlock()

	return map[string]interface{}{
		"batches":        s.batches.Load(),
		"events":         events,
		"statuses":       statuses,
		"inflight":       s.deduper.Size(),
		"concepts":       s.limits.Len(),
		"contactGuard":   s.policy.ContactGuard,
		"requireContact": s.policy.RequireContact,
		"bucketing":      s.policy.Bucketing,
	}
}
