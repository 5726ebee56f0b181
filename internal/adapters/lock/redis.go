package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"github.com/okian/encuesta/pkg/logger"
)

// Redis is a Locker shared by every instance pointed at the same Redis.
type Redis struct {
	client  *redislock.Client
	prefix  string
	ttl     time.Duration
	backoff time.Duration
	retries int
	log     logger.Logger
}

// Option configures Redis.
type Option func(*Redis)

// WithTTL bounds how long a crashed holder can keep a key.
func WithTTL(ttl time.Duration) Option {
	return func(r *Redis) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithRetry sets the linear backoff between attempts and their number.
func WithRetry(backoff time.Duration, retries int) Option {
	return func(r *Redis) {
		if backoff > 0 && retries > 0 {
			r.backoff = backoff
			r.retries = retries
		}
	}
}

// WithPrefix namespaces keys in Redis.
func WithPrefix(prefix string) Option {
	return func(r *Redis) { r.prefix = prefix }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Redis) {
		if l != nil {
			r.log = l
		}
	}
}

// NewRedis builds a distributed Locker on rdb.
func NewRedis(rdb redis.UniversalClient, opts ...Option) *Redis {
	r := &Redis{
		client:  redislock.New(rdb),
		prefix:  "encuesta:lock:",
		ttl:     5 * time.Second,
		backoff: 25 * time.Millisecond,
		retries: 200,
		log:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Lock obtains a Redis lease per key, in sorted order, retrying until ctx is
// done. Leases already obtained are released when a later key fails.
func (r *Redis) Lock(ctx context.Context, keys ...string) (Release, error) {
	keys = normalizeKeys(keys)
	held := make([]*redislock.Lock, 0, len(keys))
	opts := &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(r.backoff), r.retries),
	}
	for _, k := range keys {
		l, err := r.client.Obtain(ctx, r.prefix+k, r.ttl, opts)
		if err != nil {
			r.releaseAll(context.WithoutCancel(ctx), held)
			if errors.Is(err, redislock.ErrNotObtained) {
				return nil, fmt.Errorf("%w: %s", ErrNotObtained, k)
			}
			return nil, fmt.Errorf("%w: %s: %w", ErrNotObtained, k, err)
		}
		held = append(held, l)
	}
	return func(ctx context.Context) error {
		return r.releaseAll(ctx, held)
	}, nil
}

func (r *Redis) releaseAll(ctx context.Context, held []*redislock.Lock) error {
	var errs []error
	for i := len(held) - 1; i >= 0; i-- {
		if err := held[i].Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			r.log.Warn(ctx, "release lock failed", logger.String("key", held[i].Key()), logger.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
