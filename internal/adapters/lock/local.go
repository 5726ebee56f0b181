package lock

import (
	"context"
	"fmt"
	"sync"
)

// slot is a one-token channel semaphore shared by every waiter of a key.
type slot struct {
	sem  chan struct{}
	refs int
}

// Local is an in-process Locker.
type Local struct {
	mu    sync.Mutex
	slots map[string]*slot
}

// NewLocal creates a Local locker.
func NewLocal() *Local {
	return &Local{slots: make(map[string]*slot)}
}

// Lock blocks until every key is held or ctx is done. Keys are taken in
// sorted order so overlapping callers cannot deadlock.
func (l *Local) Lock(ctx context.Context, keys ...string) (Release, error) {
	keys = normalizeKeys(keys)
	held := make([]string, 0, len(keys))
	for _, k := range keys {
		if err := l.acquire(ctx, k); err != nil {
			l.releaseAll(held)
			return nil, fmt.Errorf("%w: %s: %w", ErrNotObtained, k, err)
		}
		held = append(held, k)
	}
	var once sync.Once
	return func(context.Context) error {
		once.Do(func() { l.releaseAll(held) })
		return nil
	}, nil
}

// Held returns the number of keys with a holder or a waiter.
func (l *Local) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}

func (l *Local) acquire(ctx context.Context, key string) error {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{sem: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.unref(key)
		return ctx.Err()
	}
}

func (l *Local) releaseAll(keys []string) {
	for i := len(keys) - 1; i >= 0; i-- {
		l.mu.Lock()
		s := l.slots[keys[i]]
		l.mu.Unlock()
		<-s.sem
		l.unref(keys[i])
	}
}

func (l *Local) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.slots[key]
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}
