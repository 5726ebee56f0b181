// Package lock serializes quota decisions that share a concept or a contact
// on the same day.
package lock

import (
	"context"
	"errors"
	"sort"
)

// ErrNotObtained is returned when a key could not be locked in time.
var ErrNotObtained = errors.New("lock not obtained")

// Release frees every key taken by one Lock call.
type Release func(ctx context.Context) error

// Locker takes a set of keys as one unit.
type Locker interface {
	// Lock blocks until all keys are held or ctx is done. Keys are taken in
	// sorted order so callers sharing keys cannot deadlock.
	Lock(ctx context.Context, keys ...string) (Release, error)
}

// ConceptKey is the lock key of a (concept, day) quota bucket.
func ConceptKey(concept, date string) string {
	return "concept:" + concept + ":" + date
}

// ContactKey is the lock key of a (contact, day) guard.
func ContactKey(contactID, date string) string {
	return "contact:" + contactID + ":" + date
}

// normalizeKeys drops empty and repeated keys and sorts the rest.
func normalizeKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
