package service

import "errors"

// ErrStoreUnavailable aborts a whole batch: no decision can be persisted.
var ErrStoreUnavailable = errors.New("eligibility store unavailable")
