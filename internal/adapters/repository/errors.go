package repository

import "errors"

var (
	// ErrDuplicate is returned when a record with the same id already exists.
	ErrDuplicate = errors.New("duplicate eligibility record")
	// ErrClosed is returned by a store after Close.
	ErrClosed = errors.New("store closed")
	// ErrUnsupportedDriver is returned for an unknown SQL driver name.
	ErrUnsupportedDriver = errors.New("unsupported store driver")
)
