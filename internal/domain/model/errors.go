package model

import "errors"

var (
	// ErrNotFound is returned when the CRM no longer knows the entity.
	ErrNotFound = errors.New("entity not found")
	// ErrNoEvents is returned for an empty webhook body.
	ErrNoEvents = errors.New("no events in payload")
)
