package replay

import "errors"

// Sentinel errors.
var (
	ErrNoIDs     = errors.New("no deal ids to replay")
	ErrUnhealthy = errors.New("service is not healthy")
	ErrRejected  = errors.New("service rejected the request")
)
