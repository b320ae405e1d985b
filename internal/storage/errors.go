package storage

import "errors"

// ErrNotFound is returned when a subscription does not exist.
var ErrNotFound = errors.New("subscription not found")
