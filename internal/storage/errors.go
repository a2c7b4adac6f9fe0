package storage

import "errors"

// Storage errors shared by every driver.
var (
	// ErrDuplicateKey is returned when an insert hits a unique constraint.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrStaleWrite is returned when a compare-and-set update matched no row
	// because the stored value changed since it was read.
	ErrStaleWrite = errors.New("stale write")
)
