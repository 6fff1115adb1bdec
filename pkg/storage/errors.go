package storage

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("storage: not found")

	// ErrVersionConflict is returned when a state insert loses the
	// optimistic versioning race.
	ErrVersionConflict = errors.New("storage: state version conflict")
)
