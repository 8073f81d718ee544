package repo

import "errors"

var (
	// ErrNotFound reports that the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict reports that an insert collided with a live record
	// holding the same uniqueness key.
	ErrConflict = errors.New("conflict")

	// ErrTerminal reports an attempt to mutate a record that has already
	// reached a terminal status.
	ErrTerminal = errors.New("record is terminal")
)
