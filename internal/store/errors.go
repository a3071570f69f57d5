package store

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyExists is returned by Init when a file exists at the path.
	ErrAlreadyExists = errors.New("database already exists")
	// ErrNotFound is returned by OpenReadOnly when the database does not exist.
	ErrNotFound = errors.New("database does not exist")
	// ErrMissingTotalEnergy is returned by Insert for readings without a total
	// energy value. Nothing is written.
	ErrMissingTotalEnergy = errors.New("reading has no total energy")
)

// QueryError wraps a driver error raised while running a read-only query,
// e.g. malformed SQL or an attempted write.
type QueryError struct {
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query failed: %v", e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// UnexpectedTypeError is returned when a query yields a value that is neither
// an integer, a real nor null.
type UnexpectedTypeError struct {
	Column string
	Type   string
}

func (e *UnexpectedTypeError) Error() string {
	return fmt.Sprintf("unexpected column type %q in column %q", e.Type, e.Column)
}
