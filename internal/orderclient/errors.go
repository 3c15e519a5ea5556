package orderclient

import "fmt"

// Error reports a failed order service call. It satisfies repositories.RepositoryError.
type Error struct {
	Op     string
	Status int
	Err    error

	notFound bool
}

func unavailable(op string, status int, err error) *Error {
	return &Error{Op: op, Status: status, Err: err}
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("orderclient: %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("orderclient: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) IsNotFound() bool { return e.notFound }

func (e *Error) IsConflict() bool { return false }

func (e *Error) IsUnavailable() bool { return !e.notFound }
