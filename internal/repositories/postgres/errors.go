package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// Error carries repository classification for PostgreSQL failures.
type Error struct {
	op          string
	err         error
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("postgres %s: %v", e.op, e.err)
}

func (e *Error) Unwrap() error { return e.err }

func (e *Error) IsNotFound() bool { return e != nil && e.notFound }

func (e *Error) IsConflict() bool { return e != nil && e.conflict }

func (e *Error) IsUnavailable() bool { return e != nil && e.unavailable }

// wrapError classifies gorm errors. Unknown failures are treated as an unavailable database.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var repoErr *Error
	if errors.As(err, &repoErr) {
		return err
	}

	e := &Error{op: op, err: err}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		e.notFound = true
	case errors.Is(err, gorm.ErrDuplicatedKey), errors.Is(err, gorm.ErrForeignKeyViolated):
		e.conflict = true
	default:
		e.unavailable = true
	}
	return e
}
