package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/furnishop/commerce/internal/repositories"
)

// Error taxonomy shared by every service. Handlers map each class to one HTTP status.
var (
	// ErrInvalidInput signals the caller provided malformed data.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound indicates the referenced order, dispute or review does not exist.
	ErrNotFound = errors.New("not found")
	// ErrForbidden indicates the actor lacks ownership or role authorization.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidState indicates the action is not satisfiable in the current status.
	ErrInvalidState = errors.New("invalid state")
	// ErrConflict indicates a concurrent write won the race on the expected status.
	ErrConflict = errors.New("conflict")
	// ErrUpstreamUnavailable indicates the order service could not be reached in time.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

var (
	ErrOrderInvalidInput = fmt.Errorf("order: %w", ErrInvalidInput)
	ErrOrderNotFound     = fmt.Errorf("order: %w", ErrNotFound)
	ErrOrderForbidden    = fmt.Errorf("order: %w", ErrForbidden)
	ErrOrderInvalidState = fmt.Errorf("order: %w", ErrInvalidState)
	ErrOrderConflict     = fmt.Errorf("order: %w", ErrConflict)
	ErrOrderUnavailable  = fmt.Errorf("order: %w", ErrUpstreamUnavailable)

	ErrDisputeInvalidInput = fmt.Errorf("dispute: %w", ErrInvalidInput)
	ErrDisputeNotFound     = fmt.Errorf("dispute: %w", ErrNotFound)
	ErrDisputeForbidden    = fmt.Errorf("dispute: %w", ErrForbidden)
	ErrDisputeInvalidState = fmt.Errorf("dispute: %w", ErrInvalidState)
	ErrDisputeConflict     = fmt.Errorf("dispute: %w", ErrConflict)

	ErrReviewInvalidInput = fmt.Errorf("review: %w", ErrInvalidInput)
	ErrReviewForbidden    = fmt.Errorf("review: %w", ErrForbidden)
	ErrReviewInvalidState = fmt.Errorf("review: %w", ErrInvalidState)
)

// repositoryErrorMapping names the domain errors a service reports for each repository class.
type repositoryErrorMapping struct {
	notFound    error
	conflict    error
	unavailable error
}

// mapRepositoryError translates RepositoryError classes into the taxonomy. Context errors pass
// through untouched so callers can tell cancellation from failure.
func (m repositoryErrorMapping) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound() && m.notFound != nil:
			return fmt.Errorf("%w: %v", m.notFound, err)
		case repoErr.IsConflict() && m.conflict != nil:
			return fmt.Errorf("%w: %v", m.conflict, err)
		case repoErr.IsUnavailable() && m.unavailable != nil:
			return fmt.Errorf("%w: %v", m.unavailable, err)
		}
	}
	return err
}
