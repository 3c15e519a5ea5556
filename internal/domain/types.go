package domain

import (
	"errors"
	"strings"
)

// ErrNegativePageSize reports a page size below zero.
var ErrNegativePageSize = errors.New("page size must not be negative")

// Pagination carries keyset paging inputs. PageToken is opaque to callers.
type Pagination struct {
	PageSize  int
	PageToken string
}

// Bounded returns p with a zero size replaced by def and sizes above max capped at max.
func (p Pagination) Bounded(def, max int) (Pagination, error) {
	p.PageToken = strings.TrimSpace(p.PageToken)
	switch {
	case p.PageSize < 0:
		return p, ErrNegativePageSize
	case p.PageSize == 0:
		p.PageSize = def
	case max > 0 && p.PageSize > max:
		p.PageSize = max
	}
	return p, nil
}

// CursorPage is one page of results; an empty NextPageToken marks the last page.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}
