package pagination

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid limit")
	ErrInvalidPageToken = errors.New("pagination: invalid pageToken")
)

// ParseLimit reads a limit query value. Empty input returns 0 so callers apply their default;
// values above max are clamped.
func ParseLimit(raw string, max int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: must be an integer", ErrInvalidPageSize)
	}
	if value <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidPageSize)
	}
	if max > 0 && value > max {
		value = max
	}
	return value, nil
}

// Window resolves the page size to use: size when positive, otherwise def, never above max.
func Window(size, def, max int) int {
	if size <= 0 {
		size = def
	}
	if max > 0 && size > max {
		size = max
	}
	return size
}
