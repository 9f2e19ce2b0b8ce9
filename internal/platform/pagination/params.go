package pagination

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize is the fallback number of items returned when the
	// client omits page_size.
	DefaultPageSize = 20
	// DefaultMaxPageSize caps page_size to keep Firestore queries bounded.
	DefaultMaxPageSize = 100
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid page_size")
	ErrInvalidPageToken = errors.New("pagination: invalid page_token")
)

// Cursor carries the Firestore query boundary encoded into page tokens.
type Cursor struct {
	StartAfter []any `json:"startAfter,omitempty"`
	StartAt    []any `json:"startAt,omitempty"`
}

// ParsePageSize validates a raw page_size query value. An empty value yields
// fallback; values outside [1, max] are rejected rather than clamped so
// clients learn about the cap. Non-positive fallback and max select the
// package defaults.
func ParsePageSize(raw string, fallback, max int) (int, error) {
	if max <= 0 {
		max = DefaultMaxPageSize
	}
	if fallback <= 0 {
		fallback = DefaultPageSize
	}
	if fallback > max {
		fallback = max
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: must be an integer", ErrInvalidPageSize)
	}
	if value <= 0 || value > max {
		return 0, fmt.Errorf("%w: must be between 1 and %d", ErrInvalidPageSize, max)
	}
	return value, nil
}
