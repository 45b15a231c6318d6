package persistence

import (
	"errors"

	"github.com/lib/pq"
)

// Common persistence errors
var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicate    = errors.New("duplicate entry")
	ErrInvalidInput = errors.New("invalid input")
)

// isUniqueViolation reports whether err is a natural-key collision. Callers
// that expect idempotent repeats treat it as success.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
