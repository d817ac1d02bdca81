package repositories

import "errors"

// ErrNotFound is returned when a record does not exist. Implementations
// translate their driver's not-found error to this one so callers never
// depend on gorm directly.
var ErrNotFound = errors.New("record not found")

// IsNotFound reports whether err means a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
