package store

import "errors"

var (
	// ErrPermanentFailure means initialization exhausted its retry budget or
	// the storage engine is unusable on this device. Every store operation
	// fails fast with this error once it is set; nothing resets it short of
	// a process restart.
	ErrPermanentFailure = errors.New("store permanently failed")

	// ErrNotReady means the store has not been initialized yet. Transient;
	// callers may retry or go through Handle for lazy initialization.
	ErrNotReady = errors.New("store not initialized")

	// ErrSchemaTooNew means another context already migrated the database
	// past the versions this build knows. The store closes gracefully
	// instead of touching a schema it does not understand.
	ErrSchemaTooNew = errors.New("database schema is newer than this build")
)

// IsPermanent reports whether err carries the permanently-failed state.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanentFailure)
}
