// ABOUTME: Error taxonomy shared by every storage backend
// ABOUTME: Callers match these with errors.Is; absent lookups return nil values instead
package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument means a required key was missing or malformed.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUnknownIdentity means the owning identity row does not exist.
	ErrUnknownIdentity = fmt.Errorf("%w: unknown identity", ErrInvalidArgument)

	// ErrStorageUnavailable wraps I/O-level failures of the backing store. Not retried by stores.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrMigrationFailure aborts startup.
	ErrMigrationFailure = errors.New("migration failure")
)

// Unavailable wraps err as an ErrStorageUnavailable for operation op.
func Unavailable(op string, err error) error {
	return fmt.Errorf("failed to %s: %w: %w", op, ErrStorageUnavailable, err)
}

// Invalid builds an ErrInvalidArgument with a reason.
func Invalid(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, reason)
}
