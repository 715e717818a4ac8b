package race

import (
	"errors"
	"fmt"
)

// ErrPermissionDenied is returned when the invoker's effective tier is below
// the minimum the command declares. No state is changed.
var ErrPermissionDenied = errors.New("permission denied")

// ValidationError covers malformed manifests, malformed submissions, and
// out-of-range times. Reported to the invoker, no state change.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "validation: " + e.Reason }

func validationf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// OverlapError means one of the manifest's channels is already claimed by
// another group on the same server.
type OverlapError struct {
	ChannelID string
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("channel %s already belongs to a group", e.ChannelID)
}

// NotFoundError covers missing groups, races, and runners.
type NotFoundError struct {
	What string
}

func (e *NotFoundError) Error() string { return e.What + " not found" }

// PersistenceError aborts the whole command; the store write did not apply.
// The core never retries these.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *PersistenceError) Unwrap() error { return e.Err }

func persistence(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsOverlap reports whether err is an OverlapError.
func IsOverlap(err error) bool {
	var oe *OverlapError
	return errors.As(err, &oe)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var ne *NotFoundError
	return errors.As(err, &ne)
}

// IsPersistence reports whether err is a PersistenceError.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
