package constraint

import (
	"errors"
	"fmt"
)

// Failure taxonomy surfaced to the API layer. Persistence errors wrap one
// of these sentinels so callers can classify with errors.Is; evaluation
// never raises them — unresolved fields fold into a false comparison.
var (
	// ErrNotFound: no current version exists for the constraint id.
	ErrNotFound = errors.New("constraint not found")

	// ErrStoreUnavailable: transient store failure, retryable by the caller.
	ErrStoreUnavailable = errors.New("constraint store unavailable")

	// ErrCacheUnavailable: transient cache failure, retryable by the caller.
	ErrCacheUnavailable = errors.New("constraint cache unavailable")

	// ErrVersionConflict: a concurrent writer appended the same version
	// first. Re-read the current version and retry.
	ErrVersionConflict = errors.New("constraint version conflict")
)

// ValidationError rejects a malformed constraint definition before it is
// persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid constraint: %s %s", e.Field, e.Reason)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
