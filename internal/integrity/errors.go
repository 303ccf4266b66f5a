package integrity

import (
	"errors"
	"fmt"
)

var (
	// ErrNoReferenceDigest is returned when no pinned digest exists for a table and year.
	ErrNoReferenceDigest = errors.New("integrity: no reference digest")
	// ErrDigestMismatch matches any *MismatchError.
	ErrDigestMismatch = errors.New("integrity: digest mismatch")
)

// VerificationError reports a table/year that cannot be verified at all.
type VerificationError struct {
	Table string
	Year  int
	Err   error
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("cannot verify %s %d: %v", e.Table, e.Year, e.Err)
}

func (e *VerificationError) Unwrap() error {
	return e.Err
}

// MismatchError reports that the computed digest differs from the pinned one.
type MismatchError struct {
	Table    string
	Year     int
	Expected string
	Actual   string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("digest mismatch for %s %d: expected %s, got %s", e.Table, e.Year, e.Expected, e.Actual)
}

func (e *MismatchError) Is(target error) bool {
	return target == ErrDigestMismatch
}
