package archive

import (
	"errors"
	"fmt"
)

var (
	// ErrCorruptArchive is returned when the buffer cannot be opened as a zip archive
	// or an entry cannot be decompressed.
	ErrCorruptArchive = errors.New("archive: corrupt archive")
	// ErrEntryNotFound is returned when no entry matches the selection filters.
	ErrEntryNotFound = errors.New("archive: entry not found")
)

// SelectionError describes why no entry could be extracted from an archive.
type SelectionError struct {
	Kind   error  // ErrCorruptArchive or ErrEntryNotFound
	Reason string // Human-readable detail, e.g. the filters that were applied
	Err    error  // Underlying error, if any
}

func (e *SelectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}

	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *SelectionError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}

	return []error{e.Kind, e.Err}
}
