package storage

import "fmt"

// IOError reports a filesystem failure while checking or writing an extract.
type IOError struct {
	Op   string // "stat", "mkdir", "write", "rename"
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
