// Package frame exposes a persisted extract as a lazily read table.
package frame

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
)

// Delimiter used by every INEP microdata file.
const Delimiter = ';'

// ErrUnknownColumn is returned when a projected column is not in the header.
var ErrUnknownColumn = errors.New("frame: unknown column")

// Frame reads rows from a delimited file on demand. Nothing is opened until
// the first call to Header or Next. A Frame is not safe for concurrent use.
type Frame struct {
	path    string
	delim   rune
	file    *os.File
	reader  *csv.Reader
	header  []string
	project []int
}

// Scan returns a Frame over path without touching the filesystem.
func Scan(path string, delim rune) *Frame {
	return &Frame{path: path, delim: delim}
}

// Path returns the file backing the frame.
func (f *Frame) Path() string {
	return f.path
}

func (f *Frame) open() error {
	if f.reader != nil {
		return nil
	}

	file, err := os.Open(f.path)
	if err != nil {
		return fmt.Errorf("frame: %w", err)
	}

	r := csv.NewReader(file)
	r.Comma = f.delim
	r.LazyQuotes = true

	header, err := r.Read()
	if err != nil {
		file.Close()

		if errors.Is(err, io.EOF) {
			return fmt.Errorf("frame: %s has no header", f.path)
		}

		return fmt.Errorf("frame: failed to read header: %w", err)
	}

	f.file = file
	f.reader = r
	f.header = header

	return nil
}

// Header returns the column names, honoring any projection.
func (f *Frame) Header() ([]string, error) {
	if err := f.open(); err != nil {
		return nil, err
	}

	if f.project == nil {
		return slices.Clone(f.header), nil
	}

	out := make([]string, len(f.project))
	for i, idx := range f.project {
		out[i] = f.header[idx]
	}

	return out, nil
}

// Select restricts the rows returned by Next to the named columns in order.
func (f *Frame) Select(columns ...string) error {
	if err := f.open(); err != nil {
		return err
	}

	project := make([]int, 0, len(columns))

	for _, col := range columns {
		idx := slices.Index(f.header, col)
		if idx < 0 {
			return fmt.Errorf("%w: %q", ErrUnknownColumn, col)
		}

		project = append(project, idx)
	}

	f.project = project

	return nil
}

// Next returns the next row, or io.EOF once the file is exhausted.
func (f *Frame) Next() ([]string, error) {
	if err := f.open(); err != nil {
		return nil, err
	}

	row, err := f.reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}

		return nil, fmt.Errorf("frame: %w", err)
	}

	if f.project == nil {
		return row, nil
	}

	out := make([]string, len(f.project))
	for i, idx := range f.project {
		out[i] = row[idx]
	}

	return out, nil
}

// Collect reads up to limit rows; a non-positive limit reads everything.
func (f *Frame) Collect(limit int) ([][]string, error) {
	var rows [][]string

	for limit <= 0 || len(rows) < limit {
		row, err := f.Next()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return rows, err
		}

		rows = append(rows, row)
	}

	return rows, nil
}

// Close releases the underlying file. It is safe to call more than once.
func (f *Frame) Close() error {
	if f.file == nil {
		return nil
	}

	err := f.file.Close()
	f.file = nil

	return err
}
