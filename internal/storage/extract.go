package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/italolelis/censo_downloader/internal/microdata"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644

	// DefaultBaseDir is where extracts land when no directory is configured.
	DefaultBaseDir = "input"

	tempMarker = ".tmp-"
)

// Store persists normalized extracts under a base directory. Paths depend
// only on the table and year.
type Store struct {
	baseDir string
}

func NewStore(baseDir string) *Store {
	if baseDir == "" {
		baseDir = DefaultBaseDir
	}

	return &Store{baseDir: baseDir}
}

// BaseDir returns the directory holding the extracts.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// PathFor returns <base>/<slug>.<year>.csv.
func (s *Store) PathFor(table microdata.Table, year int) string {
	return filepath.Join(s.baseDir, fileName(table, year))
}

func fileName(table microdata.Table, year int) string {
	return fmt.Sprintf("%s.%d.csv", table.Slug(), year)
}

// IsTempFile reports whether name follows the pattern of an unfinished write.
func IsTempFile(name string) bool {
	return strings.HasPrefix(name, ".") && strings.Contains(name, tempMarker)
}

// Exists reports whether the extract for table and year is present.
func (s *Store) Exists(ctx context.Context, table microdata.Table, year int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	path := s.PathFor(table, year)

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}

		return false, &IOError{Op: "stat", Path: path, Err: err}
	}

	return true, nil
}

// Write stores text as the extract for table and year. The file is written to
// a temporary name in the same directory and renamed into place, so Exists
// never observes a partial file.
func (s *Store) Write(ctx context.Context, table microdata.Table, year int, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path := s.PathFor(table, year)
	dir := filepath.Dir(path)

	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return &IOError{Op: "mkdir", Path: dir, Err: err}
	}

	tmp, err := os.CreateTemp(dir, "."+fileName(table, year)+tempMarker+"*")
	if err != nil {
		return &IOError{Op: "write", Path: path, Err: err}
	}

	tmpPath := tmp.Name()
	committed := false

	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.WriteString(text); err != nil {
		tmp.Close()

		return &IOError{Op: "write", Path: tmpPath, Err: err}
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()

		return &IOError{Op: "write", Path: tmpPath, Err: err}
	}

	if err := tmp.Close(); err != nil {
		return &IOError{Op: "write", Path: tmpPath, Err: err}
	}

	if err := os.Chmod(tmpPath, filePerm); err != nil {
		return &IOError{Op: "write", Path: tmpPath, Err: err}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return &IOError{Op: "rename", Path: path, Err: err}
	}

	committed = true

	return nil
}
