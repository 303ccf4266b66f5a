package cleanup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/italolelis/censo_downloader/internal/logctx"
	"github.com/italolelis/censo_downloader/internal/storage"
)

// DeleteStaleTempFiles deletes temporary extracts older than maxAge left in dir
// by interrupted writes. A missing dir is not an error. It returns the number
// of files removed.
func DeleteStaleTempFiles(ctx context.Context, dir string, maxAge time.Duration) (int, error) {
	logger := logctx.LoggerFromContext(ctx)
	now := time.Now()

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}

		return 0, &storage.IOError{Op: "list temp files", Path: dir, Err: err}
	}

	removed := 0

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}

		if entry.IsDir() || !storage.IsTempFile(entry.Name()) {
			continue
		}

		filePath := filepath.Join(dir, entry.Name())

		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue // already deleted
			}

			logger.Error("failed to stat temp file", "file", filePath, "err", err)

			return removed, &storage.IOError{Op: "stat temp file", Path: filePath, Err: err}
		}

		if now.Sub(info.ModTime()) <= maxAge {
			continue
		}

		if err := os.Remove(filePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Error("failed to delete stale temp file", "file", filePath, "err", err)

			return removed, &storage.IOError{Op: "remove temp file", Path: filePath, Err: err}
		}

		removed++

		logger.Info("deleted stale temp file", "file", filePath, "age", now.Sub(info.ModTime()).Round(time.Second))
	}

	return removed, nil
}
