package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
)

// maxPrealloc caps the buffer reserved from the size declared in the zip header.
const maxPrealloc = 256 << 20

// Entry is a single member extracted from an archive.
type Entry struct {
	Name string
	Data []byte
}

// ListEntries returns the names of every member in central directory order.
func ListEntries(raw []byte) ([]string, error) {
	zr, err := open(raw)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}

	return names, nil
}

// SelectEntry returns the first member whose name contains both familyPrefix and
// tableToken. Matching is case sensitive and follows the central directory order.
func SelectEntry(ctx context.Context, raw []byte, familyPrefix, tableToken string) (*Entry, error) {
	zr, err := open(raw)
	if err != nil {
		return nil, err
	}

	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if !matches(f.Name, familyPrefix, tableToken) {
			continue
		}

		data, err := readEntry(ctx, f)
		if err != nil {
			return nil, err
		}

		return &Entry{Name: f.Name, Data: data}, nil
	}

	return nil, &SelectionError{
		Kind:   ErrEntryNotFound,
		Reason: fmt.Sprintf("no entry contains %q and %q", familyPrefix, tableToken),
	}
}

func matches(name, familyPrefix, tableToken string) bool {
	return strings.Contains(name, familyPrefix) && strings.Contains(name, tableToken)
}

func open(raw []byte) (*zip.Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, &SelectionError{Kind: ErrCorruptArchive, Reason: "failed to open zip", Err: err}
	}

	return zr, nil
}

func readEntry(ctx context.Context, f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, &SelectionError{Kind: ErrCorruptArchive, Reason: "failed to open entry " + f.Name, Err: err}
	}
	defer rc.Close()

	size := f.UncompressedSize64
	if size > maxPrealloc {
		size = maxPrealloc
	}

	buf := bytes.NewBuffer(make([]byte, 0, size))
	if _, err := io.Copy(buf, &ctxReader{ctx: ctx, r: rc}); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return nil, &SelectionError{Kind: ErrCorruptArchive, Reason: "failed to read entry " + f.Name, Err: err}
	}

	return buf.Bytes(), nil
}

// ctxReader stops a long decompression once the context is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}

	return c.r.Read(p)
}
