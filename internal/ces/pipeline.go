package ces

import (
	"context"
	"errors"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/censo_downloader/internal/archive"
	"github.com/italolelis/censo_downloader/internal/charset"
	"github.com/italolelis/censo_downloader/internal/integrity"
	"github.com/italolelis/censo_downloader/internal/logctx"
	"github.com/italolelis/censo_downloader/internal/microdata"
	"github.com/italolelis/censo_downloader/internal/telemetry"
)

// Fetcher downloads the raw archive of a year.
type Fetcher interface {
	Fetch(ctx context.Context, year int) ([]byte, error)
}

// Extractor selects one entry from raw archive bytes.
type Extractor interface {
	SelectEntry(ctx context.Context, raw []byte, familyPrefix, tableToken string) (*archive.Entry, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, raw []byte, familyPrefix, tableToken string) (*archive.Entry, error)

func (f ExtractorFunc) SelectEntry(ctx context.Context, raw []byte, familyPrefix, tableToken string) (*archive.Entry, error) {
	return f(ctx, raw, familyPrefix, tableToken)
}

// Verifier checks extracted bytes against the reference digests.
type Verifier interface {
	Verify(data []byte, table microdata.Table, year int) error
	Lookup(table microdata.Table, year int) (string, bool)
}

// Store persists extracts at a path derived from table and year.
type Store interface {
	PathFor(table microdata.Table, year int) string
	Exists(ctx context.Context, table microdata.Table, year int) (bool, error)
	Write(ctx context.Context, table microdata.Table, year int, text string) error
}

// Result describes what EnsureData did for one year.
type Result struct {
	Year   int
	Table  microdata.Table
	Path   string
	Cached bool // the extract was already on disk, nothing was downloaded
	Entry  string
	Digest string
	Bytes  int64 // size of the extracted entry before normalization
}

// Pipeline runs fetch, extract, verify, normalize and persist for a year.
// It holds no per-year state, so one Pipeline serves every year concurrently.
type Pipeline struct {
	table     microdata.Table
	fetcher   Fetcher
	extractor Extractor
	verifier  Verifier
	store     Store
	telemetry *telemetry.Telemetry
}

// NewPipeline builds the pipeline for the cursos table. A nil extractor runs
// archive.SelectEntry on the calling goroutine; tel may be nil.
func NewPipeline(fetcher Fetcher, extractor Extractor, verifier Verifier, store Store, tel *telemetry.Telemetry) *Pipeline {
	if extractor == nil {
		extractor = ExtractorFunc(archive.SelectEntry)
	}

	return &Pipeline{
		table:     microdata.Cursos,
		fetcher:   fetcher,
		extractor: extractor,
		verifier:  verifier,
		store:     store,
		telemetry: tel,
	}
}

// Table returns the table this pipeline materializes.
func (p *Pipeline) Table() microdata.Table {
	return p.table
}

// Path returns where the extract for c is stored.
func (p *Pipeline) Path(c Ces) string {
	return p.store.PathFor(p.table, c.Year())
}

// AlreadyDownloaded reports whether the extract for c is on disk. It never
// touches the network and does not re-verify the file.
func (p *Pipeline) AlreadyDownloaded(ctx context.Context, c Ces) (bool, error) {
	return p.store.Exists(ctx, p.table, c.Year())
}

// EnsureData makes sure the extract for c exists, downloading it if needed.
// Stages run strictly in order and the first failure stops the pipeline with
// a *StageError; nothing is retried.
func (p *Pipeline) EnsureData(ctx context.Context, c Ces) (*Result, error) {
	ctx = logctx.WithAttrs(ctx, "year", c.Year(), "table", p.table.Slug())

	var res *Result

	err := p.telemetry.InstrumentYear(ctx, p.table.Slug(), c.Year(), func(ctx context.Context) error {
		var err error

		res, err = p.ensure(ctx, c)

		return err
	})

	outcome := "materialized"

	switch {
	case err != nil:
		outcome = "failed"
	case res.Cached:
		outcome = "cached"
	}

	p.telemetry.RecordYear(ctx, p.table.Slug(), outcome)

	return res, err
}

func (p *Pipeline) ensure(ctx context.Context, c Ces) (*Result, error) {
	logger := logctx.LoggerFromContext(ctx)
	year := c.Year()
	res := &Result{Year: year, Table: p.table, Path: p.Path(c)}

	var exists bool

	if err := p.stage(ctx, c, StageCheck, func(ctx context.Context) error {
		var err error

		exists, err = p.AlreadyDownloaded(ctx, c)

		return err
	}); err != nil {
		return nil, err
	}

	if exists {
		logger.Info("data already exists", "path", res.Path)

		res.Cached = true

		return res, nil
	}

	logger.Info("downloading data")

	var raw []byte

	if err := p.stage(ctx, c, StageFetch, func(ctx context.Context) error {
		var err error

		raw, err = p.fetcher.Fetch(ctx, year)

		return err
	}); err != nil {
		return nil, err
	}

	logger.Debug("extracting zip files", "archive_size", humanize.Bytes(uint64(len(raw))))

	var entry *archive.Entry

	if err := p.stage(ctx, c, StageExtract, func(ctx context.Context) error {
		var err error

		entry, err = p.extractor.SelectEntry(ctx, raw, microdata.FamilyPrefix, p.table.Token())
		if errors.Is(err, archive.ErrEntryNotFound) {
			p.logMembers(ctx, raw)
		}

		return err
	}); err != nil {
		return nil, err
	}

	res.Entry = entry.Name
	res.Bytes = int64(len(entry.Data))
	p.telemetry.RecordExtracted(ctx, p.table.Slug(), res.Bytes)

	if err := p.stage(ctx, c, StageVerify, func(ctx context.Context) error {
		return p.verifier.Verify(entry.Data, p.table, year)
	}); err != nil {
		p.recordVerificationFailure(ctx, err)

		return nil, err
	}

	res.Digest, _ = p.verifier.Lookup(p.table, year)
	logger.Debug("correct digest", "entry", entry.Name, "digest", res.Digest)

	var text string

	if err := p.stage(ctx, c, StageNormalize, func(context.Context) error {
		text = charset.ToUTF8(entry.Data)

		return nil
	}); err != nil {
		return nil, err
	}

	if err := p.stage(ctx, c, StagePersist, func(ctx context.Context) error {
		return p.store.Write(ctx, p.table, year, text)
	}); err != nil {
		return nil, err
	}

	logger.Info("data downloaded", "path", res.Path, "size", humanize.Bytes(uint64(res.Bytes)))

	return res, nil
}

func (p *Pipeline) stage(ctx context.Context, c Ces, stage Stage, fn func(ctx context.Context) error) error {
	err := p.telemetry.InstrumentStage(ctx, string(stage), fn)
	if err != nil {
		logctx.LoggerFromContext(ctx).Error("stage failed", "stage", stage, "err", err)

		return &StageError{Year: c.Year(), Table: p.table, Stage: stage, Err: err}
	}

	return nil
}

func (p *Pipeline) recordVerificationFailure(ctx context.Context, err error) {
	reason := "mismatch"
	if errors.Is(err, integrity.ErrNoReferenceDigest) {
		reason = "no_reference"
	}

	p.telemetry.RecordVerificationFailure(ctx, p.table.Slug(), reason)
}

// logMembers lists the archive so a renamed entry can be spotted from the logs.
func (p *Pipeline) logMembers(ctx context.Context, raw []byte) {
	logger := logctx.LoggerFromContext(ctx)

	names, err := archive.ListEntries(raw)
	if err != nil {
		logger.Warn("failed to list archive members", "err", err)

		return
	}

	logger.Warn("no matching entry in archive",
		"family_prefix", microdata.FamilyPrefix,
		"table_token", p.table.Token(),
		"members", names)
}
