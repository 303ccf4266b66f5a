// Package fleet materializes many years concurrently and reports on all of them.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/italolelis/censo_downloader/internal/ces"
	"github.com/italolelis/censo_downloader/internal/logctx"
	"github.com/italolelis/censo_downloader/internal/microdata"
	"github.com/italolelis/censo_downloader/internal/storage"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// DefaultMaxParallel caps concurrent pipelines when no limit is configured.
const DefaultMaxParallel = 4

// YearPipeline materializes one year.
type YearPipeline interface {
	Table() microdata.Table
	EnsureData(ctx context.Context, c ces.Ces) (*ces.Result, error)
}

// Orchestrator runs one pipeline per year. A year's failure is recorded in the
// report and never cancels the other years.
type Orchestrator struct {
	pipeline YearPipeline
	ledger   storage.Ledger
	slots    *semaphore.Weighted
	newRunID func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLedger records every outcome in l. Cached years inherit the digest and
// size of their last materialization from l.
func WithLedger(l storage.Ledger) Option {
	return func(o *Orchestrator) {
		o.ledger = l
	}
}

// WithRunID overrides how run identifiers are generated.
func WithRunID(fn func() string) Option {
	return func(o *Orchestrator) {
		o.newRunID = fn
	}
}

// New returns an Orchestrator that runs at most maxParallel pipelines at once.
// Each running pipeline holds an open connection and an archive buffer, so the
// limit bounds both.
func New(pipeline YearPipeline, maxParallel int, opts ...Option) *Orchestrator {
	if maxParallel <= 0 {
		maxParallel = DefaultMaxParallel
	}

	o := &Orchestrator{
		pipeline: pipeline,
		slots:    semaphore.NewWeighted(int64(maxParallel)),
		newRunID: uuid.NewString,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Report collects the outcome of every year of a run.
type Report struct {
	RunID    string
	Table    microdata.Table
	Years    []int
	Results  map[int]*ces.Result
	Failures map[int]error
}

// Err returns an *AggregateError when at least one year failed.
func (r *Report) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}

	return &AggregateError{Total: len(r.Years), Failures: r.Failures}
}

// Downloaded returns the years fetched in this run, ascending.
func (r *Report) Downloaded() []int {
	return r.filter(func(res *ces.Result) bool { return !res.Cached })
}

// Cached returns the years that were already on disk, ascending.
func (r *Report) Cached() []int {
	return r.filter(func(res *ces.Result) bool { return res.Cached })
}

func (r *Report) filter(keep func(*ces.Result) bool) []int {
	var years []int

	for y, res := range r.Results {
		if keep(res) {
			years = append(years, y)
		}
	}

	slices.Sort(years)

	return years
}

// EnsureAll materializes every year in years, or every supported year when
// years is empty. Unsupported years are rejected before anything starts. Otherwise every year runs to completion and the
// returned error, if any, is the report's *AggregateError.
func (o *Orchestrator) EnsureAll(ctx context.Context, years []int) (*Report, error) {
	units, err := build(years)
	if err != nil {
		return nil, err
	}

	report := &Report{
		RunID:    o.newRunID(),
		Table:    o.pipeline.Table(),
		Results:  make(map[int]*ces.Result, len(units)),
		Failures: make(map[int]error),
	}

	for _, c := range units {
		report.Years = append(report.Years, c.Year())
	}

	ctx = logctx.WithRunID(ctx, report.RunID)
	logger := logctx.LoggerFromContext(ctx)

	logger.Info("ensuring data", "years", report.Years, "table", report.Table.Slug())

	var (
		mu sync.Mutex
		// goroutines always return nil so that one failure cannot cancel the group
		g errgroup.Group
	)

	for _, c := range units {
		g.Go(func() error {
			res, err := o.run(ctx, c)

			o.record(ctx, report.RunID, c, res, err)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				report.Failures[c.Year()] = err
			} else {
				report.Results[c.Year()] = res
			}

			return nil
		})
	}

	_ = g.Wait()

	o.audit(ctx, report)

	if err := report.Err(); err != nil {
		logger.Error("the data for some years failed", "failed_years", err.(*AggregateError).Years(), "err", err)

		return report, err
	}

	logger.Info("all files are ok", "downloaded", report.Downloaded(), "cached", report.Cached())

	return report, nil
}

func (o *Orchestrator) run(ctx context.Context, c ces.Ces) (res *ces.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			logctx.LoggerFromContext(ctx).Error("pipeline panic",
				"year", c.Year(),
				"panic", r,
				"stack", string(debug.Stack()))

			res, err = nil, fmt.Errorf("[%d] pipeline panic: %v", c.Year(), r)
		}
	}()

	if err := o.slots.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("[%d] not started: %w", c.Year(), err)
	}
	defer o.slots.Release(1)

	return o.pipeline.EnsureData(ctx, c)
}

func (o *Orchestrator) record(ctx context.Context, runID string, c ces.Ces, res *ces.Result, err error) {
	if o.ledger == nil {
		return
	}

	outcome := storage.Outcome{
		RunID: runID,
		Table: o.pipeline.Table().Slug(),
		Year:  c.Year(),
	}

	switch {
	case err != nil:
		outcome.Status = storage.StatusFailed
		outcome.Error = err.Error()

		var stageErr *ces.StageError
		if errors.As(err, &stageErr) {
			outcome.Stage = string(stageErr.Stage)
		}
	case res.Cached:
		outcome.Status = storage.StatusCached
		outcome.Path = res.Path

		// the file on disk came from an earlier run, keep pointing at what it was verified against
		last, lerr := o.ledger.LastMaterialized(context.WithoutCancel(ctx), outcome.Table, outcome.Year)
		if lerr != nil {
			logctx.LoggerFromContext(ctx).Warn("failed to read last materialization", "year", c.Year(), "err", lerr)
		} else if last != nil {
			outcome.Digest = last.Digest
			outcome.Bytes = last.Bytes
		}
	default:
		outcome.Status = storage.StatusMaterialized
		outcome.Path = res.Path
		outcome.Digest = res.Digest
		outcome.Bytes = res.Bytes
	}

	// the ledger is an audit trail, losing a row must not fail the year
	if lerr := o.ledger.RecordOutcome(context.WithoutCancel(ctx), outcome); lerr != nil {
		logctx.LoggerFromContext(ctx).Warn("failed to record outcome", "year", c.Year(), "err", lerr)
	}
}

// audit warns when the ledger lost rows of this run.
func (o *Orchestrator) audit(ctx context.Context, report *Report) {
	if o.ledger == nil {
		return
	}

	logger := logctx.LoggerFromContext(ctx)

	outcomes, err := o.ledger.GetOutcomes(context.WithoutCancel(ctx), report.RunID)
	if err != nil {
		logger.Warn("failed to read back the run ledger", "err", err)

		return
	}

	if len(outcomes) != len(report.Years) {
		logger.Warn("run ledger is incomplete", "recorded", len(outcomes), "years", len(report.Years))

		return
	}

	logger.Debug("run ledger complete", "recorded", len(outcomes))
}

// build validates and deduplicates years, returning them in ascending order.
// No years means every supported year.
func build(years []int) ([]ces.Ces, error) {
	if len(years) == 0 {
		return ces.All(), nil
	}

	sorted := slices.Clone(years)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	units := make([]ces.Ces, 0, len(sorted))

	for _, y := range sorted {
		c, err := ces.New(y)
		if err != nil {
			return nil, err
		}

		units = append(units, c)
	}

	return units, nil
}
