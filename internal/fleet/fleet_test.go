package fleet

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/italolelis/censo_downloader/internal/ces"
	"github.com/italolelis/censo_downloader/internal/integrity"
	"github.com/italolelis/censo_downloader/internal/logctx"
	"github.com/italolelis/censo_downloader/internal/microdata"
	"github.com/italolelis/censo_downloader/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildArchive(t *testing.T, name string, data []byte) []byte {
	t.Helper()

	var buf bytes.Buffer

	zw := zip.NewWriter(&buf)
	w, err := zw.Create(name)
	require.NoError(t, err)

	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	return buf.Bytes()
}

// archiveFetcher serves one archive per year and tracks how many fetches
// are in flight at once.
type archiveFetcher struct {
	archives map[int][]byte
	delay    time.Duration

	inFlight atomic.Int32
	peak     atomic.Int32
	calls    atomic.Int32
}

func (f *archiveFetcher) Fetch(ctx context.Context, year int) ([]byte, error) {
	f.calls.Add(1)

	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)

	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	raw, ok := f.archives[year]
	if !ok {
		return nil, errors.New("no archive")
	}

	return raw, nil
}

type memoryLedger struct {
	mu       sync.Mutex
	outcomes []storage.Outcome
	err      error
}

func (l *memoryLedger) RecordOutcome(_ context.Context, o storage.Outcome) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.err != nil {
		return l.err
	}

	l.outcomes = append(l.outcomes, o)

	return nil
}

func (l *memoryLedger) GetOutcomes(_ context.Context, runID string) ([]storage.Outcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []storage.Outcome

	for _, o := range l.outcomes {
		if o.RunID == runID {
			out = append(out, o)
		}
	}

	return out, nil
}

func (l *memoryLedger) LastMaterialized(_ context.Context, table string, year int) (*storage.Outcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := len(l.outcomes) - 1; i >= 0; i-- {
		o := l.outcomes[i]
		if o.Table == table && o.Year == year && o.Status == storage.StatusMaterialized {
			return &o, nil
		}
	}

	return nil, nil
}

func (l *memoryLedger) byYear() map[int]storage.Outcome {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[int]storage.Outcome, len(l.outcomes))
	for _, o := range l.outcomes {
		out[o.Year] = o
	}

	return out
}

func entryName(year int) string {
	return "MICRODADOS_CADASTRO_CURSOS_" + strconv.Itoa(year) + ".CSV"
}

// fixture returns a fetcher and digest table where every year in good matches
// its pinned digest and every year in bad does not.
func fixture(t *testing.T, good, bad []int) (*archiveFetcher, *integrity.Digests) {
	t.Helper()

	fetcher := &archiveFetcher{archives: map[int][]byte{}}
	pinned := map[int]string{}

	for _, y := range good {
		content := []byte("CO_CURSO;ANO\n1;" + strconv.Itoa(y) + "\n")
		fetcher.archives[y] = buildArchive(t, entryName(y), content)
		pinned[y] = integrity.Digest(content)
	}

	for _, y := range bad {
		content := []byte("CO_CURSO;ANO\n1;" + strconv.Itoa(y) + "\n")
		fetcher.archives[y] = buildArchive(t, entryName(y), content)
		pinned[y] = integrity.Digest([]byte("something else"))
	}

	return fetcher, integrity.NewDigests(map[string]map[int]string{microdata.Cursos.Slug(): pinned})
}

func TestEnsureAll_FailureIsolation(t *testing.T) {
	fetcher, digests := fixture(t, []int{2010}, []int{2009})
	store := storage.NewStore(t.TempDir())
	ledger := &memoryLedger{}

	orch := New(ces.NewPipeline(fetcher, nil, digests, store, nil), 2,
		WithLedger(ledger),
		WithRunID(func() string { return "run-1" }))

	report, err := orch.EnsureAll(context.Background(), []int{2009, 2010})
	require.Error(t, err)

	var agg *AggregateError
	require.ErrorAs(t, err, &agg)
	assert.Equal(t, []int{2009}, agg.Years())
	assert.ErrorIs(t, err, integrity.ErrDigestMismatch)

	require.NotNil(t, report)
	assert.Equal(t, "run-1", report.RunID)
	assert.Equal(t, []int{2009, 2010}, report.Years)
	assert.Contains(t, report.Results, 2010)
	assert.NotContains(t, report.Results, 2009)
	assert.Equal(t, []int{2010}, report.Downloaded())

	var stageErr *ces.StageError
	require.ErrorAs(t, report.Failures[2009], &stageErr)
	assert.Equal(t, ces.StageVerify, stageErr.Stage)

	_, statErr := os.Stat(store.PathFor(microdata.Cursos, 2010))
	assert.NoError(t, statErr)

	_, statErr = os.Stat(store.PathFor(microdata.Cursos, 2009))
	assert.True(t, os.IsNotExist(statErr))

	outcomes := ledger.byYear()
	require.Len(t, outcomes, 2)
	assert.Equal(t, storage.StatusFailed, outcomes[2009].Status)
	assert.Equal(t, string(ces.StageVerify), outcomes[2009].Stage)
	assert.Equal(t, storage.StatusMaterialized, outcomes[2010].Status)
	assert.Equal(t, "run-1", outcomes[2010].RunID)
	assert.NotEmpty(t, outcomes[2010].Digest)
}

func TestEnsureAll_SecondRunIsCached(t *testing.T) {
	fetcher, digests := fixture(t, []int{2011, 2012}, nil)
	store := storage.NewStore(t.TempDir())
	orch := New(ces.NewPipeline(fetcher, nil, digests, store, nil), 2)

	_, err := orch.EnsureAll(context.Background(), []int{2011, 2012})
	require.NoError(t, err)
	assert.EqualValues(t, 2, fetcher.calls.Load())

	report, err := orch.EnsureAll(context.Background(), []int{2012, 2011})
	require.NoError(t, err)
	assert.EqualValues(t, 2, fetcher.calls.Load())
	assert.Equal(t, []int{2011, 2012}, report.Cached())
	assert.Empty(t, report.Downloaded())
	assert.NoError(t, report.Err())
}

func TestEnsureAll_BoundsParallelism(t *testing.T) {
	years := []int{2009, 2010, 2011, 2012, 2013, 2014}
	fetcher, digests := fixture(t, years, nil)
	fetcher.delay = 20 * time.Millisecond

	orch := New(ces.NewPipeline(fetcher, nil, digests, storage.NewStore(t.TempDir()), nil), 2)

	report, err := orch.EnsureAll(context.Background(), years)
	require.NoError(t, err)
	assert.Len(t, report.Results, len(years))
	assert.LessOrEqual(t, fetcher.peak.Load(), int32(2))
	assert.EqualValues(t, len(years), fetcher.calls.Load())
}

func TestEnsureAll_DeduplicatesYears(t *testing.T) {
	fetcher, digests := fixture(t, []int{2015}, nil)
	orch := New(ces.NewPipeline(fetcher, nil, digests, storage.NewStore(t.TempDir()), nil), 0)

	report, err := orch.EnsureAll(context.Background(), []int{2015, 2015, 2015})
	require.NoError(t, err)
	assert.Equal(t, []int{2015}, report.Years)
	assert.EqualValues(t, 1, fetcher.calls.Load())
}

func TestEnsureAll_ConstructionErrorStartsNothing(t *testing.T) {
	fetcher, digests := fixture(t, []int{2010}, nil)
	orch := New(ces.NewPipeline(fetcher, nil, digests, storage.NewStore(t.TempDir()), nil), 2)

	report, err := orch.EnsureAll(context.Background(), []int{2010, 2008})
	require.Error(t, err)
	assert.Nil(t, report)

	var cErr *ces.ConstructionError
	require.ErrorAs(t, err, &cErr)
	assert.Equal(t, 2008, cErr.Year)
	assert.Zero(t, fetcher.calls.Load())
}

func TestEnsureAll_CancelledContext(t *testing.T) {
	fetcher, digests := fixture(t, []int{2016, 2017}, nil)
	orch := New(ces.NewPipeline(fetcher, nil, digests, storage.NewStore(t.TempDir()), nil), 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := orch.EnsureAll(ctx, []int{2016, 2017})
	require.Error(t, err)
	assert.Len(t, report.Failures, 2)

	for _, ferr := range report.Failures {
		assert.ErrorIs(t, ferr, context.Canceled)
	}
}

func TestEnsureAll_LedgerErrorsAreNotFatal(t *testing.T) {
	fetcher, digests := fixture(t, []int{2018}, nil)
	ledger := &memoryLedger{err: errors.New("disk full")}
	orch := New(ces.NewPipeline(fetcher, nil, digests, storage.NewStore(t.TempDir()), nil), 1, WithLedger(ledger))

	var buf bytes.Buffer
	ctx := logctx.WithLogger(context.Background(), slog.New(slog.NewJSONHandler(&buf, nil)))

	report, err := orch.EnsureAll(ctx, []int{2018})
	require.NoError(t, err)
	assert.Contains(t, report.Results, 2018)
	assert.Contains(t, buf.String(), "failed to record outcome")
	assert.Contains(t, buf.String(), "run ledger is incomplete")
}

func TestEnsureAll_CachedYearsKeepLastDigest(t *testing.T) {
	fetcher, digests := fixture(t, []int{2011}, nil)
	store := storage.NewStore(t.TempDir())
	ledger := &memoryLedger{}

	var runs atomic.Int32

	orch := New(ces.NewPipeline(fetcher, nil, digests, store, nil), 1,
		WithLedger(ledger),
		WithRunID(func() string { return "run-" + strconv.Itoa(int(runs.Add(1))) }))

	_, err := orch.EnsureAll(context.Background(), []int{2011})
	require.NoError(t, err)

	report, err := orch.EnsureAll(context.Background(), []int{2011})
	require.NoError(t, err)
	assert.Equal(t, []int{2011}, report.Cached())

	first, err := ledger.GetOutcomes(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, storage.StatusMaterialized, first[0].Status)

	second, err := ledger.GetOutcomes(context.Background(), "run-2")
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, storage.StatusCached, second[0].Status)
	assert.Equal(t, first[0].Digest, second[0].Digest)
	assert.Equal(t, first[0].Bytes, second[0].Bytes)
	assert.Equal(t, store.PathFor(microdata.Cursos, 2011), second[0].Path)
}

func TestEnsureAll_NoYearsMeansEverySupportedYear(t *testing.T) {
	supported := microdata.SupportedYears()
	fetcher, digests := fixture(t, supported, nil)
	orch := New(ces.NewPipeline(fetcher, nil, digests, storage.NewStore(t.TempDir()), nil), 4)

	report, err := orch.EnsureAll(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, supported, report.Years)
	assert.Equal(t, supported, report.Downloaded())
	assert.EqualValues(t, len(supported), fetcher.calls.Load())
}

type panickingPipeline struct{}

func (panickingPipeline) Table() microdata.Table { return microdata.Cursos }

func (panickingPipeline) EnsureData(_ context.Context, c ces.Ces) (*ces.Result, error) {
	if c.Year() == 2019 {
		panic("boom")
	}

	return &ces.Result{Year: c.Year(), Table: microdata.Cursos, Cached: true}, nil
}

func TestEnsureAll_PanicIsIsolated(t *testing.T) {
	orch := New(panickingPipeline{}, 2)

	report, err := orch.EnsureAll(context.Background(), []int{2019, 2020})
	require.Error(t, err)
	assert.Contains(t, report.Failures[2019].Error(), "boom")
	assert.Contains(t, report.Results, 2020)
}

func TestAggregateError(t *testing.T) {
	first := errors.New("first")
	second := errors.New("second")

	err := &AggregateError{Total: 3, Failures: map[int]error{2012: second, 2009: first}}

	assert.Equal(t, []int{2009, 2012}, err.Years())
	assert.Equal(t, "2 of 3 years failed: 2009: first; 2012: second", err.Error())
	assert.ErrorIs(t, err, first)
	assert.ErrorIs(t, err, second)
}
