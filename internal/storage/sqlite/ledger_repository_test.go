package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/italolelis/censo_downloader/internal/storage"
	"github.com/italolelis/censo_downloader/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) *InstrumentedLedgerRepository {
	t.Helper()

	db, err := InitDB(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	tel, err := telemetry.New(context.Background(), telemetry.Config{Enabled: false})
	require.NoError(t, err)

	return NewInstrumentedLedgerRepository(db, tel)
}

func TestInitDB_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")

	db, err := InitDB(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = InitDB(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestLedger_RecordAndGetOutcomes(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	recordedAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.RecordOutcome(ctx, storage.Outcome{
		RunID: "run-1", Table: "cursos", Year: 2010, Status: storage.StatusMaterialized,
		Digest: "8ea106ef7dc41a27a43b9f246cfd3ffd", Bytes: 1024, Path: "input/cursos.2010.csv",
		RecordedAt: recordedAt,
	}))
	require.NoError(t, repo.RecordOutcome(ctx, storage.Outcome{
		RunID: "run-1", Table: "cursos", Year: 2009, Status: storage.StatusFailed,
		Stage: "verify", Error: "digest mismatch",
	}))
	require.NoError(t, repo.RecordOutcome(ctx, storage.Outcome{
		RunID: "run-2", Table: "cursos", Year: 2011, Status: storage.StatusCached,
	}))

	outcomes, err := repo.GetOutcomes(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	assert.Equal(t, 2009, outcomes[0].Year)
	assert.Equal(t, storage.StatusFailed, outcomes[0].Status)
	assert.Equal(t, "verify", outcomes[0].Stage)
	assert.Equal(t, "digest mismatch", outcomes[0].Error)
	assert.False(t, outcomes[0].RecordedAt.IsZero())

	assert.Equal(t, 2010, outcomes[1].Year)
	assert.Equal(t, int64(1024), outcomes[1].Bytes)
	assert.Equal(t, "input/cursos.2010.csv", outcomes[1].Path)
	assert.True(t, recordedAt.Equal(outcomes[1].RecordedAt))

	none, err := repo.GetOutcomes(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestLedger_LastMaterialized(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	last, err := repo.LastMaterialized(ctx, "cursos", 2012)
	require.NoError(t, err)
	assert.Nil(t, last)

	require.NoError(t, repo.RecordOutcome(ctx, storage.Outcome{RunID: "a", Table: "cursos", Year: 2012, Status: storage.StatusMaterialized, Digest: "first"}))
	require.NoError(t, repo.RecordOutcome(ctx, storage.Outcome{RunID: "b", Table: "cursos", Year: 2012, Status: storage.StatusMaterialized, Digest: "second"}))
	require.NoError(t, repo.RecordOutcome(ctx, storage.Outcome{RunID: "c", Table: "cursos", Year: 2012, Status: storage.StatusFailed}))

	last, err = repo.LastMaterialized(ctx, "cursos", 2012)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "b", last.RunID)
	assert.Equal(t, "second", last.Digest)
}
