package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/italolelis/censo_downloader/internal/storage"
)

// LedgerRepository stores pipeline outcomes in SQLite.
type LedgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(dbConn *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: dbConn}
}

var (
	_ storage.Ledger = (*LedgerRepository)(nil)
	_ storage.Ledger = (*InstrumentedLedgerRepository)(nil)
)

// RecordOutcome appends an outcome. A zero RecordedAt is set to now.
func (r *LedgerRepository) RecordOutcome(ctx context.Context, o storage.Outcome) error {
	if o.RecordedAt.IsZero() {
		o.RecordedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO materializations (run_id, table_name, year, status, stage, digest, bytes, path, error, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.RunID, o.Table, o.Year, o.Status, o.Stage, o.Digest, o.Bytes, o.Path, o.Error,
		o.RecordedAt.UTC().Format(time.RFC3339Nano),
	)

	return err
}

// GetOutcomes returns every outcome of a run ordered by year.
func (r *LedgerRepository) GetOutcomes(ctx context.Context, runID string) ([]storage.Outcome, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT run_id, table_name, year, status, stage, digest, bytes, path, error, recorded_at
		FROM materializations
		WHERE run_id = ?
		ORDER BY year, id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outcomes []storage.Outcome

	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, err
		}

		outcomes = append(outcomes, *o)
	}

	return outcomes, rows.Err()
}

// LastMaterialized returns the most recent successful download of a table/year,
// or nil when there is none.
func (r *LedgerRepository) LastMaterialized(ctx context.Context, table string, year int) (*storage.Outcome, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT run_id, table_name, year, status, stage, digest, bytes, path, error, recorded_at
		FROM materializations
		WHERE table_name = ? AND year = ? AND status = ?
		ORDER BY id DESC
		LIMIT 1`, table, year, storage.StatusMaterialized)

	o, err := scanOutcome(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	return o, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOutcome(s scanner) (*storage.Outcome, error) {
	var (
		o                        storage.Outcome
		stage, digest, path, msg sql.NullString
		recordedAt               string
	)

	if err := s.Scan(&o.RunID, &o.Table, &o.Year, &o.Status, &stage, &digest, &o.Bytes, &path, &msg, &recordedAt); err != nil {
		return nil, err
	}

	o.Stage = stage.String
	o.Digest = digest.String
	o.Path = path.String
	o.Error = msg.String

	if t, err := time.Parse(time.RFC3339Nano, recordedAt); err == nil {
		o.RecordedAt = t
	}

	return &o, nil
}
