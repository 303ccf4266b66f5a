package sqlite

import (
	"context"
	"database/sql"

	"github.com/italolelis/censo_downloader/internal/storage"
	"github.com/italolelis/censo_downloader/internal/telemetry"
)

// InstrumentedLedgerRepository wraps LedgerRepository with telemetry.
type InstrumentedLedgerRepository struct {
	repo      *LedgerRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedLedgerRepository creates a new instrumented ledger repository.
func NewInstrumentedLedgerRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedLedgerRepository {
	return &InstrumentedLedgerRepository{
		repo:      NewLedgerRepository(dbConn),
		telemetry: tel,
	}
}

// RecordOutcome records an outcome with telemetry.
func (r *InstrumentedLedgerRepository) RecordOutcome(ctx context.Context, o storage.Outcome) error {
	return r.telemetry.InstrumentDBOperation(ctx, "record_outcome", func(ctx context.Context) error {
		return r.repo.RecordOutcome(ctx, o)
	})
}

// GetOutcomes retrieves the outcomes of a run with telemetry.
func (r *InstrumentedLedgerRepository) GetOutcomes(ctx context.Context, runID string) ([]storage.Outcome, error) {
	var result []storage.Outcome

	err := r.telemetry.InstrumentDBOperation(ctx, "get_outcomes", func(ctx context.Context) error {
		var err error

		result, err = r.repo.GetOutcomes(ctx, runID)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// LastMaterialized retrieves the latest successful outcome with telemetry.
func (r *InstrumentedLedgerRepository) LastMaterialized(ctx context.Context, table string, year int) (*storage.Outcome, error) {
	var result *storage.Outcome

	err := r.telemetry.InstrumentDBOperation(ctx, "last_materialized", func(ctx context.Context) error {
		var err error

		result, err = r.repo.LastMaterialized(ctx, table, year)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
