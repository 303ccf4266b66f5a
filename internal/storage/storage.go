package storage

import (
	"context"
	"time"
)

// Outcome statuses recorded in the ledger.
const (
	StatusMaterialized = "materialized"
	StatusCached       = "cached"
	StatusFailed       = "failed"
)

// Outcome is one row of the run ledger: what happened to a table/year in a run.
type Outcome struct {
	RunID      string
	Table      string
	Year       int
	Status     string
	Stage      string // failing stage, empty on success
	Digest     string
	Bytes      int64
	Path       string
	Error      string
	RecordedAt time.Time
}

// LedgerWriter records pipeline outcomes.
type LedgerWriter interface {
	RecordOutcome(ctx context.Context, o Outcome) error
}

// LedgerReader reads back recorded outcomes.
type LedgerReader interface {
	GetOutcomes(ctx context.Context, runID string) ([]Outcome, error)
	LastMaterialized(ctx context.Context, table string, year int) (*Outcome, error)
}

// Ledger records outcomes and reads them back.
type Ledger interface {
	LedgerWriter
	LedgerReader
}
