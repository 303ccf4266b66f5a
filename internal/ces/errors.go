package ces

import (
	"fmt"

	"github.com/italolelis/censo_downloader/internal/microdata"
)

// ConstructionError is returned by New for years whose archives use an
// incompatible layout.
type ConstructionError struct {
	Year    int
	MinYear int
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("year %d is not supported: archives before %d have a different structure", e.Year, e.MinYear)
}

// Stage names a step of the per-year pipeline.
type Stage string

const (
	StageCheck     Stage = "check"
	StageFetch     Stage = "fetch"
	StageExtract   Stage = "extract"
	StageVerify    Stage = "verify"
	StageNormalize Stage = "normalize"
	StagePersist   Stage = "persist"
)

// StageError records the stage at which a year's pipeline stopped.
type StageError struct {
	Year  int
	Table microdata.Table
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("[%d] %s failed at %s: %v", e.Year, e.Table, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
