package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Span and metric attributes must stay low cardinality. Table slugs, stage
// names, statuses and years (a dozen values) are fine. URLs, paths, digests
// and error messages belong in logs or the span status, never in attributes.

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

// InstrumentOperation wraps fn in a span named operationName.
func (t *Telemetry) InstrumentOperation(ctx context.Context, operationName, component string, fn InstrumentedFunc, attrs ...attribute.KeyValue) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	start := time.Now()
	ctx, span := t.tracer.Start(ctx, operationName)

	defer span.End()

	span.SetAttributes(
		attribute.String("component", component),
		attribute.String("operation", operationName),
	)
	span.SetAttributes(attrs...)

	err := fn(ctx)

	status := "success"
	if err != nil {
		status = "error"

		span.SetAttributes(attribute.Bool("error", true))
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		attribute.String("status", status),
		attribute.Float64("duration_seconds", time.Since(start).Seconds()),
	)

	return err
}

// InstrumentYear wraps the whole pipeline of one year.
func (t *Telemetry) InstrumentYear(ctx context.Context, table string, year int, fn InstrumentedFunc) error {
	return t.InstrumentOperation(ctx, "ensure_data", "pipeline", fn,
		attribute.String("table", table),
		attribute.Int("year", year),
	)
}

// InstrumentStage wraps one pipeline stage and records its duration.
func (t *Telemetry) InstrumentStage(ctx context.Context, stage string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "stage_"+stage, "pipeline", fn, attribute.String("stage", stage))

	status := "success"
	if err != nil {
		status = "error"
	}

	t.recordStage(ctx, stage, status, time.Since(start))

	return err
}

// InstrumentFetch tracks in-flight downloads around fn.
func (t *Telemetry) InstrumentFetch(ctx context.Context, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	t.addActiveFetches(ctx, 1)
	defer t.addActiveFetches(ctx, -1)

	return t.InstrumentOperation(ctx, "fetch_archive", "fetcher", fn)
}

// InstrumentDBOperation instruments ledger operations.
func (t *Telemetry) InstrumentDBOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "db_"+operation, "database", fn)

	status := "success"
	if err != nil {
		status = "error"
	}

	t.RecordDBOperation(ctx, operation, status, time.Since(start))

	return err
}
