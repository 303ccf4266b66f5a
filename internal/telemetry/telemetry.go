package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry holds all telemetry instruments and providers.
type Telemetry struct {
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
	meter          metric.Meter
	registry       *promclient.Registry

	// Fetch metrics
	fetchesTotal   metric.Int64Counter
	fetchesActive  metric.Int64UpDownCounter
	fetchDuration  metric.Float64Histogram
	fetchBytes     metric.Int64Counter
	extractedBytes metric.Int64Counter

	// Pipeline metrics
	stageDuration        metric.Float64Histogram
	yearsTotal           metric.Int64Counter
	verificationFailures metric.Int64Counter

	// Ledger metrics
	dbOperationsTotal   metric.Int64Counter
	dbOperationDuration metric.Float64Histogram
}

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	// OTLPEndpoint, when set, pushes metrics over OTLP/gRPC in addition to
	// the Prometheus registry.
	OTLPEndpoint string
}

// New creates a new telemetry instance. A disabled configuration returns an
// instance whose methods are no-ops.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{}, nil
	}

	registry := promclient.NewRegistry()

	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	opts := []sdkmetric.Option{sdkmetric.WithReader(exporter)}

	if cfg.OTLPEndpoint != "" {
		otlpExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
		}

		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(otlpExporter)))
	}

	meterProvider := sdkmetric.NewMeterProvider(opts...)
	tracerProvider := sdktrace.NewTracerProvider()

	otel.SetMeterProvider(meterProvider)
	otel.SetTracerProvider(tracerProvider)

	t := &Telemetry{
		meterProvider:  meterProvider,
		tracerProvider: tracerProvider,
		tracer:         tracerProvider.Tracer(cfg.ServiceName, trace.WithInstrumentationVersion(cfg.ServiceVersion)),
		meter:          meterProvider.Meter(cfg.ServiceName, metric.WithInstrumentationVersion(cfg.ServiceVersion)),
		registry:       registry,
	}

	if err := t.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	if err := otelruntime.Start(otelruntime.WithMeterProvider(meterProvider)); err != nil {
		return nil, fmt.Errorf("failed to start runtime metrics: %w", err)
	}

	return t, nil
}

// Tracer returns the OpenTelemetry tracer.
func (t *Telemetry) Tracer() trace.Tracer {
	return t.tracer
}

// RecordFetch records the outcome of one archive download.
func (t *Telemetry) RecordFetch(ctx context.Context, status string, bytes int64, duration time.Duration) {
	if t == nil {
		return
	}

	if t.fetchesTotal != nil {
		t.fetchesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	}

	if t.fetchDuration != nil {
		t.fetchDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("status", status)))
	}

	if t.fetchBytes != nil && bytes > 0 {
		t.fetchBytes.Add(ctx, bytes)
	}
}

// RecordExtracted records the size of a selected archive entry.
func (t *Telemetry) RecordExtracted(ctx context.Context, table string, bytes int64) {
	if t == nil || t.extractedBytes == nil {
		return
	}

	t.extractedBytes.Add(ctx, bytes, metric.WithAttributes(attribute.String("table", table)))
}

// RecordYear records the final outcome of a year: "materialized", "cached" or "failed".
func (t *Telemetry) RecordYear(ctx context.Context, table, outcome string) {
	if t == nil || t.yearsTotal == nil {
		return
	}

	t.yearsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("table", table),
		attribute.String("outcome", outcome),
	))
}

// RecordVerificationFailure records a digest check that did not pass.
func (t *Telemetry) RecordVerificationFailure(ctx context.Context, table, reason string) {
	if t == nil || t.verificationFailures == nil {
		return
	}

	t.verificationFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("table", table),
		attribute.String("reason", reason),
	))
}

// RecordDBOperation records ledger operation metrics.
func (t *Telemetry) RecordDBOperation(ctx context.Context, operation, status string, duration time.Duration) {
	if t == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	)

	if t.dbOperationsTotal != nil {
		t.dbOperationsTotal.Add(ctx, 1, attrs)
	}

	if t.dbOperationDuration != nil {
		t.dbOperationDuration.Record(ctx, duration.Seconds(), attrs)
	}
}

func (t *Telemetry) recordStage(ctx context.Context, stage, status string, duration time.Duration) {
	if t.stageDuration == nil {
		return
	}

	t.stageDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("status", status),
	))
}

func (t *Telemetry) addActiveFetches(ctx context.Context, n int64) {
	if t.fetchesActive != nil {
		t.fetchesActive.Add(ctx, n)
	}
}

// Handler returns the HTTP handler for the metrics endpoint.
func (t *Telemetry) Handler() http.Handler {
	if t == nil || t.registry == nil {
		return http.NotFoundHandler()
	}

	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}

	var errs []error

	if t.meterProvider != nil {
		errs = append(errs, t.meterProvider.Shutdown(ctx))
	}

	if t.tracerProvider != nil {
		errs = append(errs, t.tracerProvider.Shutdown(ctx))
	}

	return errors.Join(errs...)
}

func (t *Telemetry) initializeMetrics() error {
	if err := t.initializeFetchMetrics(); err != nil {
		return err
	}

	if err := t.initializePipelineMetrics(); err != nil {
		return err
	}

	return t.initializeDBMetrics()
}

func (t *Telemetry) initializeFetchMetrics() error {
	var err error

	t.fetchesTotal, err = t.meter.Int64Counter(
		"archive_fetches_total",
		metric.WithDescription("Total number of archive downloads"),
		metric.WithUnit("{fetch}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create archive_fetches_total counter: %w", err)
	}

	t.fetchesActive, err = t.meter.Int64UpDownCounter(
		"archive_fetches_active",
		metric.WithDescription("Number of archive downloads in flight"),
		metric.WithUnit("{fetch}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create archive_fetches_active counter: %w", err)
	}

	t.fetchDuration, err = t.meter.Float64Histogram(
		"archive_fetch_duration_seconds",
		metric.WithDescription("Archive download duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create archive_fetch_duration histogram: %w", err)
	}

	t.fetchBytes, err = t.meter.Int64Counter(
		"archive_fetch_bytes_total",
		metric.WithDescription("Bytes downloaded from the origin"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return fmt.Errorf("failed to create archive_fetch_bytes counter: %w", err)
	}

	t.extractedBytes, err = t.meter.Int64Counter(
		"entry_extracted_bytes_total",
		metric.WithDescription("Bytes extracted from selected archive entries"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return fmt.Errorf("failed to create entry_extracted_bytes counter: %w", err)
	}

	return nil
}

func (t *Telemetry) initializePipelineMetrics() error {
	var err error

	t.stageDuration, err = t.meter.Float64Histogram(
		"pipeline_stage_duration_seconds",
		metric.WithDescription("Duration of each pipeline stage in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create pipeline_stage_duration histogram: %w", err)
	}

	t.yearsTotal, err = t.meter.Int64Counter(
		"years_total",
		metric.WithDescription("Years processed, by outcome"),
		metric.WithUnit("{year}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create years_total counter: %w", err)
	}

	t.verificationFailures, err = t.meter.Int64Counter(
		"verification_failures_total",
		metric.WithDescription("Digest checks that did not pass"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create verification_failures counter: %w", err)
	}

	return nil
}

func (t *Telemetry) initializeDBMetrics() error {
	var err error

	t.dbOperationsTotal, err = t.meter.Int64Counter(
		"db_operations_total",
		metric.WithDescription("Total number of ledger operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create db_operations_total counter: %w", err)
	}

	t.dbOperationDuration, err = t.meter.Float64Histogram(
		"db_operation_duration_seconds",
		metric.WithDescription("Ledger operation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create db_operation_duration histogram: %w", err)
	}

	return nil
}
