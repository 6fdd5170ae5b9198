package pacelog

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Outcome classifies a single decision a primitive made, for metrics
// labeling. It mirrors the error taxonomy in pacing.Status/errors without
// importing pacing, keeping pacelog dependency-free of the primitive
// packages that depend on it.
type Outcome string

const (
	OutcomeExecuted  Outcome = "executed"
	OutcomeRejected  Outcome = "rejected"
	OutcomeExpired   Outcome = "expired"
	OutcomeAborted   Outcome = "aborted"
	OutcomeErrored   Outcome = "errored"
)

// Metrics records execution metrics for pacing primitives.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Errors: implementations must not panic.
type Metrics interface {
	// RecordDecision records a single admission/dispatch decision: an
	// execution, a rejection, an expiration, or an abort.
	RecordDecision(ctx context.Context, meta PrimitiveMeta, outcome Outcome)

	// RecordExecutionDuration records how long a target invocation took.
	RecordExecutionDuration(ctx context.Context, meta PrimitiveMeta, d time.Duration)
}

type otelMetrics struct {
	decisions    metric.Int64Counter
	durationHist metric.Float64Histogram
}

// NewMetrics builds a Metrics backed by the given OTel meter, creating
// two instruments (a decision counter whose outcome label also carries
// errors, and a duration histogram) the same way
// toolops's observe package builds its tool.exec instruments.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	decisions, err := meter.Int64Counter(
		"pacer.decisions",
		metric.WithDescription("Count of pacing admission/dispatch decisions by outcome"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, err
	}

	durationHist, err := meter.Float64Histogram(
		"pacer.execution.duration_ms",
		metric.WithDescription("Target function execution duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{decisions: decisions, durationHist: durationHist}, nil
}

func (m *otelMetrics) RecordDecision(ctx context.Context, meta PrimitiveMeta, outcome Outcome) {
	opt := metric.WithAttributes(
		attribute.String("pacer.kind", meta.Kind),
		attribute.String("pacer.name", meta.Name),
		attribute.String("pacer.outcome", string(outcome)),
	)
	m.decisions.Add(ctx, 1, opt)
}

func (m *otelMetrics) RecordExecutionDuration(ctx context.Context, meta PrimitiveMeta, d time.Duration) {
	opt := metric.WithAttributes(
		attribute.String("pacer.kind", meta.Kind),
		attribute.String("pacer.name", meta.Name),
	)
	m.durationHist.Record(ctx, float64(d.Milliseconds()), opt)
}

// NewNoopMetrics returns a Metrics that discards everything, backed by
// OTel's noop meter provider.
func NewNoopMetrics() Metrics {
	meter := noop.NewMeterProvider().Meter("pacer-noop")
	m, _ := NewMetrics(meter)
	return m
}
