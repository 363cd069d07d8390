package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

// Metrics holds the counters recorded by the ingestion and fan-out pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	ingest     otelmetric.Int64Counter
	dispatched otelmetric.Int64Counter
	failures   otelmetric.Int64Counter
	tasks      otelmetric.Int64Counter
}

// NewMetrics registers the pipeline counters on meter
func NewMetrics(meter otelmetric.Meter) (*Metrics, error) {
	ingest, err := meter.Int64Counter("ingest_total",
		otelmetric.WithDescription("Ingestion attempts by outcome"))
	if err != nil {
		return nil, err
	}
	dispatched, err := meter.Int64Counter("fanout_destinations_total",
		otelmetric.WithDescription("Destinations dispatched by class"))
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64Counter("fanout_failures_total",
		otelmetric.WithDescription("Failed destination dispatches by class"))
	if err != nil {
		return nil, err
	}
	tasks, err := meter.Int64Counter("tasks_total",
		otelmetric.WithDescription("Background task executions by kind and result"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		ingest:     ingest,
		dispatched: dispatched,
		failures:   failures,
		tasks:      tasks,
	}, nil
}

// IngestOutcome counts one ingestion attempt
func (m *Metrics) IngestOutcome(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.ingest.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("outcome", outcome)))
}

// Dispatched counts destinations successfully handed to a collaborator
func (m *Metrics) Dispatched(ctx context.Context, class string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.dispatched.Add(ctx, int64(n), otelmetric.WithAttributes(attribute.String("class", class)))
}

// DispatchFailed counts one failed destination
func (m *Metrics) DispatchFailed(ctx context.Context, class string) {
	if m == nil {
		return
	}
	m.failures.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("class", class)))
}

// TaskResult counts one background task execution
func (m *Metrics) TaskResult(ctx context.Context, kind, result string) {
	if m == nil {
		return
	}
	m.tasks.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("result", result),
	))
}
