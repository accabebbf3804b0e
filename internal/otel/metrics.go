package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "tmux-bridge"

// Metrics holds all OTEL metric instruments for tb.
// All counters are cumulative (monotonic) and safe for concurrent use.
type Metrics struct {
	// Invocations counts bridge operations partitioned by operation and
	// outcome (ok, exit_nonzero, idle_timeout, overall_timeout, error).
	Invocations metric.Int64Counter

	// Escalations counts polls that had to interrupt the foreground
	// process, partitioned by the timeout that fired.
	Escalations metric.Int64Counter

	// Duration is the wall time of blocking operations (run, repl turns).
	Duration metric.Float64Histogram

	// Tasks counts task lifecycle events (launched, closed).
	Tasks metric.Int64Counter
}

// NewMetrics creates all metric instruments. Returns no-op instruments
// when no MeterProvider is registered (safe to call unconditionally).
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.Invocations, err = meter.Int64Counter("tb.invocations",
		metric.WithDescription("Bridge operations partitioned by operation and outcome"))
	if err != nil {
		return nil, err
	}

	m.Escalations, err = meter.Int64Counter("tb.escalations",
		metric.WithDescription("Interrupt-and-quit escalations partitioned by the timeout that fired"))
	if err != nil {
		return nil, err
	}

	m.Duration, err = meter.Float64Histogram("tb.invocation.duration",
		metric.WithDescription("Wall time of blocking bridge operations"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	m.Tasks, err = meter.Int64Counter("tb.tasks",
		metric.WithDescription("Background task lifecycle events"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordInvocation records one finished operation and, when elapsed is
// positive, its duration.
func (m *Metrics) RecordInvocation(ctx context.Context, op, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("tb.operation", op),
		attribute.String("tb.outcome", outcome),
	)
	m.Invocations.Add(ctx, 1, attrs)
	if elapsed > 0 {
		m.Duration.Record(ctx, elapsed.Seconds(), attrs)
	}
}

// RecordEscalation records an escalation caused by the given timeout kind.
func (m *Metrics) RecordEscalation(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.Escalations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tb.timeout", kind),
	))
}

// RecordTask records a task lifecycle event.
func (m *Metrics) RecordTask(ctx context.Context, event string) {
	if m == nil {
		return
	}
	m.Tasks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tb.task.event", event),
	))
}
