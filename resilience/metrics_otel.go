package resilience

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsCollector receives connection guard events.
type MetricsCollector interface {
	RecordSuccess(op string)
	RecordFailure(op string)
	RecordRejection(op string)
	RecordStateChange(from, to string)
}

// noopMetrics is a no-op metrics implementation
type noopMetrics struct{}

func (n *noopMetrics) RecordSuccess(op string)           {}
func (n *noopMetrics) RecordFailure(op string)           {}
func (n *noopMetrics) RecordRejection(op string)         {}
func (n *noopMetrics) RecordStateChange(from, to string) {}

// OTelMetricsCollector implements MetricsCollector using OpenTelemetry.
// It records through the global meter provider; the embedding process owns
// exporter setup.
type OTelMetricsCollector struct {
	calls        metric.Int64Counter
	rejections   metric.Int64Counter
	stateChanges metric.Int64Counter
}

// NewOTelMetricsCollector creates an OpenTelemetry metrics collector.
func NewOTelMetricsCollector() (*OTelMetricsCollector, error) {
	meter := otel.Meter("agentmem/resilience")

	calls, err := meter.Int64Counter("guard.calls",
		metric.WithDescription("Guarded backend calls by result"))
	if err != nil {
		return nil, err
	}
	rejections, err := meter.Int64Counter("guard.rejections",
		metric.WithDescription("Calls rejected by the open circuit"))
	if err != nil {
		return nil, err
	}
	stateChanges, err := meter.Int64Counter("guard.state_changes",
		metric.WithDescription("Circuit breaker state transitions"))
	if err != nil {
		return nil, err
	}

	return &OTelMetricsCollector{
		calls:        calls,
		rejections:   rejections,
		stateChanges: stateChanges,
	}, nil
}

// RecordSuccess records a successful guarded call.
func (o *OTelMetricsCollector) RecordSuccess(op string) {
	o.calls.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("result", "success"),
	))
}

// RecordFailure records a failed guarded call.
func (o *OTelMetricsCollector) RecordFailure(op string) {
	o.calls.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("result", "failure"),
	))
}

// RecordRejection records a call rejected while the circuit was open.
func (o *OTelMetricsCollector) RecordRejection(op string) {
	o.rejections.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("op", op),
	))
}

// RecordStateChange records a circuit breaker state transition.
func (o *OTelMetricsCollector) RecordStateChange(from, to string) {
	o.stateChanges.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("from_state", from),
		attribute.String("to_state", to),
	))
}
