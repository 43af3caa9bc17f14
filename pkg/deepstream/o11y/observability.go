// Package o11y defines the metrics and tracing interfaces the client
// reports through, independent of any particular backend.
package o11y

import (
	"context"
)

// MetricsPublisher is the minimal interface StandaloneMetricsProvider needs
// to ship snapshots somewhere, typically a deepstream event.
type MetricsPublisher interface {
	Publish(ctx context.Context, name string, data any) error
}

// MetricsProvider abstracts metrics collection (OpenTelemetry, Prometheus, etc.)
type MetricsProvider interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
	Gauge(name string) Gauge
}

// TracingProvider abstracts distributed tracing
type TracingProvider interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
}

// Counter represents a monotonically increasing metric
type Counter interface {
	Add(ctx context.Context, value int64, labels ...Label)
}

// Histogram records distribution of values
type Histogram interface {
	Record(ctx context.Context, value float64, labels ...Label)
}

// Gauge represents a value that can go up and down
type Gauge interface {
	Set(ctx context.Context, value float64, labels ...Label)
}

// Span represents a unit of work in a trace
type Span interface {
	SetAttributes(labels ...Label)
	SetStatus(code SpanStatusCode, description string)
	End()
}

// Label represents a key-value pair for metrics and tracing
type Label struct {
	Key   string
	Value string
}

// SpanStatusCode represents the status of a span
type SpanStatusCode int

const (
	SpanStatusUnset SpanStatusCode = iota
	SpanStatusOK
	SpanStatusError
)

// Nop is a MetricsProvider and TracingProvider that discards everything.
type Nop struct{}

func (Nop) Counter(string) Counter { return nopMetric{} }
func (Nop) Histogram(string) Histogram { return nopMetric{} }
func (Nop) Gauge(string) Gauge { return nopMetric{} }

func (Nop) StartSpan(ctx context.Context, _ string) (context.Context, Span) {
	return ctx, nopSpan{}
}

type nopMetric struct{}

func (nopMetric) Add(context.Context, int64, ...Label) {}
func (nopMetric) Record(context.Context, float64, ...Label) {}
func (nopMetric) Set(context.Context, float64, ...Label) {}

type nopSpan struct{}

func (nopSpan) SetAttributes(...Label) {}
func (nopSpan) SetStatus(SpanStatusCode, string) {}
func (nopSpan) End() {}
