// Package observe provides application-wide observability primitives for
// Halcyon: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Halcyon metrics.
const meterName = "github.com/halcyonhq/halcyon"

// Metrics holds all OpenTelemetry metric instruments for the orchestrator.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// CommandDuration tracks end-to-end command processing latency, from
	// request receipt to response, including the downstream service call.
	CommandDuration metric.Float64Histogram

	// ServiceCallDuration tracks downstream tool service latency. Use with
	// attribute.String("service", ...).
	ServiceCallDuration metric.Float64Histogram

	// Commands counts processed commands. Use with attributes:
	//   attribute.String("intent", ...), attribute.String("status", ...)
	Commands metric.Int64Counter

	// ServiceCalls counts downstream service invocations. Use with attributes:
	//   attribute.String("service", ...), attribute.String("status", ...)
	ServiceCalls metric.Int64Counter

	// ServiceErrors counts downstream service failures by service name.
	ServiceErrors metric.Int64Counter

	// ActiveSessions tracks the number of live conversation sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// command-dispatch latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.CommandDuration, err = m.Float64Histogram("halcyon.command.duration",
		metric.WithDescription("End-to-end command processing latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ServiceCallDuration, err = m.Float64Histogram("halcyon.service.call.duration",
		metric.WithDescription("Downstream tool service latency by service."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Commands, err = m.Int64Counter("halcyon.commands",
		metric.WithDescription("Total processed commands by intent and status."),
	); err != nil {
		return nil, err
	}
	if met.ServiceCalls, err = m.Int64Counter("halcyon.service.calls",
		metric.WithDescription("Total downstream service invocations by service and status."),
	); err != nil {
		return nil, err
	}
	if met.ServiceErrors, err = m.Int64Counter("halcyon.service.errors",
		metric.WithDescription("Total downstream service failures by service."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("halcyon.active_sessions",
		metric.WithDescription("Number of live conversation sessions."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("halcyon.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordCommand records a processed command with the standard attribute set.
func (m *Metrics) RecordCommand(ctx context.Context, intent, status string) {
	m.Commands.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("intent", intent),
			attribute.String("status", status),
		),
	)
}

// RecordServiceCall records one downstream service invocation: its latency
// histogram sample, the call counter, and on failure the error counter.
func (m *Metrics) RecordServiceCall(ctx context.Context, service string, seconds float64, ok bool) {
	status := "ok"
	if !ok {
		status = "error"
		m.ServiceErrors.Add(ctx, 1,
			metric.WithAttributes(attribute.String("service", service)),
		)
	}
	m.ServiceCallDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("service", service)),
	)
	m.ServiceCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("service", service),
			attribute.String("status", status),
		),
	)
}
