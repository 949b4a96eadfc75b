// Package observe provides application-wide observability primitives for
// g2palign: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [Setup] so that metrics can still be
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

// meterName is the instrumentation scope name used for all g2palign metrics.
const meterName = "github.com/MrWong99/g2palign"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// G2PDuration tracks conversion service round trips.
	G2PDuration metric.Float64Histogram

	// DecoderDuration tracks one decoder run (configure to result).
	DecoderDuration metric.Float64Histogram

	// SpliceDuration tracks relabelling of one decoder tree.
	SpliceDuration metric.Float64Histogram

	// AlignDuration tracks a whole alignment request across all tiers.
	AlignDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// TierAttempts counts decoder runs per search tier. Use with attributes:
	//   attribute.String("tier", ...), attribute.String("outcome", ...)
	TierAttempts metric.Int64Counter

	// Alignments counts finished alignment requests. Use with attribute:
	//   attribute.String("status", ...)
	Alignments metric.Int64Counter

	// CircuitTransitions counts circuit breaker state changes. Use with
	// attributes:
	//   attribute.String("breaker", ...), attribute.String("state", ...)
	CircuitTransitions metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveAlignments tracks alignment requests that hold or wait for the
	// decoder.
	ActiveAlignments metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Decoder
// runs on long recordings take tens of seconds.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.G2PDuration, err = m.Float64Histogram("g2palign.g2p.duration",
		metric.WithDescription("Latency of conversion service requests."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DecoderDuration, err = m.Float64Histogram("g2palign.decoder.duration",
		metric.WithDescription("Latency of one forced-alignment decoder run."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SpliceDuration, err = m.Float64Histogram("g2palign.splice.duration",
		metric.WithDescription("Latency of relabelling a decoder tree."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AlignDuration, err = m.Float64Histogram("g2palign.align.duration",
		metric.WithDescription("End-to-end latency of an alignment request."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("g2palign.provider.requests",
		metric.WithDescription("Total provider requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.TierAttempts, err = m.Int64Counter("g2palign.tier.attempts",
		metric.WithDescription("Total decoder runs by search tier and outcome."),
	); err != nil {
		return nil, err
	}
	if met.Alignments, err = m.Int64Counter("g2palign.alignments",
		metric.WithDescription("Total alignment requests by status."),
	); err != nil {
		return nil, err
	}

	if met.CircuitTransitions, err = m.Int64Counter("g2palign.circuit.transitions",
		metric.WithDescription("Total circuit breaker state changes by breaker and new state."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("g2palign.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveAlignments, err = m.Int64UpDownCounter("g2palign.active_alignments",
		metric.WithDescription("Number of alignment requests in flight or waiting for the decoder."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("g2palign.http.request.duration",
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

// RecordProviderRequest records a provider request counter increment with the
// standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordTierAttempt records one decoder run for tier with the given outcome
// ("aligned", "empty" or "error").
func (m *Metrics) RecordTierAttempt(ctx context.Context, tier, outcome string) {
	m.TierAttempts.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tier", tier),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordCircuitTransition records a breaker moving to state.
func (m *Metrics) RecordCircuitTransition(ctx context.Context, breaker, state string) {
	m.CircuitTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("breaker", breaker),
			attribute.String("state", state),
		),
	)
}

// RecordAlignment records a finished alignment request.
func (m *Metrics) RecordAlignment(ctx context.Context, status string) {
	m.Alignments.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}
