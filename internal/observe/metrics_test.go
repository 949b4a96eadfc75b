package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// counterValue returns the value of the sum data point of metric name whose
// attribute key equals value, or -1 when no such point exists.
func counterValue(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	return -1
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"g2palign.g2p.duration", m.G2PDuration},
		{"g2palign.decoder.duration", m.DecoderDuration},
		{"g2palign.splice.duration", m.SpliceDuration},
		{"g2palign.align.duration", m.AlignDuration},
	}

	for _, tc := range histograms {
		tc.h.Record(ctx, 0.123)
		tc.h.Record(ctx, 12.5)
	}

	rm := collect(t, reader)

	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

func TestProviderRequestsCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "readalong", "g2p", "ok")
	m.RecordProviderRequest(ctx, "readalong", "g2p", "ok")
	m.RecordProviderRequest(ctx, "readalong", "g2p", "error")

	rm := collect(t, reader)
	if got := counterValue(t, rm, "g2palign.provider.requests", "status", "ok"); got != 2 {
		t.Errorf("status=ok counter = %d, want 2", got)
	}
	if got := counterValue(t, rm, "g2palign.provider.requests", "status", "error"); got != 1 {
		t.Errorf("status=error counter = %d, want 1", got)
	}
}

func TestTierAttemptsCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTierAttempt(ctx, "strict", "empty")
	m.RecordTierAttempt(ctx, "moderate", "empty")
	m.RecordTierAttempt(ctx, "loose", "aligned")

	rm := collect(t, reader)
	if got := counterValue(t, rm, "g2palign.tier.attempts", "tier", "strict"); got != 1 {
		t.Errorf("tier=strict counter = %d, want 1", got)
	}
	if got := counterValue(t, rm, "g2palign.tier.attempts", "tier", "loose"); got != 1 {
		t.Errorf("tier=loose counter = %d, want 1", got)
	}
}

func TestAlignmentsCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordAlignment(ctx, "ok")
	m.RecordAlignment(ctx, "no_alignment")
	m.RecordAlignment(ctx, "ok")

	rm := collect(t, reader)
	if got := counterValue(t, rm, "g2palign.alignments", "status", "ok"); got != 2 {
		t.Errorf("status=ok counter = %d, want 2", got)
	}
}

func TestCircuitTransitionsCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCircuitTransition(ctx, "http://g2p-a", "open")
	m.RecordCircuitTransition(ctx, "http://g2p-a", "half-open")

	rm := collect(t, reader)
	if got := counterValue(t, rm, "g2palign.circuit.transitions", "state", "open"); got != 1 {
		t.Errorf("state=open counter = %d, want 1", got)
	}
}

func TestProviderErrorsCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderError(ctx, "remote", "decoder")

	rm := collect(t, reader)
	if got := counterValue(t, rm, "g2palign.provider.errors", "kind", "decoder"); got != 1 {
		t.Errorf("counter value = %d, want 1", got)
	}
}

func TestActiveAlignmentsGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	// UpDownCounters are additive.
	m.ActiveAlignments.Add(ctx, 1)
	m.ActiveAlignments.Add(ctx, 1)
	m.ActiveAlignments.Add(ctx, -1)

	rm := collect(t, reader)
	met := findMetric(rm, "g2palign.active_alignments")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	if len(sum.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := sum.DataPoints[0].Value; got != 1 {
		t.Errorf("gauge value = %d, want 1", got)
	}
}

func TestHTTPRequestDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.HTTPRequestDuration.Record(ctx, 0.05,
		metric.WithAttributes(
			attribute.String("method", "GET"),
			attribute.String("path", "/healthz"),
		),
	)

	rm := collect(t, reader)
	met := findMetric(rm, "g2palign.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := hist.DataPoints[0].Count; got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
