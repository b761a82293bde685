package observe

import (
	"context"
	"testing"

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

// sumWhere returns the value of the data point of an int64 sum whose
// attribute key equals value.
func sumWhere(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
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
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.AsString() == value {
				return dp.Value
			}
		}
	}
	t.Fatalf("metric %q: no data point with %s=%s", name, key, value)
	return 0
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
		{"meetgraph.extraction.duration", m.ExtractionDuration},
		{"meetgraph.resolution.duration", m.ResolutionDuration},
		{"meetgraph.match.duration", m.MatchDuration},
	}

	for _, tc := range histograms {
		tc.h.Record(ctx, 0.123)
		tc.h.Record(ctx, 4.56)
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

func TestProviderCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "openai", "ok")
	m.RecordProviderRequest(ctx, "openai", "ok")
	m.RecordProviderRequest(ctx, "openai", "error")
	m.RecordProviderError(ctx, "openai", "timeout")

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "meetgraph.provider.requests", "status", "ok"); got != 2 {
		t.Errorf("ok requests = %d, want 2", got)
	}
	if got := sumWhere(t, rm, "meetgraph.provider.errors", "kind", "timeout"); got != 1 {
		t.Errorf("timeout errors = %d, want 1", got)
	}
}

func TestRecordFacts(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFacts(ctx, "Task", 3)
	m.RecordFacts(ctx, "Task", 0)
	m.RecordFacts(ctx, "Risk", 1)

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "meetgraph.facts.extracted", "kind", "Task"); got != 3 {
		t.Errorf("tasks = %d, want 3", got)
	}
}

func TestRecordResolutionAndCommit(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordResolution(ctx, "automatic")
	m.RecordResolution(ctx, "automatic")
	m.RecordResolution(ctx, "new")
	m.RecordCommit(ctx, "ok", 0.2)
	m.RecordCommit(ctx, "failed", 0.1)

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "meetgraph.identity.resolutions", "outcome", "automatic"); got != 2 {
		t.Errorf("automatic = %d, want 2", got)
	}
	if got := sumWhere(t, rm, "meetgraph.commits", "status", "failed"); got != 1 {
		t.Errorf("failed commits = %d, want 1", got)
	}
	hist, ok := findMetric(rm, "meetgraph.commit.duration").Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 2 {
		t.Errorf("commit duration data points = %+v", hist.DataPoints)
	}
}

func TestActiveSessionsGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)
	m.MatcherDegradations.Add(ctx, 1)

	rm := collect(t, reader)
	met := findMetric(rm, "meetgraph.active_sessions")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) == 0 {
		t.Fatal("metric is not a populated sum")
	}
	if got := sum.DataPoints[0].Value; got != 1 {
		t.Errorf("active sessions = %d, want 1", got)
	}
	if findMetric(rm, "meetgraph.matcher.degradations") == nil {
		t.Error("degradation counter not exported")
	}
}
