// Package observe provides application-wide observability primitives for
// meetgraph: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [InitProvider]
// bridges them to a Prometheus registry served at /metrics and returns the
// instruments in [Telemetry.Metrics]; tests build their own with
// [NewMetrics] over a [metric.MeterProvider] backed by a manual reader.
package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all meetgraph metrics.
const meterName = "github.com/MrWong99/meetgraph"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// ExtractionDuration tracks the extraction backend round trip, including
	// response parsing.
	ExtractionDuration metric.Float64Histogram

	// ResolutionDuration tracks resolving all speaker labels of one
	// transcript.
	ResolutionDuration metric.Float64Histogram

	// MatchDuration tracks entity matching against the graph.
	MatchDuration metric.Float64Histogram

	// CommitDuration tracks the persistence transaction. Use with attribute:
	//   attribute.String("status", ...)
	CommitDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts extraction backend calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// FactsExtracted counts parsed candidate facts. Use with attribute:
	//   attribute.String("kind", ...)
	FactsExtracted metric.Int64Counter

	// Resolutions counts identity resolutions. Use with attribute:
	//   attribute.String("outcome", ...)
	Resolutions metric.Int64Counter

	// Commits counts commit attempts. Use with attribute:
	//   attribute.String("status", ...)
	Commits metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts extraction backend failures. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// MatcherDegradations counts matching runs that fell back to the plain
	// substring filters.
	MatcherDegradations metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks open curation sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). The upper
// range covers slow extraction backends.
var latencyBuckets = []float64{
	0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histogram := func(name, desc string) (metric.Float64Histogram, error) {
		return m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
	}

	// Histograms.
	if met.ExtractionDuration, err = histogram("meetgraph.extraction.duration",
		"Latency of the extraction backend call including parsing."); err != nil {
		return nil, err
	}
	if met.ResolutionDuration, err = histogram("meetgraph.resolution.duration",
		"Latency of speaker identity resolution per transcript."); err != nil {
		return nil, err
	}
	if met.MatchDuration, err = histogram("meetgraph.match.duration",
		"Latency of entity matching against the graph."); err != nil {
		return nil, err
	}
	if met.CommitDuration, err = histogram("meetgraph.commit.duration",
		"Latency of the persistence transaction by status."); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("meetgraph.provider.requests",
		metric.WithDescription("Total extraction backend requests by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.FactsExtracted, err = m.Int64Counter("meetgraph.facts.extracted",
		metric.WithDescription("Total candidate facts parsed from extraction responses by kind."),
	); err != nil {
		return nil, err
	}
	if met.Resolutions, err = m.Int64Counter("meetgraph.identity.resolutions",
		metric.WithDescription("Total identity resolutions by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Commits, err = m.Int64Counter("meetgraph.commits",
		metric.WithDescription("Total commit attempts by status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("meetgraph.provider.errors",
		metric.WithDescription("Total extraction backend errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.MatcherDegradations, err = m.Int64Counter("meetgraph.matcher.degradations",
		metric.WithDescription("Total entity matching runs that fell back to substring filters."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("meetgraph.active_sessions",
		metric.WithDescription("Number of open curation sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("meetgraph.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records one extraction backend request.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records one extraction backend failure. kind is a short
// classification such as "unreachable", "timeout" or "unparseable".
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordFacts adds n parsed facts of the given kind. n <= 0 is a no-op.
func (m *Metrics) RecordFacts(ctx context.Context, kind string, n int) {
	if n <= 0 {
		return
	}
	m.FactsExtracted.Add(ctx, int64(n),
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordResolution records one identity resolution outcome.
func (m *Metrics) RecordResolution(ctx context.Context, outcome string) {
	m.Resolutions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordCommit records a commit attempt and its duration in seconds.
func (m *Metrics) RecordCommit(ctx context.Context, status string, seconds float64) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.Commits.Add(ctx, 1, attrs)
	m.CommitDuration.Record(ctx, seconds, attrs)
}
