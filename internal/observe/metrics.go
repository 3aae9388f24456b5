// Package observe provides application-wide observability primitives:
// OpenTelemetry metrics, distributed tracing, structured logging, and HTTP
// middleware that ties them together.
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

// meterName is the instrumentation scope name used for all tutor metrics.
const meterName = "github.com/brightpath-ai/tutor"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks answer generation latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// TurnDuration tracks end-to-end turn latency from request receipt to
	// the complete event.
	TurnDuration metric.Float64Histogram

	// --- Counters ---

	// TurnsTotal counts processed turns. Use with attribute:
	//   attribute.String("outcome", "answered"|"filtered"|"error")
	TurnsTotal metric.Int64Counter

	// TurnsFiltered counts turns answered by a scope redirect instead of
	// the LLM. Use with attribute:
	//   attribute.String("category", ...)
	TurnsFiltered metric.Int64Counter

	// SpeechCacheLookups counts speech cache lookups. Use with attribute:
	//   attribute.String("result", "hit"|"miss")
	SpeechCacheLookups metric.Int64Counter

	// ChapterCacheLookups counts chapter cache lookups. Use with attribute:
	//   attribute.String("result", "hit"|"miss")
	ChapterCacheLookups metric.Int64Counter

	// CostUSD accumulates estimated backend spend in US dollars. Use with
	// attribute:
	//   attribute.String("backend", "whisper"|"claude"|"tts")
	CostUSD metric.Float64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveStreams tracks the number of live streaming turn connections.
	ActiveStreams metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.STTDuration, err = m.Float64Histogram("tutor.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("tutor.llm.duration",
		metric.WithDescription("Latency of answer generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("tutor.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = m.Float64Histogram("tutor.turn.duration",
		metric.WithDescription("End-to-end turn latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.TurnsTotal, err = m.Int64Counter("tutor.turns.total",
		metric.WithDescription("Total processed turns by outcome."),
	); err != nil {
		return nil, err
	}
	if met.TurnsFiltered, err = m.Int64Counter("tutor.turns.filtered",
		metric.WithDescription("Turns answered by a scope redirect by category."),
	); err != nil {
		return nil, err
	}
	if met.SpeechCacheLookups, err = m.Int64Counter("tutor.speech_cache.lookups",
		metric.WithDescription("Speech cache lookups by result."),
	); err != nil {
		return nil, err
	}
	if met.ChapterCacheLookups, err = m.Int64Counter("tutor.chapter_cache.lookups",
		metric.WithDescription("Chapter cache lookups by result."),
	); err != nil {
		return nil, err
	}
	if met.CostUSD, err = m.Float64Counter("tutor.cost.usd",
		metric.WithDescription("Estimated backend spend in US dollars by backend."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("tutor.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("tutor.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveStreams, err = m.Int64UpDownCounter("tutor.active_streams",
		metric.WithDescription("Number of live streaming turn connections."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("tutor.http.request.duration",
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

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordTurn records a processed turn with its outcome and end-to-end
// latency in seconds.
func (m *Metrics) RecordTurn(ctx context.Context, outcome string, seconds float64) {
	m.TurnsTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
	m.TurnDuration.Record(ctx, seconds)
}

// RecordFiltered records a turn answered by a scope redirect.
func (m *Metrics) RecordFiltered(ctx context.Context, category string) {
	m.TurnsFiltered.Add(ctx, 1,
		metric.WithAttributes(attribute.String("category", category)),
	)
}

// RecordCacheLookup records a cache lookup result on the given counter.
// hit selects the "hit" or "miss" attribute value.
func RecordCacheLookup(ctx context.Context, c metric.Int64Counter, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordCost adds an estimated spend amount in US dollars for a backend.
func (m *Metrics) RecordCost(ctx context.Context, backend string, usd float64) {
	if usd <= 0 {
		return
	}
	m.CostUSD.Add(ctx, usd,
		metric.WithAttributes(attribute.String("backend", backend)),
	)
}
