// Package observe provides the observability primitives for callcoach:
// OpenTelemetry metrics and tracing, trace-aware structured logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported to
// Prometheus by [InitProvider]. Tests should build their own instance with
// [NewMetrics] and a [sdkmetric.ManualReader]-backed provider; production code
// uses [DefaultMetrics].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all callcoach metrics.
const meterName = "github.com/MrWong99/callcoach"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Live sessions ---

	// SessionsStarted counts session start attempts. Use with attributes:
	//   attribute.String("mode", ...), attribute.String("status", ...)
	SessionsStarted metric.Int64Counter

	// ActiveSessions tracks the number of live sessions (0 or 1).
	ActiveSessions metric.Int64UpDownCounter

	// AudioFrames counts microphone frames by outcome. Use with attribute:
	//   attribute.String("outcome", "sent"|"queued"|"dropped")
	AudioFrames metric.Int64Counter

	// TurnsFinalized counts transcript entries promoted to final. Use with:
	//   attribute.String("speaker", ...)
	TurnsFinalized metric.Int64Counter

	// PlaybackFragments counts assistant audio fragments. Use with:
	//   attribute.String("outcome", "scheduled"|"interrupted")
	PlaybackFragments metric.Int64Counter

	// --- One-shot generation ---

	// GenerationDuration tracks single-shot call latency. Use with:
	//   attribute.String("provider", ...), attribute.String("kind", "transcribe"|"report")
	GenerationDuration metric.Float64Histogram

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Record store ---

	// StoreOperations counts record store calls. Use with attributes:
	//   attribute.String("op", ...), attribute.String("table", ...), attribute.String("status", ...)
	StoreOperations metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). One-shot
// transcription of a long recording can take well over a minute.
var latencyBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.SessionsStarted, err = m.Int64Counter("callcoach.sessions.started",
		metric.WithDescription("Live session start attempts by mode and status."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("callcoach.active_sessions",
		metric.WithDescription("Number of live sessions."),
	); err != nil {
		return nil, err
	}
	if met.AudioFrames, err = m.Int64Counter("callcoach.audio.frames",
		metric.WithDescription("Microphone frames by outcome."),
	); err != nil {
		return nil, err
	}
	if met.TurnsFinalized, err = m.Int64Counter("callcoach.transcript.turns",
		metric.WithDescription("Finalized transcript entries by speaker."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackFragments, err = m.Int64Counter("callcoach.playback.fragments",
		metric.WithDescription("Assistant audio fragments by outcome."),
	); err != nil {
		return nil, err
	}

	if met.GenerationDuration, err = m.Float64Histogram("callcoach.generation.duration",
		metric.WithDescription("Latency of single-shot transcription and report calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("callcoach.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("callcoach.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	if met.StoreOperations, err = m.Int64Counter("callcoach.store.operations",
		metric.WithDescription("Record store operations by op, table, and status."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("callcoach.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails, which does not happen with the global provider.
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordSessionStart records a session start attempt.
func (m *Metrics) RecordSessionStart(ctx context.Context, mode, status string) {
	m.SessionsStarted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("status", status),
	))
}

// RecordAudioFrame records one microphone frame with the given outcome.
func (m *Metrics) RecordAudioFrame(ctx context.Context, outcome string) {
	m.AudioFrames.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordTurn records a finalized transcript entry.
func (m *Metrics) RecordTurn(ctx context.Context, speaker string) {
	m.TurnsFinalized.Add(ctx, 1, metric.WithAttributes(attribute.String("speaker", speaker)))
}

// RecordPlayback records an assistant audio fragment outcome.
func (m *Metrics) RecordPlayback(ctx context.Context, outcome string, n int) {
	m.PlaybackFragments.Add(ctx, int64(n), metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordProviderRequest records a provider request counter increment with
// the standard attribute set.
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

// RecordStoreOp records one record store operation.
func (m *Metrics) RecordStoreOp(ctx context.Context, op, table string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.StoreOperations.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("table", table),
			attribute.String("status", status),
		),
	)
}
