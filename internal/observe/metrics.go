// Package observe provides application-wide observability primitives for
// voxwire: OpenTelemetry metrics, distributed tracing, structured logging,
// and the glue that ties them together.
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

// meterName is the instrumentation scope name used for all voxwire metrics.
const meterName = "github.com/voxwire/voxwire"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// FrameAnalysisDuration tracks per-frame pipeline latency (quality
	// analysis plus turn detection plus submission).
	FrameAnalysisDuration metric.Float64Histogram

	// TransportRTT tracks observed round-trip times of frame sends.
	TransportRTT metric.Float64Histogram

	// --- Counters ---

	// FramesProcessed counts analysed frames. Use with attribute:
	//   attribute.String("level", ...)
	FramesProcessed metric.Int64Counter

	// FramesDropped counts frames that never reached the transport. Use with
	// attribute:
	//   attribute.String("reason", ...)  // "overflow", "offline", "closed"
	FramesDropped metric.Int64Counter

	// TurnEvents counts emitted voice-turn events. Use with attribute:
	//   attribute.String("event", ...)
	TurnEvents metric.Int64Counter

	// QualityChanges counts committed quality level transitions. Use with
	// attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	QualityChanges metric.Int64Counter

	// ReconnectAttempts counts reconnect attempts against the retry budget.
	ReconnectAttempts metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live audio sessions.
	ActiveSessions metric.Int64UpDownCounter

	// QueueDepth tracks frames currently buffered for reconnect replay,
	// summed across sessions.
	QueueDepth metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// per-frame work on a 20 ms cadence.
var latencyBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.02, 0.05, 0.1,
}

// rttBuckets defines histogram bucket boundaries (in seconds) for network
// round-trip times.
var rttBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.2, 0.3, 0.5, 1, 2.5, 5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.FrameAnalysisDuration, err = m.Float64Histogram("voxwire.frame.analysis.duration",
		metric.WithDescription("Per-frame pipeline latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TransportRTT, err = m.Float64Histogram("voxwire.transport.rtt",
		metric.WithDescription("Round-trip time of frame sends."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(rttBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesProcessed, err = m.Int64Counter("voxwire.frames.processed",
		metric.WithDescription("Total frames analysed by quality level."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("voxwire.frames.dropped",
		metric.WithDescription("Total frames dropped before reaching the transport, by reason."),
	); err != nil {
		return nil, err
	}
	if met.TurnEvents, err = m.Int64Counter("voxwire.turn.events",
		metric.WithDescription("Total voice-turn events by event type."),
	); err != nil {
		return nil, err
	}
	if met.QualityChanges, err = m.Int64Counter("voxwire.quality.changes",
		metric.WithDescription("Total committed quality level transitions."),
	); err != nil {
		return nil, err
	}
	if met.ReconnectAttempts, err = m.Int64Counter("voxwire.reconnect.attempts",
		metric.WithDescription("Total reconnect attempts."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxwire.active_sessions",
		metric.WithDescription("Number of live audio sessions."),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64UpDownCounter("voxwire.queue_depth",
		metric.WithDescription("Frames buffered for reconnect replay."),
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

// RecordFrame records one analysed frame with its quality level.
func (m *Metrics) RecordFrame(ctx context.Context, level string) {
	m.FramesProcessed.Add(ctx, 1,
		metric.WithAttributes(Attr("level", level)),
	)
}

// RecordDrop records one dropped frame with the reason it was dropped.
func (m *Metrics) RecordDrop(ctx context.Context, reason string) {
	m.FramesDropped.Add(ctx, 1,
		metric.WithAttributes(Attr("reason", reason)),
	)
}

// RecordTurnEvent records one emitted voice-turn event.
func (m *Metrics) RecordTurnEvent(ctx context.Context, event string) {
	m.TurnEvents.Add(ctx, 1,
		metric.WithAttributes(Attr("event", event)),
	)
}

// RecordQualityChange records one committed quality level transition.
func (m *Metrics) RecordQualityChange(ctx context.Context, from, to string) {
	m.QualityChanges.Add(ctx, 1,
		metric.WithAttributes(
			Attr("from", from),
			Attr("to", to),
		),
	)
}

// RecordReconnect records one reconnect attempt.
func (m *Metrics) RecordReconnect(ctx context.Context) {
	m.ReconnectAttempts.Add(ctx, 1)
}
