// Package observe provides application-wide observability primitives for
// voxrelay: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxrelay metrics.
const meterName = "github.com/MrWong99/voxrelay"

// Metrics holds all OpenTelemetry metric instruments for the relay.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Playback path ---

	// FramesReceived counts inbound binary frames. Use with attribute:
	//   attribute.String("type", ...)
	FramesReceived metric.Int64Counter

	// BytesReceived counts inbound payload bytes.
	BytesReceived metric.Int64Counter

	// DecodeErrors counts frames dropped by the chunk decoder. Use with attribute:
	//   attribute.String("type", ...)
	DecodeErrors metric.Int64Counter

	// AppendErrors counts chunks the playback sink failed to render. Use with attribute:
	//   attribute.String("type", ...)
	AppendErrors metric.Int64Counter

	// ChunksDropped counts chunks discarded by the queue overflow policy.
	ChunksDropped metric.Int64Counter

	// QueueDepth tracks the number of chunks waiting for the sink.
	QueueDepth metric.Int64UpDownCounter

	// AppendDuration tracks how long the sink takes to accept one chunk.
	AppendDuration metric.Float64Histogram

	// --- Capture path ---

	// FramesSent counts outbound binary frames.
	FramesSent metric.Int64Counter

	// BytesSent counts outbound payload bytes.
	BytesSent metric.Int64Counter

	// SendErrors counts outbound frames the channel refused.
	SendErrors metric.Int64Counter

	// CaptureActive is 1 while a capture session is recording.
	CaptureActive metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// per-chunk sink latency. A well-behaved sink accepts a chunk in a few
// milliseconds; anything near the chunk duration risks audible gaps.
var latencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.FramesReceived, err = m.Int64Counter("voxrelay.frames.received",
		metric.WithDescription("Inbound binary frames by type."),
	); err != nil {
		return nil, err
	}
	if met.BytesReceived, err = m.Int64Counter("voxrelay.bytes.received",
		metric.WithDescription("Inbound payload bytes."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.FramesSent, err = m.Int64Counter("voxrelay.frames.sent",
		metric.WithDescription("Outbound binary frames."),
	); err != nil {
		return nil, err
	}
	if met.BytesSent, err = m.Int64Counter("voxrelay.bytes.sent",
		metric.WithDescription("Outbound payload bytes."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.SendErrors, err = m.Int64Counter("voxrelay.send.errors",
		metric.WithDescription("Outbound frames refused by the channel."),
	); err != nil {
		return nil, err
	}
	if met.DecodeErrors, err = m.Int64Counter("voxrelay.decode.errors",
		metric.WithDescription("Inbound frames dropped by the chunk decoder."),
	); err != nil {
		return nil, err
	}
	if met.AppendErrors, err = m.Int64Counter("voxrelay.append.errors",
		metric.WithDescription("Chunks the playback sink failed to render."),
	); err != nil {
		return nil, err
	}
	if met.ChunksDropped, err = m.Int64Counter("voxrelay.chunks.dropped",
		metric.WithDescription("Chunks discarded by the playback queue overflow policy."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.QueueDepth, err = m.Int64UpDownCounter("voxrelay.queue.depth",
		metric.WithDescription("Chunks waiting for the playback sink."),
	); err != nil {
		return nil, err
	}
	if met.CaptureActive, err = m.Int64UpDownCounter("voxrelay.capture.active",
		metric.WithDescription("1 while the microphone is being captured."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.AppendDuration, err = m.Float64Histogram("voxrelay.append.duration",
		metric.WithDescription("Time from handing a chunk to the sink until it is ready again."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxrelay.http.request.duration",
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

// RecordFrameReceived records one inbound frame of the given type and size.
func (m *Metrics) RecordFrameReceived(ctx context.Context, typ string, size int) {
	m.FramesReceived.Add(ctx, 1, metric.WithAttributes(attribute.String("type", typ)))
	m.BytesReceived.Add(ctx, int64(size))
}

// RecordFrameSent records one outbound frame, or a send error if err is
// non-nil.
func (m *Metrics) RecordFrameSent(ctx context.Context, size int, err error) {
	if err != nil {
		m.SendErrors.Add(ctx, 1)
		return
	}
	m.FramesSent.Add(ctx, 1)
	m.BytesSent.Add(ctx, int64(size))
}

// RecordDecodeError records one frame dropped by the decoder.
func (m *Metrics) RecordDecodeError(ctx context.Context, typ string) {
	m.DecodeErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("type", typ)))
}

// RecordAppend records one completed sink append and its outcome.
func (m *Metrics) RecordAppend(ctx context.Context, typ string, d time.Duration, err error) {
	m.AppendDuration.Record(ctx, d.Seconds())
	if err != nil {
		m.AppendErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("type", typ)))
	}
}
