// Package observe provides application-wide observability primitives for
// Jarvis: OpenTelemetry metrics, distributed tracing, structured logging,
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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Jarvis metrics.
const meterName = "github.com/MrWong99/jarvis"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Pipeline ---

	// WakeDetections counts wake-word triggers. Attribute: "label".
	WakeDetections metric.Int64Counter

	// DetectionErrors counts frames the wake detector failed to score.
	DetectionErrors metric.Int64Counter

	// Utterances counts finalised captures. Attribute: "end_reason".
	Utterances metric.Int64Counter

	// CaptureDuration tracks how long captures stay open.
	CaptureDuration metric.Float64Histogram

	// ActiveCaptures is 1 while a capture is open.
	ActiveCaptures metric.Int64UpDownCounter

	// PipelineErrors counts contained failures. Attribute: "kind".
	PipelineErrors metric.Int64Counter

	// --- Dispatch and skills ---

	// Dispatches counts dispatched transcripts. Attributes: "command", "status".
	Dispatches metric.Int64Counter

	// DispatchDuration tracks handler latency.
	DispatchDuration metric.Float64Histogram

	// SkillRequests counts skill service calls. Attributes: "skill", "method", "status".
	SkillRequests metric.Int64Counter

	// --- Speech output ---

	// TTSDuration tracks synthesis plus playback time.
	TTSDuration metric.Float64Histogram

	// SpeakRequests counts speech requests. Attributes: "origin", "status".
	SpeakRequests metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for short
// handler and synthesis latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// captureBuckets covers captures up to the longest practical timeout.
var captureBuckets = []float64{
	0.5, 1, 2, 3, 5, 7.5, 10, 15, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.WakeDetections, "jarvis.wake.detections", "Wake-word detections by label."},
		{&met.DetectionErrors, "jarvis.wake.errors", "Frames the wake detector failed to score."},
		{&met.Utterances, "jarvis.utterances", "Finalised captures by end reason."},
		{&met.PipelineErrors, "jarvis.pipeline.errors", "Contained pipeline failures by kind."},
		{&met.Dispatches, "jarvis.dispatches", "Dispatched transcripts by command and status."},
		{&met.SkillRequests, "jarvis.skill.requests", "Skill service calls by skill, method and status."},
		{&met.SpeakRequests, "jarvis.speak.requests", "Speech requests by origin and status."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	histograms := []struct {
		dst     *metric.Float64Histogram
		name    string
		desc    string
		buckets []float64
	}{
		{&met.CaptureDuration, "jarvis.capture.duration", "Time from wake detection to utterance end.", captureBuckets},
		{&met.DispatchDuration, "jarvis.dispatch.duration", "Latency of command handlers.", latencyBuckets},
		{&met.TTSDuration, "jarvis.tts.duration", "Latency of synthesis and playback.", latencyBuckets},
		{&met.HTTPRequestDuration, "jarvis.http.request.duration", "HTTP request latency by method and path.", nil},
	}
	for _, h := range histograms {
		opts := []metric.Float64HistogramOption{metric.WithDescription(h.desc), metric.WithUnit("s")}
		if h.buckets != nil {
			opts = append(opts, metric.WithExplicitBucketBoundaries(h.buckets...))
		}
		if *h.dst, err = m.Float64Histogram(h.name, opts...); err != nil {
			return nil, err
		}
	}

	if met.ActiveCaptures, err = m.Int64UpDownCounter("jarvis.active_captures",
		metric.WithDescription("Number of open captures."),
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

// Status returns "ok" or "error" for use as a status attribute.
func Status(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

// RecordWakeDetection records a wake-word trigger.
func (m *Metrics) RecordWakeDetection(ctx context.Context, label string) {
	m.WakeDetections.Add(ctx, 1, metric.WithAttributes(attribute.String("label", label)))
}

// RecordUtterance records a finalised capture and its duration.
func (m *Metrics) RecordUtterance(ctx context.Context, endReason string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("end_reason", endReason))
	m.Utterances.Add(ctx, 1, attrs)
	m.CaptureDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordDispatch records a dispatched transcript and its handler latency.
func (m *Metrics) RecordDispatch(ctx context.Context, command, status string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("command", command),
		attribute.String("status", status),
	)
	m.Dispatches.Add(ctx, 1, attrs)
	m.DispatchDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordSkillRequest records a skill service call.
func (m *Metrics) RecordSkillRequest(ctx context.Context, skill, method, status string) {
	m.SkillRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("skill", skill),
			attribute.String("method", method),
			attribute.String("status", status),
		),
	)
}

// RecordSpeak records a speech request and its synthesis time.
func (m *Metrics) RecordSpeak(ctx context.Context, origin, status string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("origin", origin),
		attribute.String("status", status),
	)
	m.SpeakRequests.Add(ctx, 1, attrs)
	m.TTSDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordPipelineError records a contained pipeline failure.
func (m *Metrics) RecordPipelineError(ctx context.Context, kind string) {
	m.PipelineErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
