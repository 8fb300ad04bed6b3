package monitoring

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName    = "github.com/placefinder/placefinder/internal/monitoring"
	instrumentationVersion = "1.0.0"
)

// Metrics records the service's measurements into OpenTelemetry and mirrors
// them into an in-process Collector served on /metrics.
//
// It satisfies geocoding.Recorder and control.SelectionRecorder.
type Metrics struct {
	tracer    trace.Tracer
	collector *Collector

	geocodeRequests metric.Int64Counter
	geocodeDuration metric.Float64Histogram
	geocodeResults  metric.Int64Histogram
	selections      metric.Int64Counter
	activeSessions  metric.Int64UpDownCounter
	botUpdates      metric.Int64Counter
	botDuration     metric.Float64Histogram
	httpRequests    metric.Int64Counter
	httpDuration    metric.Float64Histogram
}

// NewMetrics creates the instruments on the global meter provider.
func NewMetrics(collector *Collector) (*Metrics, error) {
	if collector == nil {
		collector = NewCollector()
	}
	meter := otel.Meter(instrumentationName, metric.WithInstrumentationVersion(instrumentationVersion))
	m := &Metrics{
		tracer:    otel.Tracer(instrumentationName, trace.WithInstrumentationVersion(instrumentationVersion)),
		collector: collector,
	}

	var err error
	if m.geocodeRequests, err = meter.Int64Counter("geocode_requests_total",
		metric.WithDescription("Geocoder lookups by kind and outcome"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, fmt.Errorf("failed to create geocode_requests_total counter: %w", err)
	}
	if m.geocodeDuration, err = meter.Float64Histogram("geocode_duration_seconds",
		metric.WithDescription("Geocoder lookup latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(DefaultBuckets...),
	); err != nil {
		return nil, fmt.Errorf("failed to create geocode_duration_seconds histogram: %w", err)
	}
	if m.geocodeResults, err = meter.Int64Histogram("geocode_results",
		metric.WithDescription("Results returned per lookup"),
		metric.WithUnit("1"),
		metric.WithExplicitBucketBoundaries(0, 1, 2, 5, 10, 20),
	); err != nil {
		return nil, fmt.Errorf("failed to create geocode_results histogram: %w", err)
	}
	if m.selections, err = meter.Int64Counter("result_selections_total",
		metric.WithDescription("Results chosen, by how they were chosen"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, fmt.Errorf("failed to create result_selections_total counter: %w", err)
	}
	if m.activeSessions, err = meter.Int64UpDownCounter("active_sessions",
		metric.WithDescription("Chat sessions currently held in memory"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, fmt.Errorf("failed to create active_sessions counter: %w", err)
	}
	if m.botUpdates, err = meter.Int64Counter("bot_updates_total",
		metric.WithDescription("Telegram updates processed"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, fmt.Errorf("failed to create bot_updates_total counter: %w", err)
	}
	if m.botDuration, err = meter.Float64Histogram("bot_update_duration_seconds",
		metric.WithDescription("Telegram update handling latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(DefaultBuckets...),
	); err != nil {
		return nil, fmt.Errorf("failed to create bot_update_duration_seconds histogram: %w", err)
	}
	if m.httpRequests, err = meter.Int64Counter("http_requests_total",
		metric.WithDescription("HTTP requests served"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}
	if m.httpDuration, err = meter.Float64Histogram("http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(DefaultBuckets...),
	); err != nil {
		return nil, fmt.Errorf("failed to create http_request_duration_seconds histogram: %w", err)
	}

	return m, nil
}

// Collector returns the in-process mirror.
func (m *Metrics) Collector() *Collector {
	return m.collector
}

// RecordLookup counts one geocoder lookup.
func (m *Metrics) RecordLookup(ctx context.Context, kind, outcome string, duration time.Duration, results int) {
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	)
	m.geocodeRequests.Add(ctx, 1, attrs)
	m.geocodeDuration.Record(ctx, duration.Seconds(), attrs)
	m.geocodeResults.Record(ctx, int64(results), attrs)

	labels := map[string]string{"kind": kind, "outcome": outcome}
	m.collector.Counter("geocode_requests_total", "Geocoder lookups by kind and outcome", labels).Inc()
	m.collector.Histogram("geocode_duration_seconds", "Geocoder lookup latency in seconds", map[string]string{"kind": kind}, nil).
		Observe(duration.Seconds())
}

// RecordSelection counts one chosen result.
func (m *Metrics) RecordSelection(ctx context.Context, source string) {
	m.selections.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
	m.collector.Counter("result_selections_total", "Results chosen, by how they were chosen",
		map[string]string{"source": source}).Inc()
}

func (m *Metrics) SessionStarted(ctx context.Context) {
	m.activeSessions.Add(ctx, 1)
	m.collector.Gauge("active_sessions", "Chat sessions currently held in memory", nil).Inc()
}

func (m *Metrics) SessionEnded(ctx context.Context) {
	m.activeSessions.Add(ctx, -1)
	m.collector.Gauge("active_sessions", "Chat sessions currently held in memory", nil).Dec()
}

// RecordUpdate counts one handled Telegram update.
func (m *Metrics) RecordUpdate(ctx context.Context, updateType string, duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("update_type", updateType),
		attribute.String("status", status),
	)
	m.botUpdates.Add(ctx, 1, attrs)
	m.botDuration.Record(ctx, duration.Seconds(), attrs)

	m.collector.Counter("bot_updates_total", "Telegram updates processed",
		map[string]string{"update_type": updateType, "status": status}).Inc()
	m.collector.Histogram("bot_update_duration_seconds", "Telegram update handling latency in seconds",
		map[string]string{"update_type": updateType}, nil).Observe(duration.Seconds())
}

// RecordHTTPRequest counts one served request. route is the gin route
// template, not the raw path.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, status int, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.Int("status", status),
	)
	m.httpRequests.Add(ctx, 1, attrs)
	m.httpDuration.Record(ctx, duration.Seconds(), attrs)

	m.collector.Counter("http_requests_total", "HTTP requests served",
		map[string]string{"method": method, "route": route, "status": strconv.Itoa(status)}).Inc()
	m.collector.Histogram("http_request_duration_seconds", "HTTP request duration in seconds",
		map[string]string{"method": method, "route": route}, nil).Observe(duration.Seconds())
}

// TraceUpdate starts a span for one Telegram update.
func (m *Metrics) TraceUpdate(ctx context.Context, updateType string, updateID, chatID int64) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "bot.update."+updateType,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("bot.update.type", updateType),
			attribute.Int64("bot.update.id", updateID),
			attribute.Int64("bot.chat.id", chatID),
			attribute.String("component", "telegram_bot"),
		),
	)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
