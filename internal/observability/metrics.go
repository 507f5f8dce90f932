package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Delivery outcomes recorded on every attempt.
const (
	OutcomeDelivered  = "delivered"
	OutcomeRetry      = "retry_scheduled"
	OutcomeDeadLetter = "dead_letter"
	OutcomeSkipped    = "skipped"
)

// Metrics records delivery activity to OpenTelemetry instruments (exported
// over OTLP) and to a dedicated Prometheus registry served on /metrics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	endpointRegistrations metric.Int64Counter
	eventsEmitted         metric.Int64Counter
	jobsCreated           metric.Int64Counter
	deliveryAttempts      metric.Int64Counter
	deliveryDuration      metric.Float64Histogram
	deadLetters           metric.Int64Counter

	registry          *prometheus.Registry
	promDeliveries    *prometheus.CounterVec
	promLatency       *prometheus.HistogramVec
	promEventsEmitted *prometheus.CounterVec
}

// NewMetrics creates the instruments on the global meter provider and a
// fresh Prometheus registry.
func NewMetrics() (*Metrics, error) {
	meter := GetMeter("courier")
	m := &Metrics{}
	var err error

	if m.endpointRegistrations, err = meter.Int64Counter(
		"courier_endpoint_registrations_total",
		metric.WithDescription("Total number of webhook endpoint registrations"),
	); err != nil {
		return nil, err
	}
	if m.eventsEmitted, err = meter.Int64Counter(
		"courier_events_emitted_total",
		metric.WithDescription("Total number of events emitted"),
	); err != nil {
		return nil, err
	}
	if m.jobsCreated, err = meter.Int64Counter(
		"courier_delivery_jobs_created_total",
		metric.WithDescription("Total number of delivery jobs created by fan-out"),
	); err != nil {
		return nil, err
	}
	if m.deliveryAttempts, err = meter.Int64Counter(
		"courier_delivery_attempts_total",
		metric.WithDescription("Total number of webhook delivery attempts by outcome"),
	); err != nil {
		return nil, err
	}
	if m.deliveryDuration, err = meter.Float64Histogram(
		"courier_delivery_duration_seconds",
		metric.WithDescription("Duration of webhook HTTP calls in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.deadLetters, err = meter.Int64Counter(
		"courier_dead_letters_total",
		metric.WithDescription("Total number of delivery jobs that exhausted their retries"),
	); err != nil {
		return nil, err
	}

	m.registry = prometheus.NewRegistry()
	m.promDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook delivery attempts by event type and outcome."},
		[]string{"event_type", "outcome"},
	)
	m.promLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000, 10000, 30000}},
		[]string{"event_type", "status_class"},
	)
	m.promEventsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_events_emitted_total", Help: "Events emitted by event type."},
		[]string{"event_type"},
	)
	m.registry.MustRegister(
		m.promDeliveries,
		m.promLatency,
		m.promEventsEmitted,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m, nil
}

// Handler serves the Prometheus registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the Prometheus registry, mainly for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

func (m *Metrics) RecordRegistration(ctx context.Context) {
	if m == nil {
		return
	}
	m.endpointRegistrations.Add(ctx, 1)
}

func (m *Metrics) RecordEmit(ctx context.Context, eventType string, jobs int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("event_type", eventType))
	m.eventsEmitted.Add(ctx, 1, attrs)
	m.jobsCreated.Add(ctx, int64(jobs), attrs)
	m.promEventsEmitted.WithLabelValues(eventType).Inc()
}

// RecordAttempt records one processed job. status is 0 when no HTTP
// response was received.
func (m *Metrics) RecordAttempt(ctx context.Context, eventType, outcome string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.deliveryAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("outcome", outcome),
		attribute.Int("http_status", status),
	))
	m.promDeliveries.WithLabelValues(eventType, outcome).Inc()
	if outcome == OutcomeSkipped {
		return
	}
	m.deliveryDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("event_type", eventType)))
	m.promLatency.WithLabelValues(eventType, statusClass(status)).Observe(float64(d.Milliseconds()))
}

func (m *Metrics) RecordDeadLetter(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	m.deadLetters.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}

func statusClass(status int) string {
	if status <= 0 {
		return "error"
	}
	return strconv.Itoa(status/100) + "xx"
}
