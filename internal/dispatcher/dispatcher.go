// Package dispatcher turns emitted events into delivery jobs, one per
// subscribed endpoint.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sarathsp06/courier/internal/logger"
	"github.com/sarathsp06/courier/internal/observability"
	"github.com/sarathsp06/courier/internal/webhooks"
)

// Subscribers resolves the endpoints an event fans out to.
type Subscribers interface {
	Subscribed(ctx context.Context, tenantID, eventType string) ([]*webhooks.Endpoint, error)
}

// Enqueuer persists new jobs and wakes workers.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobs ...*webhooks.DeliveryJob) error
}

// Dispatcher records events and fans them out.
type Dispatcher struct {
	events      webhooks.EventStore
	subscribers Subscribers
	queue       Enqueuer
	metrics     *observability.Metrics
	tracer      trace.Tracer
	logger      *slog.Logger
	now         func() time.Time
}

// New creates a dispatcher. metrics may be nil.
func New(events webhooks.EventStore, subscribers Subscribers, queue Enqueuer, metrics *observability.Metrics) *Dispatcher {
	return &Dispatcher{
		events:      events,
		subscribers: subscribers,
		queue:       queue,
		metrics:     metrics,
		tracer:      observability.GetTracer("courier.dispatcher"),
		logger:      logger.NewLogger("dispatcher"),
		now:         time.Now,
	}
}

// Emit records an event and creates a pending job for every active endpoint
// of tenantID subscribed to eventType. It returns the event id once the jobs
// are queued; delivery outcomes are never reported here. Emitting an event
// nobody listens to is not an error.
func (d *Dispatcher) Emit(ctx context.Context, eventType string, payload any, tenantID string) (string, error) {
	ctx, span := d.tracer.Start(ctx, "dispatcher.emit",
		trace.WithAttributes(
			attribute.String("event_type", eventType),
			attribute.String("tenant_id", tenantID),
		),
	)
	defer span.End()

	ev, err := d.newEvent(eventType, payload, tenantID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, "invalid event")
		return "", err
	}
	span.SetAttributes(attribute.String("event_id", ev.ID))

	if err := d.events.CreateEvent(ctx, ev); err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, "failed to store event")
		return "", fmt.Errorf("failed to store event: %w", err)
	}

	endpoints, err := d.subscribers.Subscribed(ctx, tenantID, eventType)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, "failed to resolve subscribers")
		return "", fmt.Errorf("failed to resolve subscribers: %w", err)
	}

	jobs := make([]*webhooks.DeliveryJob, 0, len(endpoints))
	for _, ep := range endpoints {
		jobs = append(jobs, &webhooks.DeliveryJob{
			ID:         uuid.New().String(),
			EndpointID: ep.ID,
			EventID:    ev.ID,
			TenantID:   tenantID,
			EventType:  eventType,
			URL:        ep.URL,
			State:      webhooks.StatePending,
			CreatedAt:  ev.Timestamp,
			UpdatedAt:  ev.Timestamp,
		})
	}

	if err := d.queue.Enqueue(ctx, jobs...); err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, "failed to enqueue jobs")
		d.logger.Error("Failed to enqueue delivery jobs",
			"event_id", ev.ID,
			"event_type", eventType,
			"error", err,
		)
		return "", err
	}

	d.metrics.RecordEmit(ctx, eventType, len(jobs))
	span.SetAttributes(attribute.Int("jobs", len(jobs)))
	span.SetStatus(otelcodes.Ok, "event emitted")

	d.logger.Info("Event emitted",
		"event_id", ev.ID,
		"event_type", eventType,
		"tenant_id", tenantID,
		"jobs", len(jobs),
	)
	return ev.ID, nil
}

func (d *Dispatcher) newEvent(eventType string, payload any, tenantID string) (*webhooks.Event, error) {
	if strings.TrimSpace(eventType) == "" {
		return nil, fmt.Errorf("%w: %w: event type is required", webhooks.ErrValidation, webhooks.ErrInvalidEvent)
	}
	if strings.TrimSpace(tenantID) == "" {
		return nil, fmt.Errorf("%w: %w: tenant id is required", webhooks.ErrValidation, webhooks.ErrInvalidEvent)
	}

	data, err := marshalPayload(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %v", webhooks.ErrValidation, webhooks.ErrInvalidEvent, err)
	}

	return &webhooks.Event{
		ID:            uuid.New().String(),
		Type:          eventType,
		TenantID:      tenantID,
		Payload:       data,
		Timestamp:     d.now().UTC(),
		SchemaVersion: webhooks.SchemaVersion,
	}, nil
}

// marshalPayload accepts any JSON-serializable value. Raw JSON is checked
// for validity and kept verbatim.
func marshalPayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case json.RawMessage:
		if len(p) == 0 {
			return json.RawMessage("null"), nil
		}
		if !json.Valid(p) {
			return nil, fmt.Errorf("payload is not valid JSON")
		}
		return append(json.RawMessage(nil), p...), nil
	case nil:
		return json.RawMessage("null"), nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("payload is not JSON-serializable: %w", err)
	}
	return data, nil
}
