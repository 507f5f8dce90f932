// Package service is the programmatic API of the webhook subsystem. Every
// transport (Connect admin API, embedding applications) goes through it.
package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sarathsp06/courier/internal/dispatcher"
	"github.com/sarathsp06/courier/internal/history"
	"github.com/sarathsp06/courier/internal/observability"
	"github.com/sarathsp06/courier/internal/signature"
	"github.com/sarathsp06/courier/internal/webhooks"
	"github.com/sarathsp06/courier/internal/workers"
)

// TestEventType is the event type of synthetic test deliveries.
const TestEventType = "webhook.test"

// TestResult is the outcome of a one-off test delivery.
type TestResult struct {
	Success        bool   `json:"success"`
	Status         int    `json:"status,omitempty"`
	ResponseTimeMs int64  `json:"response_time_ms"`
	Error          string `json:"error,omitempty"`
}

// Service wires the registry, dispatcher and history together.
type Service struct {
	registry   *webhooks.Registry
	dispatcher *dispatcher.Dispatcher
	history    *history.History
	sender     *workers.Sender
	metrics    *observability.Metrics
	tracer     trace.Tracer
	now        func() time.Time
}

// New creates the service. metrics may be nil.
func New(registry *webhooks.Registry, dispatcher *dispatcher.Dispatcher, history *history.History, sender *workers.Sender, metrics *observability.Metrics) *Service {
	return &Service{
		registry:   registry,
		dispatcher: dispatcher,
		history:    history,
		sender:     sender,
		metrics:    metrics,
		tracer:     observability.GetTracer("courier.service"),
		now:        time.Now,
	}
}

// RegisterEndpoint creates an endpoint. This is the only call that returns
// the signing secret.
func (s *Service) RegisterEndpoint(ctx context.Context, reg webhooks.Registration) (*webhooks.Endpoint, error) {
	ep, err := s.registry.Register(ctx, reg)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordRegistration(ctx)
	return ep, nil
}

// UpdateEndpoint patches an endpoint. Returns webhooks.ErrNotFound for
// unknown ids.
func (s *Service) UpdateEndpoint(ctx context.Context, id string, patch webhooks.Patch) (*webhooks.Endpoint, error) {
	ep, err := s.registry.Update(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	return ep.Redacted(), nil
}

// DeleteEndpoint reports whether an endpoint was removed.
func (s *Service) DeleteEndpoint(ctx context.Context, id string) (bool, error) {
	return s.registry.Delete(ctx, id)
}

func (s *Service) GetEndpoint(ctx context.Context, id string) (*webhooks.Endpoint, error) {
	ep, err := s.registry.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return ep.Redacted(), nil
}

func (s *Service) GetEndpointsByTenant(ctx context.Context, tenantID string) ([]*webhooks.Endpoint, error) {
	eps, err := s.registry.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	out := make([]*webhooks.Endpoint, len(eps))
	for i, ep := range eps {
		out[i] = ep.Redacted()
	}
	return out, nil
}

// Emit records an event and queues its deliveries, returning the event id.
func (s *Service) Emit(ctx context.Context, eventType string, payload any, tenantID string) (string, error) {
	return s.dispatcher.Emit(ctx, eventType, payload, tenantID)
}

func (s *Service) GetDeliveryStatus(ctx context.Context, id string) (*webhooks.DeliveryJob, error) {
	return s.history.GetDeliveryStatus(ctx, id)
}

func (s *Service) ListDeliveries(ctx context.Context, endpointID string, opts webhooks.ListOptions) ([]*webhooks.DeliveryJob, error) {
	return s.history.ListDeliveries(ctx, endpointID, opts)
}

func (s *Service) ListDeadLetters(ctx context.Context, endpointID string, opts webhooks.ListOptions) ([]*webhooks.DeliveryJob, error) {
	return s.history.ListDeadLetters(ctx, endpointID, opts)
}

func (s *Service) RetryDelivery(ctx context.Context, id string) (bool, error) {
	return s.history.RetryDelivery(ctx, id)
}

// TestEndpoint signs and sends one synthetic event to the endpoint's current
// URL and reports the outcome. Nothing is persisted and nothing is retried.
func (s *Service) TestEndpoint(ctx context.Context, endpointID string) (*TestResult, error) {
	ctx, span := s.tracer.Start(ctx, "service.test_endpoint",
		trace.WithAttributes(attribute.String("endpoint_id", endpointID)),
	)
	defer span.End()

	ep, err := s.registry.Get(ctx, endpointID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	payload, err := json.Marshal(map[string]string{
		"message":     "This is a test webhook delivery",
		"endpoint_id": ep.ID,
	})
	if err != nil {
		return nil, err
	}
	ev := &webhooks.Event{
		ID:            uuid.New().String(),
		Type:          TestEventType,
		TenantID:      ep.TenantID,
		Payload:       payload,
		Timestamp:     s.now().UTC(),
		SchemaVersion: webhooks.SchemaVersion,
	}

	res := s.sender.Send(ctx, ep, ep.URL, ev)
	result := &TestResult{
		Success:        res.Delivered(),
		Status:         res.StatusCode,
		ResponseTimeMs: res.Duration.Milliseconds(),
	}
	if !res.Delivered() {
		result.Error = res.Err.Error()
		span.SetStatus(otelcodes.Error, "test delivery failed")
	} else {
		span.SetStatus(otelcodes.Ok, "test delivery succeeded")
	}
	span.SetAttributes(attribute.Int("http_status", res.StatusCode))
	return result, nil
}

// VerifyInboundSignature checks a signature the way receivers should.
func (s *Service) VerifyInboundSignature(payload []byte, sig, secret string, timestamp int64) bool {
	return signature.Verify(payload, sig, secret, timestamp)
}
