package connect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"connectrpc.com/connect"
	"connectrpc.com/otelconnect"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sarathsp06/courier/internal/logger"
	"github.com/sarathsp06/courier/internal/observability"
	"github.com/sarathsp06/courier/internal/service"
	"github.com/sarathsp06/courier/internal/webhooks"
)

// ServiceName is the fully-qualified name of the admin service.
const ServiceName = "courier.v1.WebhookService"

// Procedure paths of the admin service.
const (
	RegisterEndpointProcedure       = "/" + ServiceName + "/RegisterEndpoint"
	UpdateEndpointProcedure         = "/" + ServiceName + "/UpdateEndpoint"
	DeleteEndpointProcedure         = "/" + ServiceName + "/DeleteEndpoint"
	GetEndpointProcedure            = "/" + ServiceName + "/GetEndpoint"
	ListEndpointsProcedure          = "/" + ServiceName + "/ListEndpoints"
	EmitProcedure                   = "/" + ServiceName + "/Emit"
	GetDeliveryStatusProcedure      = "/" + ServiceName + "/GetDeliveryStatus"
	ListDeliveriesProcedure         = "/" + ServiceName + "/ListDeliveries"
	ListDeadLettersProcedure        = "/" + ServiceName + "/ListDeadLetters"
	RetryDeliveryProcedure          = "/" + ServiceName + "/RetryDelivery"
	TestEndpointProcedure           = "/" + ServiceName + "/TestEndpoint"
	VerifyInboundSignatureProcedure = "/" + ServiceName + "/VerifyInboundSignature"
)

// WebhookConnectServer implements the admin service on top of service.Service
type WebhookConnectServer struct {
	svc    *service.Service
	logger *slog.Logger
	tracer trace.Tracer
}

// NewWebhookConnectServer creates a new Connect-RPC server instance
func NewWebhookConnectServer(svc *service.Service) *WebhookConnectServer {
	return &WebhookConnectServer{
		svc:    svc,
		logger: logger.NewLogger("connect-webhook-server"),
		tracer: observability.GetTracer("courier.connect.webhook"),
	}
}

// NewHandler mounts every procedure and returns the path prefix to serve it on.
func NewHandler(s *WebhookConnectServer, opts ...connect.HandlerOption) (string, http.Handler, error) {
	otelInterceptor, err := otelconnect.NewInterceptor()
	if err != nil {
		return "", nil, fmt.Errorf("failed to create otel interceptor: %w", err)
	}
	opts = append([]connect.HandlerOption{
		connect.WithCodec(jsonCodec{}),
		connect.WithInterceptors(otelInterceptor),
	}, opts...)

	mux := http.NewServeMux()
	mux.Handle(RegisterEndpointProcedure, connect.NewUnaryHandler(RegisterEndpointProcedure, s.RegisterEndpoint, opts...))
	mux.Handle(UpdateEndpointProcedure, connect.NewUnaryHandler(UpdateEndpointProcedure, s.UpdateEndpoint, opts...))
	mux.Handle(DeleteEndpointProcedure, connect.NewUnaryHandler(DeleteEndpointProcedure, s.DeleteEndpoint, opts...))
	mux.Handle(GetEndpointProcedure, connect.NewUnaryHandler(GetEndpointProcedure, s.GetEndpoint, opts...))
	mux.Handle(ListEndpointsProcedure, connect.NewUnaryHandler(ListEndpointsProcedure, s.ListEndpoints, opts...))
	mux.Handle(EmitProcedure, connect.NewUnaryHandler(EmitProcedure, s.Emit, opts...))
	mux.Handle(GetDeliveryStatusProcedure, connect.NewUnaryHandler(GetDeliveryStatusProcedure, s.GetDeliveryStatus, opts...))
	mux.Handle(ListDeliveriesProcedure, connect.NewUnaryHandler(ListDeliveriesProcedure, s.ListDeliveries, opts...))
	mux.Handle(ListDeadLettersProcedure, connect.NewUnaryHandler(ListDeadLettersProcedure, s.ListDeadLetters, opts...))
	mux.Handle(RetryDeliveryProcedure, connect.NewUnaryHandler(RetryDeliveryProcedure, s.RetryDelivery, opts...))
	mux.Handle(TestEndpointProcedure, connect.NewUnaryHandler(TestEndpointProcedure, s.TestEndpoint, opts...))
	mux.Handle(VerifyInboundSignatureProcedure, connect.NewUnaryHandler(VerifyInboundSignatureProcedure, s.VerifyInboundSignature, opts...))

	return "/" + ServiceName + "/", mux, nil
}

// RegisterEndpoint registers a URL for a tenant's events
func (s *WebhookConnectServer) RegisterEndpoint(
	ctx context.Context,
	req *connect.Request[RegisterEndpointRequest],
) (*connect.Response[EndpointResponse], error) {
	ctx, span := s.tracer.Start(ctx, "connect.endpoint.register",
		trace.WithAttributes(
			attribute.String("tenant_id", req.Msg.TenantID),
			attribute.StringSlice("events", req.Msg.Events),
			attribute.String("url", req.Msg.URL),
		),
	)
	defer span.End()

	s.logger.Info("Connect: Received endpoint registration request",
		"tenant_id", req.Msg.TenantID,
		"events", req.Msg.Events,
		"url", req.Msg.URL,
	)

	ep, err := s.svc.RegisterEndpoint(ctx, webhooks.Registration{
		TenantID:    req.Msg.TenantID,
		URL:         req.Msg.URL,
		Events:      req.Msg.Events,
		Secret:      req.Msg.Secret,
		Headers:     req.Msg.Headers,
		RetryPolicy: req.Msg.RetryPolicy.toPolicy(),
		Description: req.Msg.Description,
		Inactive:    req.Msg.Inactive,
	})
	if err != nil {
		return nil, s.fail(span, "failed to register endpoint", err)
	}

	span.SetAttributes(attribute.String("endpoint_id", ep.ID))
	span.SetStatus(otelcodes.Ok, "endpoint registered successfully")
	return connect.NewResponse(&EndpointResponse{Endpoint: toEndpoint(ep)}), nil
}

// UpdateEndpoint patches an endpoint
func (s *WebhookConnectServer) UpdateEndpoint(
	ctx context.Context,
	req *connect.Request[UpdateEndpointRequest],
) (*connect.Response[EndpointResponse], error) {
	ctx, span := s.tracer.Start(ctx, "connect.endpoint.update",
		trace.WithAttributes(attribute.String("endpoint_id", req.Msg.ID)),
	)
	defer span.End()

	ep, err := s.svc.UpdateEndpoint(ctx, req.Msg.ID, webhooks.Patch{
		URL:         req.Msg.URL,
		Events:      req.Msg.Events,
		Secret:      req.Msg.Secret,
		Active:      req.Msg.Active,
		Headers:     req.Msg.Headers,
		RetryPolicy: req.Msg.RetryPolicy.toPolicy(),
		Description: req.Msg.Description,
	})
	if err != nil {
		return nil, s.fail(span, "failed to update endpoint", err)
	}

	span.SetStatus(otelcodes.Ok, "endpoint updated")
	return connect.NewResponse(&EndpointResponse{Endpoint: toEndpoint(ep)}), nil
}

// DeleteEndpoint removes an endpoint
func (s *WebhookConnectServer) DeleteEndpoint(
	ctx context.Context,
	req *connect.Request[EndpointRequest],
) (*connect.Response[DeleteEndpointResponse], error) {
	ctx, span := s.tracer.Start(ctx, "connect.endpoint.delete",
		trace.WithAttributes(attribute.String("endpoint_id", req.Msg.ID)),
	)
	defer span.End()

	if req.Msg.ID == "" {
		return nil, s.fail(span, "id is required", fmt.Errorf("%w: id is required", webhooks.ErrValidation))
	}

	deleted, err := s.svc.DeleteEndpoint(ctx, req.Msg.ID)
	if err != nil {
		return nil, s.fail(span, "failed to delete endpoint", err)
	}

	s.logger.Info("Connect: Endpoint delete handled", "endpoint_id", req.Msg.ID, "deleted", deleted)
	return connect.NewResponse(&DeleteEndpointResponse{Deleted: deleted}), nil
}

func (s *WebhookConnectServer) GetEndpoint(
	ctx context.Context,
	req *connect.Request[EndpointRequest],
) (*connect.Response[EndpointResponse], error) {
	ctx, span := s.tracer.Start(ctx, "connect.endpoint.get")
	defer span.End()

	ep, err := s.svc.GetEndpoint(ctx, req.Msg.ID)
	if err != nil {
		return nil, s.fail(span, "failed to get endpoint", err)
	}
	return connect.NewResponse(&EndpointResponse{Endpoint: toEndpoint(ep)}), nil
}

// ListEndpoints lists all endpoints of a tenant
func (s *WebhookConnectServer) ListEndpoints(
	ctx context.Context,
	req *connect.Request[ListEndpointsRequest],
) (*connect.Response[ListEndpointsResponse], error) {
	ctx, span := s.tracer.Start(ctx, "connect.endpoint.list",
		trace.WithAttributes(attribute.String("tenant_id", req.Msg.TenantID)),
	)
	defer span.End()

	if req.Msg.TenantID == "" {
		return nil, s.fail(span, "tenant_id is required", fmt.Errorf("%w: tenant_id is required", webhooks.ErrValidation))
	}

	eps, err := s.svc.GetEndpointsByTenant(ctx, req.Msg.TenantID)
	if err != nil {
		return nil, s.fail(span, "failed to list endpoints", err)
	}

	out := make([]*Endpoint, len(eps))
	for i, ep := range eps {
		out[i] = toEndpoint(ep)
	}
	return connect.NewResponse(&ListEndpointsResponse{Endpoints: out}), nil
}

// Emit records an event and fans it out to subscribed endpoints
func (s *WebhookConnectServer) Emit(
	ctx context.Context,
	req *connect.Request[EmitRequest],
) (*connect.Response[EmitResponse], error) {
	ctx, span := s.tracer.Start(ctx, "connect.event.emit",
		trace.WithAttributes(
			attribute.String("tenant_id", req.Msg.TenantID),
			attribute.String("event_type", req.Msg.EventType),
		),
	)
	defer span.End()

	eventID, err := s.svc.Emit(ctx, req.Msg.EventType, req.Msg.Payload, req.Msg.TenantID)
	if err != nil {
		return nil, s.fail(span, "failed to emit event", err)
	}

	span.SetAttributes(attribute.String("event_id", eventID))
	span.SetStatus(otelcodes.Ok, "event emitted")
	return connect.NewResponse(&EmitResponse{EventID: eventID}), nil
}

// GetDeliveryStatus gets the status of one delivery
func (s *WebhookConnectServer) GetDeliveryStatus(
	ctx context.Context,
	req *connect.Request[DeliveryRequest],
) (*connect.Response[DeliveryResponse], error) {
	ctx, span := s.tracer.Start(ctx, "connect.delivery.status")
	defer span.End()

	job, err := s.svc.GetDeliveryStatus(ctx, req.Msg.ID)
	if err != nil {
		return nil, s.fail(span, "failed to get delivery status", err)
	}
	return connect.NewResponse(&DeliveryResponse{Delivery: toDelivery(job)}), nil
}

func (s *WebhookConnectServer) ListDeliveries(
	ctx context.Context,
	req *connect.Request[ListDeliveriesRequest],
) (*connect.Response[ListDeliveriesResponse], error) {
	ctx, span := s.tracer.Start(ctx, "connect.delivery.list")
	defer span.End()

	jobs, err := s.svc.ListDeliveries(ctx, req.Msg.EndpointID, listOptions(req.Msg))
	if err != nil {
		return nil, s.fail(span, "failed to list deliveries", err)
	}
	return connect.NewResponse(&ListDeliveriesResponse{Deliveries: toDeliveries(jobs)}), nil
}

func (s *WebhookConnectServer) ListDeadLetters(
	ctx context.Context,
	req *connect.Request[ListDeliveriesRequest],
) (*connect.Response[ListDeliveriesResponse], error) {
	ctx, span := s.tracer.Start(ctx, "connect.delivery.dead_letters")
	defer span.End()

	jobs, err := s.svc.ListDeadLetters(ctx, req.Msg.EndpointID, listOptions(req.Msg))
	if err != nil {
		return nil, s.fail(span, "failed to list dead letters", err)
	}
	return connect.NewResponse(&ListDeliveriesResponse{Deliveries: toDeliveries(jobs)}), nil
}

// RetryDelivery re-arms a dead-lettered or scheduled delivery
func (s *WebhookConnectServer) RetryDelivery(
	ctx context.Context,
	req *connect.Request[DeliveryRequest],
) (*connect.Response[RetryDeliveryResponse], error) {
	ctx, span := s.tracer.Start(ctx, "connect.delivery.retry",
		trace.WithAttributes(attribute.String("delivery_id", req.Msg.ID)),
	)
	defer span.End()

	ok, err := s.svc.RetryDelivery(ctx, req.Msg.ID)
	if err != nil {
		return nil, s.fail(span, "failed to retry delivery", err)
	}

	s.logger.Info("Connect: Delivery retry handled", "delivery_id", req.Msg.ID, "rearmed", ok)
	return connect.NewResponse(&RetryDeliveryResponse{Rearmed: ok}), nil
}

// TestEndpoint sends one synthetic event to an endpoint
func (s *WebhookConnectServer) TestEndpoint(
	ctx context.Context,
	req *connect.Request[EndpointRequest],
) (*connect.Response[TestEndpointResponse], error) {
	ctx, span := s.tracer.Start(ctx, "connect.endpoint.test",
		trace.WithAttributes(attribute.String("endpoint_id", req.Msg.ID)),
	)
	defer span.End()

	res, err := s.svc.TestEndpoint(ctx, req.Msg.ID)
	if err != nil {
		return nil, s.fail(span, "failed to test endpoint", err)
	}
	return connect.NewResponse(&TestEndpointResponse{
		Success:        res.Success,
		Status:         res.Status,
		ResponseTimeMs: res.ResponseTimeMs,
		Error:          res.Error,
	}), nil
}

func (s *WebhookConnectServer) VerifyInboundSignature(
	_ context.Context,
	req *connect.Request[VerifySignatureRequest],
) (*connect.Response[VerifySignatureResponse], error) {
	valid := s.svc.VerifyInboundSignature([]byte(req.Msg.Payload), req.Msg.Signature, req.Msg.Secret, req.Msg.Timestamp)
	return connect.NewResponse(&VerifySignatureResponse{Valid: valid}), nil
}

func listOptions(m *ListDeliveriesRequest) webhooks.ListOptions {
	return webhooks.ListOptions{
		Limit:  m.Limit,
		Offset: m.Offset,
		State:  webhooks.DeliveryState(m.State),
	}
}

// fail records err on the span and maps it to a Connect error code.
func (s *WebhookConnectServer) fail(span trace.Span, msg string, err error) error {
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, msg)

	code := connectCode(err)
	if code == connect.CodeInternal {
		s.logger.Error("Connect: "+msg, "error", err)
	}
	return connect.NewError(code, fmt.Errorf("%s: %w", msg, err))
}

func connectCode(err error) connect.Code {
	switch {
	case errors.Is(err, webhooks.ErrValidation):
		return connect.CodeInvalidArgument
	case errors.Is(err, webhooks.ErrNotFound):
		return connect.CodeNotFound
	default:
		return connect.CodeInternal
	}
}
