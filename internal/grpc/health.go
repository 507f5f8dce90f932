// Package grpc serves the standard gRPC health service, backed by the same
// readiness check as /healthz.
package grpc

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/sarathsp06/courier/internal/logger"
)

// ServiceName is the health service name clients may query besides "".
const ServiceName = "courier.v1.WebhookService"

// CheckFunc reports whether the service can do its work.
type CheckFunc func(ctx context.Context) error

// HealthServer wraps a grpc.Server exposing grpc.health.v1.Health.
type HealthServer struct {
	server *grpc.Server
	health *health.Server
	check  CheckFunc
	logger *slog.Logger
}

// NewHealthServer creates the server. A nil check always reports serving.
func NewHealthServer(check CheckFunc) *HealthServer {
	if check == nil {
		check = func(context.Context) error { return nil }
	}

	srv := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	return &HealthServer{
		server: srv,
		health: hs,
		check:  check,
		logger: logger.NewLogger("grpc-health"),
	}
}

// Server returns the underlying gRPC server for Serve/GracefulStop.
func (h *HealthServer) Server() *grpc.Server { return h.server }

// Refresh runs the check once and publishes the result.
func (h *HealthServer) Refresh(ctx context.Context) error {
	status := healthpb.HealthCheckResponse_SERVING
	err := h.check(ctx)
	if err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		h.logger.Warn("Health check failed", "error", err)
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(ServiceName, status)
	return err
}

// Watch refreshes the status every interval until ctx is cancelled, then
// marks the server as shutting down.
func (h *HealthServer) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	_ = h.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			h.health.Shutdown()
			return
		case <-ticker.C:
			_ = h.Refresh(ctx)
		}
	}
}
