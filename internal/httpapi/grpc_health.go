package httpapi

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/JoelPallero/Church-Center-sub001/internal/obs"
)

// HealthReporter keeps the gRPC health service in line with store readiness.
type HealthReporter struct {
	server    *health.Server
	readiness ReadinessChecker
	logger    *zap.Logger
}

func NewHealthReporter(r ReadinessChecker, logger *zap.Logger) *HealthReporter {
	if r == nil {
		r = ReadyProbe{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	srv := health.NewServer()
	srv.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)
	srv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return &HealthReporter{server: srv, readiness: r, logger: logger}
}

// Refresh runs one readiness check and publishes the result.
func (h *HealthReporter) Refresh(ctx context.Context) bool {
	status := healthpb.HealthCheckResponse_SERVING
	ok := true
	if err := h.readiness.Check(ctx); err != nil {
		h.logger.Warn("grpc health: not ready", zap.Error(err))
		status = healthpb.HealthCheckResponse_NOT_SERVING
		ok = false
	}
	obs.SetReady(ok)
	h.server.SetServingStatus(serviceName, status)
	h.server.SetServingStatus("", status)
	return ok
}

// Run refreshes every interval until ctx ends, then marks the service as shutting down.
func (h *HealthReporter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	h.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			h.server.Shutdown()
			return
		case <-ticker.C:
			h.Refresh(ctx)
		}
	}
}

// NewGRPCServer returns a gRPC server exposing grpc.health.v1.
func NewGRPCServer(h *HealthReporter, opts ...grpc.ServerOption) *grpc.Server {
	srv := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(srv, h.server)
	return srv
}
