package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/YvesL-Web/project-manager/internal/obs"
)

type readinessChecker interface {
	Check(ctx context.Context) error
}

// GRPCHealth publishes the readiness probe through the standard grpc.health.v1 service,
// both for the empty service name and for serviceName.
type GRPCHealth struct {
	srv       *health.Server
	readiness readinessChecker
}

// NewGRPCHealth creates the health service. It reports NOT_SERVING until the first Refresh.
func NewGRPCHealth(r readinessChecker) *GRPCHealth {
	h := &GRPCHealth{srv: health.NewServer(), readiness: r}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Register attaches the health service to s.
func (h *GRPCHealth) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.srv)
}

// Refresh runs the probe once and publishes the result.
func (h *GRPCHealth) Refresh(ctx context.Context) bool {
	if err := h.readiness.Check(ctx); err != nil {
		obs.Warn("grpc_health_not_serving", map[string]any{"error": err.Error()})
		h.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return false
	}
	h.set(healthpb.HealthCheckResponse_SERVING)
	return true
}

// Run refreshes every interval until ctx is done, then marks every service NOT_SERVING.
func (h *GRPCHealth) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	h.Refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.srv.Shutdown()
			return
		case <-ticker.C:
			h.Refresh(ctx)
		}
	}
}

func (h *GRPCHealth) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.srv.SetServingStatus("", status)
	h.srv.SetServingStatus(serviceName, status)
}
