package httpapi

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"schedulers.app/internal/obs"
)

// GRPCServer publishes readiness through the standard grpc.health.v1 service.
// The overall status ("") and serviceName follow the same probe.
type GRPCServer struct {
	health    *health.Server
	readiness readinessChecker
	logger    *slog.Logger
}

// NewGRPCServer creates the health reporter. Status starts as NOT_SERVING
// until the first probe.
func NewGRPCServer(r readinessChecker, logger *slog.Logger) *GRPCServer {
	if r == nil {
		r = ReadyProbe{}
	}
	if logger == nil {
		logger = obs.Logger()
	}
	s := &GRPCServer{health: health.NewServer(), readiness: r, logger: logger}
	s.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Register attaches the health service to srv.
func (s *GRPCServer) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, s.health)
}

// Probe runs the readiness check once and publishes the result.
func (s *GRPCServer) Probe(ctx context.Context) bool {
	err := s.readiness.Check(ctx)
	obs.SetReady(err == nil)
	if err != nil {
		s.logger.Warn("readiness probe failed", "error", err)
		s.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return false
	}
	s.set(healthpb.HealthCheckResponse_SERVING)
	return true
}

// Run probes every interval until ctx is done, then marks the service as
// shutting down so clients drain.
func (s *GRPCServer) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	s.Probe(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			return
		case <-ticker.C:
			s.Probe(ctx)
		}
	}
}

func (s *GRPCServer) set(status healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(serviceName, status)
}
