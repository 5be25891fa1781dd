package server

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ExtractorService is the health service name reported next to the
// overall "" status.
const ExtractorService = "extractor"

// NewGRPCServer returns a gRPC server carrying the standard health service
// and reflection. The health status follows checker until ctx is done.
func NewGRPCServer(ctx context.Context, checker HealthChecker, interval time.Duration, logger *slog.Logger) *grpc.Server {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	set := func(st healthpb.HealthCheckResponse_ServingStatus) {
		hs.SetServingStatus("", st)
		hs.SetServingStatus(ExtractorService, st)
	}
	probe := func() {
		if checker == nil {
			set(healthpb.HealthCheckResponse_SERVING)
			return
		}
		if err := checker.HealthCheck(ctx, interval/2); err != nil {
			logger.Warn("grpc.health.not_serving", "error", err)
			set(healthpb.HealthCheckResponse_NOT_SERVING)
			return
		}
		set(healthpb.HealthCheckResponse_SERVING)
	}
	probe()

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				hs.Shutdown()
				return
			case <-t.C:
				probe()
			}
		}
	}()
	return srv
}
