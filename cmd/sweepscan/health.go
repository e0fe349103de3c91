package main

import (
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/sweepscan/internal/monitoring"
)

// healthService reports one grpc.health.v1 service per sensor source plus
// the overall ("") status.
type healthService struct {
	hs     *health.Server
	server *grpc.Server
	lis    net.Listener
}

func newHealthService(sources ...string) *healthService {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	for _, s := range sources {
		hs.SetServingStatus(s, healthpb.HealthCheckResponse_SERVING)
	}
	return &healthService{hs: hs}
}

// sourceStopped marks a source as no longer serving. It is the fusion
// controller's OnSourceStopped hook.
func (h *healthService) sourceStopped(source string, err error) {
	monitoring.Logf("health: %s stopped: %v", source, err)
	h.hs.SetServingStatus(source, healthpb.HealthCheckResponse_NOT_SERVING)
}

// start listens on addr and serves the health service in the background.
func (h *healthService) start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	h.lis = lis
	h.server = grpc.NewServer()
	healthpb.RegisterHealthServer(h.server, h.hs)
	go func() {
		if err := h.server.Serve(lis); err != nil {
			monitoring.Logf("grpc health server error: %v", err)
		}
	}()
	monitoring.Logf("grpc health listening on %s", lis.Addr())
	return nil
}

// stop marks everything NOT_SERVING and stops the server if it was started.
func (h *healthService) stop() {
	h.hs.Shutdown()
	if h.server != nil {
		h.server.GracefulStop()
	}
}
