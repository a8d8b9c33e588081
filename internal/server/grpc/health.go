package grpc

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// STTServiceName is the health service name reported for the transcription endpoint.
const STTServiceName = "sttd.v1.STT"

// Readiness reports whether the transcription model is loaded.
type Readiness interface {
	Ready() bool
}

// HealthServer exposes grpc.health.v1 for the process and the STT service.
type HealthServer struct {
	server *grpc.Server
	health *health.Server
}

// NewHealthServer creates a gRPC server with the health and reflection services registered.
// Both the overall and the STT status start as NOT_SERVING.
func NewHealthServer() *HealthServer {
	server := grpc.NewServer()
	hs := health.NewServer()

	healthpb.RegisterHealthServer(server, hs)
	reflection.Register(server)

	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(STTServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	return &HealthServer{server: server, health: hs}
}

// Sync copies the readiness of r into the health statuses.
func (h *HealthServer) Sync(r Readiness) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if r.Ready() {
		status = healthpb.HealthCheckResponse_SERVING
	}

	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(STTServiceName, status)
}

// Serve accepts connections on lis until Shutdown.
func (h *HealthServer) Serve(lis net.Listener) error {
	slog.Info("gRPC health server listening", "addr", lis.Addr().String())

	if err := h.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}

	return nil
}

// Shutdown marks everything NOT_SERVING and stops the server, forcing it after ctx expires.
func (h *HealthServer) Shutdown(ctx context.Context) {
	h.health.Shutdown()

	done := make(chan struct{})
	go func() {
		h.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		h.server.Stop()
	}
}
