// Package grpcsrv exposes the standard gRPC health service so orchestrators
// can probe the node without going through HTTP.
package grpcsrv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	"github.com/webitel/im-coalescer-service/infra/server/grpc/interceptors"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health entry reported alongside the overall "" entry.
const ServiceName = "webitel.im.coalescer"

type Server struct {
	srv    *grpc.Server
	health *health.Server
	logger *slog.Logger
}

func New(logger *slog.Logger) *Server {
	logger = logger.With("component", "grpc")
	adapter := interceptors.SlogAdapter(logger)
	logOpts := []logging.Option{logging.WithLogOnEvents(logging.FinishCall)}

	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    5 * time.Minute,
			Timeout: time.Minute,
		}),
		grpc.ChainUnaryInterceptor(
			recovery.UnaryServerInterceptor(interceptors.RecoveryHandler(logger)),
			logging.UnaryServerInterceptor(adapter, logOpts...),
		),
		grpc.ChainStreamInterceptor(
			recovery.StreamServerInterceptor(interceptors.RecoveryHandler(logger)),
			interceptors.NewStreamLoggerInterceptor(logger),
			logging.StreamServerInterceptor(adapter, logOpts...),
		),
	)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	// NOT_SERVING until Serve is called.
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	return &Server{srv: srv, health: hs, logger: logger}
}

// Serve marks the node SERVING and blocks until the listener fails or the
// server is stopped.
func (s *Server) Serve(lis net.Listener) error {
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	s.logger.Info("GRPC_SERVER_STARTED", "addr", lis.Addr().String())

	if err := s.srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}

// Stop flips health to NOT_SERVING and drains in-flight calls until ctx ends.
func (s *Server) Stop(ctx context.Context) {
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.srv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.srv.Stop()
	}
	s.logger.Info("GRPC_SERVER_STOPPED")
}
