package grpc

import (
	"fmt"
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/weiawesome/site-journal/pkg/log"
)

// ServiceName is the health service name orchestrators probe.
const ServiceName = "journal.chat"

// Server exposes grpc.health.v1.Health for the chat service.
type Server struct {
	srv    *grpc.Server
	health *health.Server
	lis    net.Listener
}

// StartGRPCServer listens on addr and serves health checks in the background.
func StartGRPCServer(addr string, logger zerolog.Logger) (*Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s := grpc.NewServer(
		grpc.UnaryInterceptor(log.UnaryServerInterceptor(logger)),
		grpc.StreamInterceptor(log.StreamServerInterceptor(logger)),
	)
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)

	go func() {
		l := log.L()
		l.Info().Str("address", lis.Addr().String()).Msg("grpc health server listening")
		if err := s.Serve(lis); err != nil {
			l.Error().Err(err).Msg("grpc server error")
		}
	}()

	return &Server{srv: s, health: hs, lis: lis}, nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr {
	return s.lis.Addr()
}

// Shutdown reports NOT_SERVING to every watcher, then stops gracefully.
func (s *Server) Shutdown() {
	s.health.Shutdown()
	s.srv.GracefulStop()
}
