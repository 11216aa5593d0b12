package rpc

import (
	"errors"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/wfunc/tictactoe/logger"
)

// ServiceName is the health service name reported next to the overall
// ("") status.
const ServiceName = "tictactoe.GameServer"

// Server manages the gRPC listener. It only carries the standard health
// service, for load balancers and orchestrators.
type Server struct {
	listener net.Listener
	grpc     *grpc.Server
	health   *health.Server
}

// NewServer binds addr and marks the process as serving.
func NewServer(addr string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen rpc %s: %w", addr, err)
	}

	s := &Server{
		listener: listener,
		grpc:     grpc.NewServer(),
		health:   health.NewServer(),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return s, nil
}

// Addr is the bound address, useful when listening on port 0.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Start serves until Stop.
func (s *Server) Start() error {
	logger.Log.Infow("rpc server listening", "address", s.Addr())
	if err := s.grpc.Serve(s.listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve rpc: %w", err)
	}
	return nil
}

// Drain reports NOT_SERVING so health checkers stop routing new players
// here while the process winds down.
func (s *Server) Drain() {
	s.health.Shutdown()
}

// Stop drains and then closes the listener, letting in-flight calls finish.
func (s *Server) Stop() {
	logger.Log.Info("stopping rpc server")
	s.Drain()
	s.grpc.GracefulStop()
}
