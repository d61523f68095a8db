// Package gateway binds the runtime facade to its gRPC surface.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/AcrylicShrimp/fathom/internal/runtime"
	"github.com/AcrylicShrimp/fathom/proto"
)

// Server hosts the RuntimeService.
type Server struct {
	grpc   *grpc.Server
	logger *slog.Logger
	addr   string
}

// NewServer wires the service implementation and the usual plumbing: health
// service, reflection, and logging interceptors.
func NewServer(addr string, rt *runtime.Runtime, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(loggingInterceptor(logger)),
		grpc.ChainStreamInterceptor(streamLoggingInterceptor(logger)),
	)

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("fathom", grpc_health_v1.HealthCheckResponse_SERVING)

	reflection.Register(grpcServer)
	proto.RegisterRuntimeServiceServer(grpcServer, newService(rt))

	return &Server{grpc: grpcServer, logger: logger, addr: addr}
}

// Listen binds the configured address. Split from Serve so the caller can
// distinguish bind errors (exit code 3) from serve errors.
func (s *Server) Listen() (net.Listener, error) {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", s.addr, err)
	}
	return listener, nil
}

// Serve blocks serving the listener.
func (s *Server) Serve(listener net.Listener) error {
	s.logger.Info("grpc server listening", "addr", listener.Addr().String())
	return s.grpc.Serve(listener)
}

// Shutdown attempts a graceful stop, falling back to a hard stop when the
// context expires.
func (s *Server) Shutdown(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpc.Stop()
	}
}

func loggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if err != nil {
			logger.Warn("rpc failed", "method", info.FullMethod, "duration", time.Since(start), "error", err)
		} else {
			logger.Debug("rpc handled", "method", info.FullMethod, "duration", time.Since(start))
		}
		return resp, err
	}
}

func streamLoggingInterceptor(logger *slog.Logger) grpc.StreamServerInterceptor {
	return func(srv any, stream grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, stream)
		logger.Debug("stream closed", "method", info.FullMethod, "duration", time.Since(start), "error", err)
		return err
	}
}
