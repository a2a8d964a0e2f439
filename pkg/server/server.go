// Package server owns the HTTP and gRPC listeners: routing, the middleware
// chain, and graceful lifecycle.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	collectorpb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	"google.golang.org/grpc"

	"github.com/winterwell/aiqa/pkg/auth"
	"github.com/winterwell/aiqa/pkg/config"
	"github.com/winterwell/aiqa/pkg/ingest"
	"github.com/winterwell/aiqa/pkg/telemetry/health"
)

// Server is the ingest service front end.
type Server struct {
	config        *config.ServerConfig
	authenticator *auth.Authenticator
	pipeline      *ingest.Pipeline
	registry      *prometheus.Registry
	healthChecks  []health.Check
	logger        *slog.Logger

	httpServer   *http.Server
	grpcServer   *grpc.Server
	shutdownOnce sync.Once
	shutdownChan chan struct{}
}

// New wires a server. registry may be nil to disable /metrics.
func New(cfg *config.ServerConfig, authenticator *auth.Authenticator, pipeline *ingest.Pipeline,
	registry *prometheus.Registry, checks []health.Check, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:        cfg,
		authenticator: authenticator,
		pipeline:      pipeline,
		registry:      registry,
		healthChecks:  checks,
		logger:        logger.With("component", "server"),
		shutdownChan:  make(chan struct{}),
	}
}

// Routes builds the HTTP handler with the full middleware chain.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	traces := http.Handler(ingest.NewHandler(s.pipeline))
	traces = AuthMiddleware(s.authenticator)(traces)
	mux.Handle("/v1/traces", traces)

	mux.Handle("/healthz", health.Handler(s.healthChecks...))
	if s.registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	var handler http.Handler = mux
	handler = LoggingMiddleware(handler)
	handler = RecoveryMiddleware(handler)
	handler = RequestIDMiddleware(handler)
	return handler
}

// Start runs the listeners and blocks until shutdown by signal, context
// cancellation, or listener error.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.config.ListenAddress,
		Handler:      s.Routes(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	errChan := make(chan error, 2)

	go func() {
		s.logger.Info("http listener starting", "address", s.config.ListenAddress)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("http server: %w", err)
		}
	}()

	if s.config.GRPCListenAddress != "" {
		lis, err := net.Listen("tcp", s.config.GRPCListenAddress)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		s.grpcServer = grpc.NewServer(
			grpc.UnaryInterceptor(ingest.UnaryAuthInterceptor(s.authenticator, s.logger)),
		)
		collectorpb.RegisterTraceServiceServer(s.grpcServer, ingest.NewGRPCService(s.pipeline))
		go func() {
			s.logger.Info("grpc listener starting", "address", s.config.GRPCListenAddress)
			if err := s.grpcServer.Serve(lis); err != nil {
				errChan <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down")
		return s.Shutdown(context.Background())
	case sig := <-sigChan:
		s.logger.Info("signal received, shutting down", "signal", sig.String())
		return s.Shutdown(context.Background())
	case err := <-errChan:
		_ = s.Shutdown(context.Background())
		return err
	case <-s.shutdownChan:
		return nil
	}
}

// Shutdown stops the listeners gracefully and drains post-response work.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()

		if s.httpServer != nil {
			err = s.httpServer.Shutdown(ctx)
		}
		if s.grpcServer != nil {
			s.grpcServer.GracefulStop()
		}
		s.pipeline.Drain()
		close(s.shutdownChan)
		s.logger.Info("shutdown complete")
	})
	return err
}
