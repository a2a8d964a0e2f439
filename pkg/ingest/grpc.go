package ingest

import (
	"context"
	"errors"
	"log/slog"

	collectorpb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/winterwell/aiqa/pkg/auth"
	"github.com/winterwell/aiqa/pkg/otlp"
)

// GRPCService implements opentelemetry.proto.collector.trace.v1.TraceService
// with the same pipeline semantics as the HTTP endpoint.
type GRPCService struct {
	collectorpb.UnimplementedTraceServiceServer
	pipeline *Pipeline
}

// NewGRPCService creates the gRPC trace export service.
func NewGRPCService(p *Pipeline) *GRPCService {
	return &GRPCService{pipeline: p}
}

// Export handles one ExportTraceServiceRequest.
func (s *GRPCService) Export(ctx context.Context, req *collectorpb.ExportTraceServiceRequest) (*collectorpb.ExportTraceServiceResponse, error) {
	principal := auth.FromContext(ctx)
	if principal == nil {
		return nil, status.Error(codes.Unauthenticated, "unauthenticated")
	}
	if !principal.CanIngest() {
		return nil, status.Error(codes.PermissionDenied, "role lacks trace ingest permission")
	}

	batch := otlp.FromProtoRequest(req)
	if err := s.pipeline.ExportSpans(ctx, principal.Tenant, batch); err != nil {
		return nil, toGRPCStatus(err)
	}
	return &collectorpb.ExportTraceServiceResponse{}, nil
}

// toGRPCStatus maps a pipeline StatusError onto gRPC codes. Rate limiting
// and store outages both surface as UNAVAILABLE (code 14), matching the
// OTLP retryable-failure convention.
func toGRPCStatus(err error) error {
	se := asStatusError(err)
	switch se.Code {
	case CodeInvalidArgument:
		return status.Error(codes.InvalidArgument, se.Message)
	case CodeUnavailable:
		return status.Error(codes.Unavailable, se.Message)
	}
	return status.Error(codes.Unknown, se.Message)
}

// UnaryAuthInterceptor authenticates every unary call from the
// "authorization" metadata entry and stores the principal on the context.
func UnaryAuthInterceptor(authenticator *auth.Authenticator, logger *slog.Logger) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		var header string
		if vals := md.Get("authorization"); len(vals) > 0 {
			header = vals[0]
		}
		principal, err := authenticator.Authenticate(ctx, header)
		if err != nil {
			if errors.Is(err, auth.ErrUnauthenticated) {
				return nil, status.Error(codes.Unauthenticated, "unauthenticated")
			}
			logger.Warn("grpc authentication failed", "error", err)
			return nil, status.Error(codes.Internal, "authentication failed")
		}
		return handler(auth.WithPrincipal(ctx, principal), req)
	}
}
