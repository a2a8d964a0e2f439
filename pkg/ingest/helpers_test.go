package ingest

import (
	"fmt"

	collectorpb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"

	"github.com/winterwell/aiqa/pkg/store/spanstore"
)

func errUnavailableForTest() error {
	return fmt.Errorf("bulk insert: %w: connection refused", spanstore.ErrUnavailable)
}

func grpcRequest() *collectorpb.ExportTraceServiceRequest {
	return &collectorpb.ExportTraceServiceRequest{
		ResourceSpans: []*tracepb.ResourceSpans{{
			ScopeSpans: []*tracepb.ScopeSpans{{
				Spans: []*tracepb.Span{{
					TraceId:           []byte{0xa1, 0xa2, 0xa3, 0xa4, 0xa5, 0xa6, 0xa7, 0xa8, 0xa9, 0xaa, 0xab, 0xac, 0xad, 0xae, 0xaf, 0xab},
					SpanId:            []byte{1, 1, 1, 1, 1, 1, 1, 2},
					Name:              "grpc.export",
					StartTimeUnixNano: 1700000000000000000,
					EndTimeUnixNano:   1700000001000000000,
					Attributes: []*commonpb.KeyValue{{
						Key:   "inputTokens",
						Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: 10}},
					}},
				}},
			}},
		}},
	}
}
