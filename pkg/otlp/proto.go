package otlp

import (
	collectorpb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/protobuf/proto"

	"github.com/winterwell/aiqa/pkg/span"
)

func decodeProto(body []byte) ([]*span.Span, error) {
	var req collectorpb.ExportTraceServiceRequest
	if err := proto.Unmarshal(body, &req); err != nil {
		return nil, &DecodeError{Reason: "malformed OTLP protobuf", Err: err}
	}
	return FromProtoRequest(&req), nil
}

// FromProtoRequest converts an already-unmarshalled export request, for the
// gRPC endpoint where the transport has decoded the protobuf.
func FromProtoRequest(req *collectorpb.ExportTraceServiceRequest) []*span.Span {
	var out []*span.Span
	for _, rs := range req.GetResourceSpans() {
		var resource map[string]span.Value
		if r := rs.GetResource(); r != nil {
			resource = attrsFromProto(r.GetAttributes())
		}
		for _, ss := range rs.GetScopeSpans() {
			var scope span.Scope
			if sc := ss.GetScope(); sc != nil {
				scope = span.Scope{Name: sc.GetName(), Version: sc.GetVersion()}
			}
			for _, ps := range ss.GetSpans() {
				out = append(out, convertProtoSpan(ps, resource, scope))
			}
		}
	}
	return out
}

func convertProtoSpan(ps *tracepb.Span, resource map[string]span.Value, scope span.Scope) *span.Span {
	s := &span.Span{
		ID:                     idFromBytes(ps.GetSpanId()),
		Trace:                  idFromBytes(ps.GetTraceId()),
		Parent:                 parentFromBytes(ps.GetParentSpanId()),
		Name:                   ps.GetName(),
		Kind:                   int(ps.GetKind()),
		Start:                  int64(ps.GetStartTimeUnixNano() / 1e6),
		Attributes:             attrsFromProto(ps.GetAttributes()),
		Resource:               resource,
		Scope:                  scope,
		DroppedAttributesCount: ps.GetDroppedAttributesCount(),
		DroppedEventsCount:     ps.GetDroppedEventsCount(),
		DroppedLinksCount:      ps.GetDroppedLinksCount(),
	}
	if end := ps.GetEndTimeUnixNano(); end != 0 {
		s.End = int64(end / 1e6)
		s.Ended = true
	} else {
		s.End = s.Start
		s.Ended = false
	}
	if st := ps.GetStatus(); st != nil {
		s.Status = span.Status{Code: int(st.GetCode()), Message: st.GetMessage()}
	}
	for _, e := range ps.GetEvents() {
		s.Events = append(s.Events, span.Event{
			Name:       e.GetName(),
			Time:       int64(e.GetTimeUnixNano() / 1e6),
			Attributes: attrsFromProto(e.GetAttributes()),
		})
	}
	for _, l := range ps.GetLinks() {
		s.Links = append(s.Links, span.Link{
			Trace:      idFromBytes(l.GetTraceId()),
			Span:       idFromBytes(l.GetSpanId()),
			Attributes: attrsFromProto(l.GetAttributes()),
		})
	}
	finishSpan(s)
	return s
}

func attrsFromProto(kvs []*commonpb.KeyValue) map[string]span.Value {
	if len(kvs) == 0 {
		return nil
	}
	m := make(map[string]span.Value, len(kvs))
	for _, kv := range kvs {
		m[kv.GetKey()] = valueFromProto(kv.GetValue())
	}
	return m
}

func valueFromProto(v *commonpb.AnyValue) span.Value {
	switch t := v.GetValue().(type) {
	case *commonpb.AnyValue_StringValue:
		return span.StringValue(t.StringValue)
	case *commonpb.AnyValue_BoolValue:
		return span.BoolValue(t.BoolValue)
	case *commonpb.AnyValue_IntValue:
		return span.IntValue(t.IntValue)
	case *commonpb.AnyValue_DoubleValue:
		return span.DoubleValue(t.DoubleValue)
	case *commonpb.AnyValue_BytesValue:
		return span.BytesValue(t.BytesValue)
	case *commonpb.AnyValue_ArrayValue:
		arr := make([]span.Value, 0, len(t.ArrayValue.GetValues()))
		for _, e := range t.ArrayValue.GetValues() {
			arr = append(arr, valueFromProto(e))
		}
		return span.ArrayValue(arr)
	case *commonpb.AnyValue_KvlistValue:
		m := make(map[string]span.Value, len(t.KvlistValue.GetValues()))
		for _, kv := range t.KvlistValue.GetValues() {
			m[kv.GetKey()] = valueFromProto(kv.GetValue())
		}
		return span.MapValue(m)
	}
	return span.Value{}
}
