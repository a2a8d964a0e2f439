package otlp

import (
	"encoding/base64"
	"encoding/json"
	"strconv"

	"github.com/winterwell/aiqa/pkg/span"
)

// The JSON request mirror. Field names follow the OTLP JSON mapping; value
// types are widened where exporters disagree with the mapping in practice.

type jsonExportRequest struct {
	ResourceSpans []jsonResourceSpans `json:"resourceSpans"`
}

type jsonResourceSpans struct {
	Resource   *jsonResource    `json:"resource"`
	ScopeSpans []jsonScopeSpans `json:"scopeSpans"`
}

type jsonResource struct {
	Attributes []jsonKeyValue `json:"attributes"`
}

type jsonScopeSpans struct {
	Scope *jsonScope `json:"scope"`
	Spans []jsonSpan `json:"spans"`
}

type jsonScope struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type jsonSpan struct {
	TraceID                string         `json:"traceId"`
	SpanID                 string         `json:"spanId"`
	ParentSpanID           string         `json:"parentSpanId"`
	Name                   string         `json:"name"`
	Kind                   flexInt        `json:"kind"`
	StartTimeUnixNano      *flexTime      `json:"startTimeUnixNano"`
	EndTimeUnixNano        *flexTime      `json:"endTimeUnixNano"`
	Attributes             []jsonKeyValue `json:"attributes"`
	Events                 []jsonEvent    `json:"events"`
	Links                  []jsonLink     `json:"links"`
	Status                 *jsonStatus    `json:"status"`
	DroppedAttributesCount uint32         `json:"droppedAttributesCount"`
	DroppedEventsCount     uint32         `json:"droppedEventsCount"`
	DroppedLinksCount      uint32         `json:"droppedLinksCount"`
}

type jsonEvent struct {
	Name         string         `json:"name"`
	TimeUnixNano *flexTime      `json:"timeUnixNano"`
	Attributes   []jsonKeyValue `json:"attributes"`
}

type jsonLink struct {
	TraceID    string         `json:"traceId"`
	SpanID     string         `json:"spanId"`
	Attributes []jsonKeyValue `json:"attributes"`
}

type jsonStatus struct {
	Code    flexInt `json:"code"`
	Message string  `json:"message"`
}

type jsonKeyValue struct {
	Key   string        `json:"key"`
	Value jsonAnyValue  `json:"value"`
}

type jsonAnyValue struct {
	StringValue *string          `json:"stringValue"`
	BoolValue   *bool            `json:"boolValue"`
	IntValue    *flexInt         `json:"intValue"`
	DoubleValue *float64         `json:"doubleValue"`
	BytesValue  *string          `json:"bytesValue"`
	ArrayValue  *jsonArrayValue  `json:"arrayValue"`
	KvlistValue *jsonKvlistValue `json:"kvlistValue"`
}

type jsonArrayValue struct {
	Values []jsonAnyValue `json:"values"`
}

type jsonKvlistValue struct {
	Values []jsonKeyValue `json:"values"`
}

// flexInt decodes a JSON number or a numeric string. The OTLP JSON mapping
// encodes int64 as a string; many exporters send a bare number anyway.
type flexInt int64

func (f *flexInt) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return err
		}
		*f = flexInt(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = flexInt(int64(v))
	return nil
}

// flexTime decodes a timestamp in any of the accepted shapes: a number
// (nanoseconds or milliseconds by magnitude), a numeric string, an ISO-8601
// string, or a [seconds, nanos] pair. The decoded value is epoch ms.
type flexTime int64

func (f *flexTime) UnmarshalJSON(data []byte) error {
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		// integer first: float64 cannot hold a nanosecond epoch exactly
		if v, err := strconv.ParseInt(s, 10, 64); err == nil {
			*f = flexTime(epochMillisInt(v))
			return nil
		}
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			*f = flexTime(epochMillis(v))
			return nil
		}
		ms, ok := parseISO(s)
		if !ok {
			return invalidf("unparseable timestamp %q", s)
		}
		*f = flexTime(ms)
		return nil
	case '[':
		var pair []float64
		if err := json.Unmarshal(data, &pair); err != nil {
			return err
		}
		if len(pair) != 2 {
			return invalidf("timestamp pair must be [seconds, nanos]")
		}
		*f = flexTime(int64(pair[0])*1000 + int64(pair[1])/1e6)
		return nil
	default:
		if v, err := strconv.ParseInt(string(data), 10, 64); err == nil {
			*f = flexTime(epochMillisInt(v))
			return nil
		}
		var v float64
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*f = flexTime(epochMillis(v))
		return nil
	}
}

func decodeJSON(body []byte) ([]*span.Span, error) {
	var req jsonExportRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, &DecodeError{Reason: "malformed OTLP JSON", Err: err}
	}
	var out []*span.Span
	for _, rs := range req.ResourceSpans {
		var resource map[string]span.Value
		if rs.Resource != nil {
			resource = attrsFromJSON(rs.Resource.Attributes)
		}
		for _, ss := range rs.ScopeSpans {
			var scope span.Scope
			if ss.Scope != nil {
				scope = span.Scope{Name: ss.Scope.Name, Version: ss.Scope.Version}
			}
			for _, js := range ss.Spans {
				s := convertJSONSpan(js, resource, scope)
				out = append(out, s)
			}
		}
	}
	return out, nil
}

func convertJSONSpan(js jsonSpan, resource map[string]span.Value, scope span.Scope) *span.Span {
	s := &span.Span{
		ID:                     normalizeID(js.SpanID),
		Trace:                  normalizeID(js.TraceID),
		Parent:                 normalizeParent(js.ParentSpanID),
		Name:                   js.Name,
		Kind:                   int(js.Kind),
		Attributes:             attrsFromJSON(js.Attributes),
		Resource:               resource,
		Scope:                  scope,
		DroppedAttributesCount: js.DroppedAttributesCount,
		DroppedEventsCount:     js.DroppedEventsCount,
		DroppedLinksCount:      js.DroppedLinksCount,
	}
	if js.StartTimeUnixNano != nil {
		s.Start = int64(*js.StartTimeUnixNano)
	}
	if js.EndTimeUnixNano != nil {
		s.End = int64(*js.EndTimeUnixNano)
		s.Ended = true
	} else {
		// In-progress span: pin end to start until a later export ends it.
		s.End = s.Start
		s.Ended = false
	}
	if js.Status != nil {
		s.Status = span.Status{Code: int(js.Status.Code), Message: js.Status.Message}
	}
	for _, e := range js.Events {
		ev := span.Event{Name: e.Name, Attributes: attrsFromJSON(e.Attributes)}
		if e.TimeUnixNano != nil {
			ev.Time = int64(*e.TimeUnixNano)
		}
		s.Events = append(s.Events, ev)
	}
	for _, l := range js.Links {
		s.Links = append(s.Links, span.Link{
			Trace:      normalizeID(l.TraceID),
			Span:       normalizeID(l.SpanID),
			Attributes: attrsFromJSON(l.Attributes),
		})
	}
	finishSpan(s)
	return s
}

func attrsFromJSON(kvs []jsonKeyValue) map[string]span.Value {
	if len(kvs) == 0 {
		return nil
	}
	m := make(map[string]span.Value, len(kvs))
	for _, kv := range kvs {
		m[kv.Key] = valueFromJSON(kv.Value)
	}
	return m
}

func valueFromJSON(v jsonAnyValue) span.Value {
	switch {
	case v.StringValue != nil:
		return span.StringValue(*v.StringValue)
	case v.BoolValue != nil:
		return span.BoolValue(*v.BoolValue)
	case v.IntValue != nil:
		return span.IntValue(int64(*v.IntValue))
	case v.DoubleValue != nil:
		return span.DoubleValue(*v.DoubleValue)
	case v.BytesValue != nil:
		raw, err := base64.StdEncoding.DecodeString(*v.BytesValue)
		if err != nil {
			return span.StringValue(*v.BytesValue)
		}
		return span.BytesValue(raw)
	case v.ArrayValue != nil:
		arr := make([]span.Value, 0, len(v.ArrayValue.Values))
		for _, e := range v.ArrayValue.Values {
			arr = append(arr, valueFromJSON(e))
		}
		return span.ArrayValue(arr)
	case v.KvlistValue != nil:
		m := make(map[string]span.Value, len(v.KvlistValue.Values))
		for _, kv := range v.KvlistValue.Values {
			m[kv.Key] = valueFromJSON(kv.Value)
		}
		return span.MapValue(m)
	}
	return span.Value{}
}
