package otlp

import (
	"fmt"
	"mime"
	"strings"

	"github.com/winterwell/aiqa/pkg/span"
)

// Content types accepted by Decode.
const (
	ContentTypeJSON     = "application/json"
	ContentTypeProtobuf = "application/x-protobuf"
	// ContentTypeProtobufAlt is the variant some exporters send.
	ContentTypeProtobufAlt = "application/protobuf"
)

// DecodeError marks a malformed or invalid export request. It maps to
// HTTP 400 with OTLP code 3 (INVALID_ARGUMENT).
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

func invalidf(format string, args ...any) *DecodeError {
	return &DecodeError{Reason: fmt.Sprintf(format, args...)}
}

// Decode parses an OTLP export request body according to contentType and
// returns the batch in document order. An empty resourceSpans list decodes
// to an empty batch with no error. Unrecognised content types and malformed
// bodies return a *DecodeError.
func Decode(body []byte, contentType string) ([]*span.Span, error) {
	mt := contentType
	if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
		mt = parsed
	}
	switch strings.ToLower(mt) {
	case ContentTypeJSON:
		return decodeJSON(body)
	case ContentTypeProtobuf, ContentTypeProtobufAlt:
		return decodeProto(body)
	}
	return nil, invalidf("unsupported content type %q", contentType)
}

// ValidateBatch rejects a batch containing any span without a trace id or
// span id. The whole batch is refused so partially-identified trees never
// reach the store.
func ValidateBatch(spans []*span.Span) error {
	for _, s := range spans {
		if s.Trace == "" || s.ID == "" {
			return invalidf("span missing trace or span id")
		}
	}
	return nil
}

// reserved attribute keys promoted to top-level span fields at decode time.
const (
	attrExample    = "example"
	attrExperiment = "experiment"
)

// finishSpan applies the shared post-decode normalisation: resource
// attributes are merged over span attributes (resource keys win, so service
// identity is never shadowed by per-span tags), the reserved example and
// experiment keys are promoted, and the duration is derived.
func finishSpan(s *span.Span) {
	for k, v := range s.Resource {
		s.SetAttr(k, v)
	}
	if v, ok := s.Attr(attrExample); ok {
		s.Example = v.AsString()
		delete(s.Attributes, attrExample)
	}
	if v, ok := s.Attr(attrExperiment); ok {
		s.Experiment = v.AsString()
		delete(s.Attributes, attrExperiment)
	}
	s.FillDuration()
}
