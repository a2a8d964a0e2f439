package ingest

import (
	"errors"
	"fmt"

	"github.com/winterwell/aiqa/pkg/otlp"
	"github.com/winterwell/aiqa/pkg/store/spanstore"
)

// OTLP status codes carried in error response bodies. They follow the gRPC
// numbering the OTLP/HTTP error shape reuses.
const (
	CodeInvalidArgument  = 3
	CodePermissionDenied = 7
	CodeUnavailable      = 14
	CodeUnauthenticated  = 16
)

// StatusError is an ingest failure with its full transport mapping: the
// HTTP status, the OTLP body code, and an optional Retry-After hint.
type StatusError struct {
	HTTPStatus        int
	Code              int
	Message           string
	RetryAfterSeconds int64
	cause             error
}

func (e *StatusError) Error() string { return e.Message }

func (e *StatusError) Unwrap() error { return e.cause }

func invalidArgument(cause error) *StatusError {
	return &StatusError{
		HTTPStatus: 400,
		Code:       CodeInvalidArgument,
		Message:    cause.Error(),
		cause:      cause,
	}
}

func rateLimited(retryAfterSeconds int64) *StatusError {
	return &StatusError{
		HTTPStatus:        429,
		Code:              CodeUnavailable,
		Message:           "Rate limit exceeded",
		RetryAfterSeconds: retryAfterSeconds,
	}
}

func storeUnavailable(cause error) *StatusError {
	return &StatusError{
		HTTPStatus: 503,
		Code:       CodeUnavailable,
		Message:    "span store unavailable",
		cause:      cause,
	}
}

// asStatusError normalises any pipeline error to a StatusError. Unclassified
// errors default to the store-unavailable shape: by the time the pipeline
// can fail unexpectedly, the only remaining fallible step is persistence.
func asStatusError(err error) *StatusError {
	var se *StatusError
	if errors.As(err, &se) {
		return se
	}
	var de *otlp.DecodeError
	if errors.As(err, &de) {
		return invalidArgument(de)
	}
	if errors.Is(err, spanstore.ErrUnavailable) {
		return storeUnavailable(err)
	}
	return &StatusError{
		HTTPStatus: 503,
		Code:       CodeUnavailable,
		Message:    fmt.Sprintf("ingest failed: %v", err),
		cause:      err,
	}
}
