package ingest

import (
	"compress/gzip"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/winterwell/aiqa/pkg/auth"
)

// maxBodyBytes caps export request bodies at 32 MiB.
const maxBodyBytes = 32 << 20

// Handler serves POST /v1/traces. It expects an authenticated principal in
// the request context, placed there by the auth middleware.
type Handler struct {
	pipeline *Pipeline
}

// NewHandler creates the HTTP trace export handler.
func NewHandler(p *Pipeline) *Handler {
	return &Handler{pipeline: p}
}

// ServeHTTP implements the OTLP/HTTP export contract.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, &StatusError{
			HTTPStatus: http.StatusMethodNotAllowed,
			Code:       CodeInvalidArgument,
			Message:    "method not allowed",
		})
		return
	}

	principal := auth.FromContext(r.Context())
	if principal == nil {
		writeError(w, &StatusError{
			HTTPStatus: http.StatusUnauthorized,
			Code:       CodeUnauthenticated,
			Message:    "unauthenticated",
		})
		return
	}
	if !principal.CanIngest() {
		writeError(w, &StatusError{
			HTTPStatus: http.StatusForbidden,
			Code:       CodePermissionDenied,
			Message:    "role lacks trace ingest permission",
		})
		return
	}

	body, err := readBody(r)
	if err != nil {
		writeError(w, invalidArgument(err))
		return
	}

	if err := h.pipeline.Export(r.Context(), principal.Tenant, body, r.Header.Get("Content-Type")); err != nil {
		writeError(w, asStatusError(err))
		return
	}

	// OTLP success: an empty ExportTraceServiceResponse.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("{}"))
}

func readBody(r *http.Request) ([]byte, error) {
	var reader io.Reader = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	if r.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(reader)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		reader = gz
	}
	return io.ReadAll(reader)
}

func writeError(w http.ResponseWriter, se *StatusError) {
	if se.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(se.RetryAfterSeconds, 10))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(se.HTTPStatus)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"code":    se.Code,
		"message": se.Message,
	})
}
