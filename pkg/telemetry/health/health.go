// Package health serves the liveness/readiness endpoint.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Pinger is any dependency that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Check is a named dependency probe.
type Check struct {
	Name   string
	Pinger Pinger
}

// Handler reports overall service health as JSON. Any failing dependency
// flips the response to 503 with per-check detail.
func Handler(checks ...Check) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		status := http.StatusOK
		detail := make(map[string]string, len(checks))
		for _, c := range checks {
			if err := c.Pinger.Ping(ctx); err != nil {
				status = http.StatusServiceUnavailable
				detail[c.Name] = err.Error()
				continue
			}
			detail[c.Name] = "ok"
		}

		overall := "ok"
		if status != http.StatusOK {
			overall = "degraded"
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": overall,
			"checks": detail,
		})
	})
}
