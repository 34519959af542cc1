// Package health provides HTTP liveness and readiness probes.
//
// Two endpoints are exposed:
//
//   - /healthz — liveness; returns 200 whenever the process serves HTTP.
//   - /readyz  — readiness; returns 200 only when every registered
//     [Check] passes, 503 otherwise.
//
// Responses are JSON objects with a "status" field ("ok" or "fail") and,
// for readiness, a "checks" map with the per-check outcome.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// probeTimeout bounds each readiness check so a hung dependency turns into a
// failed probe instead of a hung endpoint.
const probeTimeout = 5 * time.Second

// Check probes one dependency. Probe must return nil when the dependency is
// usable and must respect context cancellation.
type Check struct {
	// Name labels this check in the JSON response ("archive", "llm").
	Name string

	Probe func(ctx context.Context) error
}

type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the probe endpoints. The check list is fixed at construction
// time, so the handler is safe for concurrent use.
type Handler struct {
	checks []Check
}

// New creates a [Handler] evaluating checks, in order, on each /readyz request.
func New(checks ...Check) *Handler {
	h := &Handler{checks: make([]Check, len(checks))}
	copy(h.checks, checks)
	return h
}

// Healthz always answers 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, report{Status: "ok"})
}

// Readyz runs every check with a [probeTimeout] deadline derived from the
// request context and answers 503 if any of them fail.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := report{
		Status: "ok",
		Checks: make(map[string]string, len(h.checks)),
	}
	status := http.StatusOK

	for _, c := range h.checks {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		err := c.Probe(ctx)
		cancel()

		if err != nil {
			res.Checks[c.Name] = "fail: " + err.Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
		} else {
			res.Checks[c.Name] = "ok"
		}
	}

	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
