// Package health serves the engine's liveness and readiness probes.
//
//   - /healthz — liveness; a process that can serve HTTP is alive.
//   - /readyz  — readiness; 200 only when every registered [Checker]
//     passes. The response names each dependency (database, vector index,
//     model providers) with its probe latency, so a stuck readiness check
//     identifies the sick dependency directly.
//
// Responses are JSON: {"service": "aidm", "status": "ok"|"degraded",
// "checks": {"<name>": {"status": ..., "error": ..., "duration_ms": ...}}}.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// serviceName identifies the engine in probe responses, distinguishing it
// from collaborator adapters that may expose their own health endpoints on
// adjacent ports.
const serviceName = "aidm"

// checkTimeout bounds a single readiness probe. Kept well under the
// Stage-A soft timeout: a dependency that cannot answer a ping in this
// window cannot serve a turn either.
const checkTimeout = 5 * time.Second

// Checker is a named dependency probe. Check returns nil when the
// dependency can serve turn traffic.
type Checker struct {
	// Name labels the dependency in the JSON response ("database",
	// "profiles", "providers").
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// checkResult is one dependency's probe outcome.
type checkResult struct {
	Status     string `json:"status"` // ok | fail
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// response is the probe response body.
type response struct {
	Service string                 `json:"service"`
	Status  string                 `json:"status"` // ok | degraded
	Checks  map[string]checkResult `json:"checks,omitempty"`
}

// Handler serves the probe endpoints. Safe for concurrent use; the checker
// list is fixed at construction.
type Handler struct {
	checkers []Checker
}

// New creates a Handler evaluating the given checkers, in order, on each
// /readyz request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz is the liveness probe; it always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, response{Service: serviceName, Status: "ok"})
}

// Readyz is the readiness probe: 200 when every dependency passes, 503
// with the failing checks named otherwise.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]checkResult, len(h.checkers))
	ready := true

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		start := time.Now()
		err := c.Check(ctx)
		elapsed := time.Since(start).Milliseconds()
		cancel()

		res := checkResult{Status: "ok", DurationMs: elapsed}
		if err != nil {
			res.Status = "fail"
			res.Error = err.Error()
			ready = false
		}
		checks[c.Name] = res
	}

	status := "ok"
	code := http.StatusOK
	if !ready {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, response{Service: serviceName, Status: status, Checks: checks})
}

func writeJSON(w http.ResponseWriter, code int, body response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
