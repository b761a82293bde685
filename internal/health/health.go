// Package health provides HTTP liveness and readiness handlers.
//
//   - /healthz is the liveness check; always 200 OK.
//   - /readyz is the readiness check; 200 unless a required [Checker] fails.
//
// Responses are JSON objects with a top-level "status" field ("ok",
// "degraded" or "fail") and a "checks" map with the result of each checker.
// An informational checker that fails turns the status into "degraded"
// without failing readiness: the service stays usable, e.g. curation works
// without an extraction backend.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/MrWong99/meetgraph/internal/resilience"
	"github.com/MrWong99/meetgraph/pkg/graph"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named health check.
type Checker struct {
	// Name is the key in the JSON response (e.g. "graph", "extraction").
	Name string

	// Check returns nil when the dependency is healthy. It must respect
	// context cancellation.
	Check func(ctx context.Context) error

	// Informational checkers are reported but never fail readiness.
	Informational bool
}

// GraphChecker pings the graph store.
func GraphChecker(s graph.Store) Checker {
	return Checker{Name: "graph", Check: s.Ping}
}

// ErrExtractionNotConfigured is reported by [ExtractionChecker].
var ErrExtractionNotConfigured = errors.New("extraction backend not configured")

// ExtractionChecker reports whether an extraction backend is configured.
// configured is evaluated on every request so hot reloads are visible.
func ExtractionChecker(configured func() bool) Checker {
	return Checker{
		Name:          "extraction",
		Informational: true,
		Check: func(context.Context) error {
			if !configured() {
				return ErrExtractionNotConfigured
			}
			return nil
		},
	}
}

// CircuitChecker reports the extraction circuit breaker. An open breaker
// degrades readiness; extraction calls are being rejected until it tries
// the backend again.
func CircuitChecker(state func() resilience.State) Checker {
	return Checker{
		Name:          "extraction_circuit",
		Informational: true,
		Check: func(context.Context) error {
			if state() == resilience.StateOpen {
				return resilience.ErrCircuitOpen
			}
			return nil
		},
	}
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction time.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler]. Checkers run sequentially in the order given.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz always returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz runs every checker with a [checkTimeout] deadline derived from the
// request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := result{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	status := http.StatusOK

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		switch {
		case err == nil:
			res.Checks[c.Name] = "ok"
		case c.Informational:
			res.Checks[c.Name] = "degraded: " + err.Error()
			if res.Status == "ok" {
				res.Status = "degraded"
			}
		default:
			res.Checks[c.Name] = "fail: " + err.Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
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
