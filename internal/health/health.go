// Package health serves the liveness and readiness probes.
//
// /healthz reports 200 whenever the process can serve HTTP. /readyz runs
// every registered [Checker] and reports 200 only if all of them pass,
// returning a JSON body with per-check outcomes either way.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// probeTimeout bounds each individual readiness check.
const probeTimeout = 5 * time.Second

// Checker probes one dependency. Check returns nil when the dependency is
// usable and must honor context cancellation.
type Checker struct {
	// Name keys the check's outcome in the /readyz response body.
	Name string

	Check func(ctx context.Context) error
}

// Handler answers /healthz and /readyz. The checker set is fixed at
// construction, so the handler is safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New builds a [Handler] over the given checkers.
func New(checkers ...Checker) *Handler {
	h := &Handler{checkers: make([]Checker, len(checkers))}
	copy(h.checkers, checkers)
	return h
}

// Register mounts the probe routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.live)
	mux.HandleFunc("GET /readyz", h.ready)
}

type probeBody struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (h *Handler) live(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, probeBody{Status: "ok"})
}

// ready runs the checkers concurrently, each under its own timeout, and
// reports 503 if any of them fail.
func (h *Handler) ready(w http.ResponseWriter, r *http.Request) {
	outcomes := make([]error, len(h.checkers))

	var wg sync.WaitGroup
	for i, c := range h.checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
			defer cancel()
			outcomes[i] = c.Check(ctx)
		}()
	}
	wg.Wait()

	body := probeBody{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	code := http.StatusOK
	for i, c := range h.checkers {
		if err := outcomes[i]; err != nil {
			body.Checks[c.Name] = "fail: " + err.Error()
			body.Status = "fail"
			code = http.StatusServiceUnavailable
		} else {
			body.Checks[c.Name] = "ok"
		}
	}
	respond(w, code, body)
}

func respond(w http.ResponseWriter, code int, body probeBody) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
