// Package healthprobe implements the liveness and readiness probes.
package healthprobe

import (
	"net/http"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
)

// HealthChecker answers liveness (OK for as long as the process runs) and
// readiness (gated by the app around startup and shutdown).
type HealthChecker struct {
	startTime time.Time
	ready     atomic.Bool
}

// New returns a checker that reports not-ready until SetReady(true).
func New() *HealthChecker {
	return &HealthChecker{startTime: time.Now()}
}

// SetReady flips the readiness gate. The app raises it once every component
// is wired and drops it first thing during shutdown so load balancers stop
// routing before anything is torn down.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

// Response is the body of both probes.
type Response struct {
	Status  string `json:"status"`
	Uptime  string `json:"uptime"`
	Message string `json:"message,omitempty"`
}

// Health is the liveness handler; it always answers 200.
func (h *HealthChecker) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, Response{
			Status: "healthy",
			Uptime: time.Since(h.startTime).String(),
		})
	}
}

// Ready is the readiness handler; 200 once the app is serving, 503 before
// and after.
func (h *HealthChecker) Ready() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if !h.ready.Load() {
			writeJSON(w, http.StatusServiceUnavailable, Response{
				Status:  "not_ready",
				Message: "application is starting or stopping",
			})

			return
		}

		writeJSON(w, http.StatusOK, Response{
			Status: "ready",
			Uptime: time.Since(h.startTime).String(),
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
