package healthprobe

import (
	"net/http"
	"net/http/httptest"
	"testing"

	json "github.com/goccy/go-json"
)

func probe(t *testing.T, fn http.HandlerFunc) (int, Response) {
	t.Helper()

	rr := httptest.NewRecorder()
	fn(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	var resp Response
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	return rr.Code, resp
}

func TestHealthAlwaysOK(t *testing.T) {
	t.Parallel()

	hc := New()

	code, resp := probe(t, hc.Health())
	if code != http.StatusOK {
		t.Fatalf("health status = %d, want 200", code)
	}

	if resp.Status != "healthy" || resp.Uptime == "" {
		t.Fatalf("health body = %+v", resp)
	}

	// Readiness never affects liveness.
	hc.SetReady(false)

	if code, _ := probe(t, hc.Health()); code != http.StatusOK {
		t.Fatalf("health status after not-ready = %d, want 200", code)
	}
}

func TestReadyFollowsGate(t *testing.T) {
	t.Parallel()

	hc := New()

	code, resp := probe(t, hc.Ready())
	if code != http.StatusServiceUnavailable {
		t.Fatalf("ready status before SetReady = %d, want 503", code)
	}

	if resp.Status != "not_ready" || resp.Message == "" {
		t.Fatalf("not-ready body = %+v", resp)
	}

	hc.SetReady(true)

	code, resp = probe(t, hc.Ready())
	if code != http.StatusOK {
		t.Fatalf("ready status after SetReady = %d, want 200", code)
	}

	if resp.Status != "ready" || resp.Uptime == "" {
		t.Fatalf("ready body = %+v", resp)
	}

	// Shutdown drops the gate again.
	hc.SetReady(false)

	if code, _ = probe(t, hc.Ready()); code != http.StatusServiceUnavailable {
		t.Fatalf("ready status after shutdown = %d, want 503", code)
	}
}
