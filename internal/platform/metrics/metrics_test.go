package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func scrape(t *testing.T, m *Metrics, update func()) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler(update).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape: expected 200, got %d", rec.Code)
	}
	return rec.Body.String()
}

func TestMetrics_relay_series(t *testing.T) {
	m := New()
	m.ListenerConnected("jazz")
	m.ListenerConnected("jazz")
	m.ListenerDisconnected("jazz")
	m.ObserveTrack("jazz", "ok")
	m.ObserveResolution("jazz", "failed")
	m.AddBytes("jazz", 2048)
	m.IncListenerDrops("jazz")

	body := scrape(t, m, func() { m.SetBufferedChunks("jazz", 7) })

	for _, want := range []string{
		`relay_listeners{playlist="jazz"} 1`,
		`relay_tracks_total{playlist="jazz",result="ok"} 1`,
		`relay_resolutions_total{playlist="jazz",result="failed"} 1`,
		`relay_bytes_total{playlist="jazz"} 2048`,
		`relay_buffer_chunks{playlist="jazz"} 7`,
		`relay_listener_drops_total{playlist="jazz"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q in scrape:\n%s", want, body)
		}
	}
}

func TestRequestMiddleware_counts_errors(t *testing.T) {
	m := New()
	h := RequestMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte("ok"))
	}))

	for _, p := range []string{"/ok", "/missing", "/ok"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}

	body := scrape(t, m, nil)
	if !strings.Contains(body, "relay_requests_total 3") {
		t.Errorf("expected 3 requests:\n%s", body)
	}
	if !strings.Contains(body, "relay_errors_total 1") {
		t.Errorf("expected 1 error:\n%s", body)
	}
}
