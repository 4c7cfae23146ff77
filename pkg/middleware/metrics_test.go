package middleware

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/vango-dev/uisync/pkg/push"
	"github.com/vango-dev/uisync/pkg/rpc"
	"github.com/vango-dev/uisync/pkg/upload"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewMetrics(WithRegistry(reg), WithNamespace("test")), reg
}

func metricValue(t *testing.T, c prometheus.Metric) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("metric Write() error: %v", err)
	}
	switch {
	case m.Counter != nil:
		return m.GetCounter().GetValue()
	case m.Gauge != nil:
		return m.GetGauge().GetValue()
	}
	t.Fatalf("metric %v is neither counter nor gauge", c.Desc())
	return 0
}

func seriesCount(c prometheus.Collector) int {
	ch := make(chan prometheus.Metric)
	go func() {
		c.Collect(ch)
		close(ch)
	}()
	n := 0
	for range ch {
		n++
	}
	return n
}

func TestMetricsObserver(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()
	if got := metricValue(t, m.activeSessions); got != 1 {
		t.Fatalf("active_sessions = %v, want 1", got)
	}
	if got := metricValue(t, m.sessionsTotal); got != 2 {
		t.Fatalf("sessions_total = %v, want 2", got)
	}

	m.Dispatched(rpc.Result{Applied: 3, Skipped: 1})
	tests := []struct {
		result string
		want   float64
	}{
		{"applied", 3},
		{"skipped", 1},
		{"failed", 0},
	}
	for _, tc := range tests {
		if got := metricValue(t, m.invocationsTotal.WithLabelValues(tc.result)); got != tc.want {
			t.Errorf("invocations_total{result=%q} = %v, want %v", tc.result, got, tc.want)
		}
	}

	m.MessageRejected("security")
	if got := metricValue(t, m.rejectedTotal.WithLabelValues("security")); got != 1 {
		t.Fatalf("messages_rejected_total = %v, want 1", got)
	}

	m.PushConnected(push.WebSocket)
	m.PushConnected(push.LongPolling)
	m.PushDisconnected(push.WebSocket)
	if got := metricValue(t, m.pushConnections.WithLabelValues(push.WebSocket.String())); got != 0 {
		t.Fatalf("push_connections{websocket} = %v, want 0", got)
	}
	if got := metricValue(t, m.pushConnections.WithLabelValues(push.LongPolling.String())); got != 1 {
		t.Fatalf("push_connections{long-polling} = %v, want 1", got)
	}
}

func TestMetricsUploadOutcome(t *testing.T) {
	tests := []struct {
		name string
		res  upload.Result
		err  error
		want string
	}{
		{"complete", upload.Result{Outcome: upload.Complete, Bytes: 10}, nil, "complete"},
		{"interrupted", upload.Result{Outcome: upload.Interrupted, Bytes: 4}, nil, "interrupted"},
		{"failed", upload.Result{Outcome: upload.Failed}, errors.New("boom"), "failed"},
		{"rejected_before_streaming", upload.Result{}, errors.New("no target"), "error"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m, _ := newTestMetrics(t)
			m.UploadDone(tc.res, tc.err)
			if got := metricValue(t, m.uploadsTotal.WithLabelValues(tc.want)); got != 1 {
				t.Fatalf("uploads_total{outcome=%q} = %v, want 1", tc.want, got)
			}
			if got := metricValue(t, m.uploadBytes); got != float64(tc.res.Bytes) {
				t.Fatalf("upload_bytes_total = %v, want %d", got, tc.res.Bytes)
			}
		})
	}
}

func TestMetricsHTTPUsesRoutePattern(t *testing.T) {
	m, _ := newTestMetrics(t)
	r := chi.NewRouter()
	r.Use(m.HTTP)
	r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	for _, path := range []string{"/items/1", "/items/2", "/missing"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	if got := metricValue(t, m.requestsTotal.WithLabelValues("/items/{id}", "GET", "204")); got != 2 {
		t.Fatalf("requests_total{/items/{id}} = %v, want 2", got)
	}
	if got := seriesCount(m.requestDuration); got != 2 {
		t.Fatalf("request_duration series = %d, want 2", got)
	}
}

func TestMetricsHandler(t *testing.T) {
	m, _ := newTestMetrics(t)
	m.SessionOpened()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "test_active_sessions 1") {
		t.Fatalf("metrics output lacks active sessions:\n%s", body)
	}
}
