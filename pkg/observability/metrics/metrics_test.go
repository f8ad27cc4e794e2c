package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func scrape(t *testing.T, r *Registry) string {
	t.Helper()
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	return rec.Body.String()
}

func TestRegistry_ExposesHTTPMetrics(t *testing.T) {
	registry := NewRegistry()
	RecordHTTPMetrics(http.MethodGet, "/api/*path", 200, 10*time.Millisecond)
	IncrementInFlight()
	DecrementInFlight()

	body := scrape(t, registry)
	for _, want := range []string{
		`http_requests_total{method="GET",path="/api/*path",status="200"}`,
		"http_request_duration_seconds_count",
		"http_requests_in_flight",
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in metrics output", want)
		}
	}
}

func TestRegistry_ExposesEngineMetrics(t *testing.T) {
	registry := NewRegistry()
	RecordStoreOperation("annotation", "find", "ok", 5*time.Millisecond)
	RecordReadRetry("annotation")
	RecordIndexRebuild(20*time.Millisecond, 3, nil)
	RecordIndexRebuild(time.Millisecond, 0, errors.New("boom"))

	body := scrape(t, registry)
	for _, want := range []string{
		`mds_store_operations_total{collection="annotation",operation="find",outcome="ok"}`,
		`mds_store_read_retries_total{collection="annotation"}`,
		`mds_relindex_rebuilds_total{result="ok"}`,
		`mds_relindex_rebuilds_total{result="error"}`,
		"mds_relindex_unmatched_sources 3",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in metrics output", want)
		}
	}
}

func TestRegistry_MultipleInstances(t *testing.T) {
	a := NewRegistry()
	b := NewRegistry()
	if a.Gatherer() == b.Gatherer() {
		t.Fatal("expected independent registries")
	}
}

func TestRegistry_MustRegisterCustomCollector(t *testing.T) {
	registry := NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "custom_total", Help: "custom"})
	registry.MustRegister(c)
	c.Inc()
	if !strings.Contains(scrape(t, registry), "custom_total 1") {
		t.Fatal("custom collector not exposed")
	}
}
