package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddlewareRecordsRequests(t *testing.T) {
	reg := NewRegistry()
	handler := reg.Middleware("invoke", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	for range 2 {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", nil))
	}

	if got := testutil.ToFloat64(reg.httpCount.WithLabelValues("invoke", http.MethodPost, "500")); got != 2 {
		t.Fatalf("expected 2 requests, got %v", got)
	}
	if got := testutil.ToFloat64(reg.httpErrors.WithLabelValues("invoke", http.MethodPost)); got != 2 {
		t.Fatalf("expected 2 errors, got %v", got)
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	reg := NewRegistry()
	reg.ObserveHTTPRequest("groups", http.MethodGet, http.StatusOK, 10*time.Millisecond)

	srv := httptest.NewServer(reg.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{
		`invokechain_http_requests_total{code="200",handler="groups",method="GET"} 1`,
		"invokechain_http_request_duration_seconds_bucket",
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}

func TestNewInvocationMetricsReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewInvocationMetrics(reg)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	second, err := NewInvocationMetrics(reg)
	if err != nil {
		t.Fatalf("register again: %v", err)
	}
	first.Calls.WithLabelValues("sum", "success").Inc()
	if got := testutil.ToFloat64(second.Calls.WithLabelValues("sum", "success")); got != 1 {
		t.Fatalf("collectors not shared, got %v", got)
	}
}
