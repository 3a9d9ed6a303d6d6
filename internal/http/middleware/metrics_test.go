package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_UsesRouteTemplate(t *testing.T) {
	ok := httpReqs.WithLabelValues(http.MethodGet, "/c/:id", "200")
	miss := httpReqs.WithLabelValues(http.MethodGet, "unmatched", "404")
	beforeOK, beforeMiss := testutil.ToFloat64(ok), testutil.ToFloat64(miss)

	serve(t, http.MethodGet, "/c/:id", httptest.NewRequest(http.MethodGet, "/c/123", nil), nil, Metrics())
	serve(t, http.MethodGet, "/c/:id", httptest.NewRequest(http.MethodGet, "/nope", nil), nil, Metrics())

	if d := testutil.ToFloat64(ok) - beforeOK; d != 1 {
		t.Fatalf("route counter delta = %v", d)
	}
	if d := testutil.ToFloat64(miss) - beforeMiss; d != 1 {
		t.Fatalf("unmatched counter delta = %v", d)
	}
	if v := testutil.ToFloat64(httpInflight); v != 0 {
		t.Fatalf("inflight = %v", v)
	}
}
