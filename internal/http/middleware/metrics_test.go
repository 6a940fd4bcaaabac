package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_CountersUnmatchedAndSkip(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Metrics("/health"))

	r.GET("/guides/:id", func(c *gin.Context) { c.String(http.StatusOK, "hello") })
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/statusonly", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	// Baselines (other tests may share the registry)
	baseOK := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/guides/:id", "200"))
	base404 := testutil.ToFloat64(httpReqs.WithLabelValues("GET", unmatchedPath, "404"))
	baseHealth := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/health", "200"))

	for _, p := range []string{"/guides/abc", "/guides/def", "/does-not-exist", "/health", "/statusonly"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, p, nil))
	}

	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/guides/:id", "200")); got != baseOK+2 {
		t.Fatalf("route counter = %v; want %v", got, baseOK+2)
	}
	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", unmatchedPath, "404")); got != base404+1 {
		t.Fatalf("unmatched counter = %v; want %v", got, base404+1)
	}
	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/health", "200")); got != baseHealth {
		t.Fatalf("skipped path must not be counted, got %v want %v", got, baseHealth)
	}
	if inFlight := testutil.ToFloat64(httpInflight); inFlight != 0 {
		t.Fatalf("httpInflight = %v; want 0", inFlight)
	}
}
