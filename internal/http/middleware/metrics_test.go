package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_CountersInflightAndPathFallback(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Metrics())
	r.POST("/analyses", func(c *gin.Context) { c.String(http.StatusCreated, "{}") })
	r.GET("/requests/:id", func(c *gin.Context) {
		abortJSON(c, http.StatusNotFound, "not_found", "Not found", "request not found")
	})

	baseOK := testutil.ToFloat64(httpReqs.WithLabelValues("POST", "/analyses", "201"))
	base404 := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/does-not-exist", "404"))
	baseErr := testutil.ToFloat64(httpErrors.WithLabelValues("/requests/:id", "not_found"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/analyses", strings.NewReader(`{"images":[]}`)))
	if w.Code != http.StatusCreated {
		t.Fatalf("POST /analyses -> %d", w.Code)
	}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/does-not-exist", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET /does-not-exist -> %d", w.Code)
	}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/requests/r1", nil))

	if got := testutil.ToFloat64(httpReqs.WithLabelValues("POST", "/analyses", "201")); got != baseOK+1 {
		t.Fatalf("counter /analyses 201 = %v; want %v", got, baseOK+1)
	}
	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/does-not-exist", "404")); got != base404+1 {
		t.Fatalf("counter 404 fallback = %v; want %v", got, base404+1)
	}
	if got := testutil.ToFloat64(httpErrors.WithLabelValues("/requests/:id", "not_found")); got != baseErr+1 {
		t.Fatalf("error counter = %v; want %v", got, baseErr+1)
	}
	if inFlight := testutil.ToFloat64(httpInflight); inFlight != 0 {
		t.Fatalf("httpInflight = %v; want 0", inFlight)
	}
}
