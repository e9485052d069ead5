package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	appErr "compilebox/pkg/errors"

	"github.com/gin-gonic/gin"
)

type countingLimiter struct {
	max   int
	seen  map[string]int
	err   error
	calls int
}

func (l *countingLimiter) Allow(_ context.Context, key string, max int, _ time.Duration) error {
	l.calls++
	if l.err != nil {
		return l.err
	}
	if l.seen == nil {
		l.seen = map[string]int{}
	}
	l.seen[key]++
	if l.seen[key] > max {
		return appErr.New(appErr.TooManyRequests)
	}
	return nil
}

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(handlers...)
	r.POST("/api/compile", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/api/health", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	return r
}

func TestTraceContextMiddleware(t *testing.T) {
	r := newRouter(TraceContextMiddleware())
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Trace-Id", "trace-abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Header().Get("X-Trace-Id") != "trace-abc" {
		t.Fatalf("expected caller trace id, got %q", w.Header().Get("X-Trace-Id"))
	}
	if w.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected generated request id")
	}

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Trace-Id", "bad id\twith spaces")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get("X-Trace-Id"); got == "" || strings.Contains(got, " ") {
		t.Fatalf("expected replaced trace id, got %q", got)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := &countingLimiter{}
	var rejected []string
	r := newRouter(RateLimitMiddleware(limiter, "compile", RateLimitPolicy{Window: time.Minute, IPMax: 2}, func(reason string) {
		rejected = append(rejected, reason)
	}))
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/compile", nil))
		codes = append(codes, w.Code)
	}
	if codes[0] != 200 || codes[1] != 200 || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("expected 200,200,429, got %v", codes)
	}
	if len(rejected) != 1 || rejected[0] != "rate_ip" {
		t.Fatalf("expected one ip rejection, got %v", rejected)
	}
}

func TestRateLimitMiddlewareFailOpen(t *testing.T) {
	limiter := &countingLimiter{err: appErr.Wrapf(errors.New("dial tcp"), appErr.CacheError, "rate limit check failed")}
	open := newRouter(RateLimitMiddleware(limiter, "compile", RateLimitPolicy{IPMax: 1, FailOpen: true}, nil))
	w := httptest.NewRecorder()
	open.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/compile", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected fail open to allow, got %d", w.Code)
	}

	closed := newRouter(RateLimitMiddleware(limiter, "compile", RateLimitPolicy{IPMax: 1}, nil))
	w = httptest.NewRecorder()
	closed.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/compile", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected fail closed to return 500, got %d", w.Code)
	}
}

func TestRateLimitMiddlewareNilLimiter(t *testing.T) {
	r := newRouter(RateLimitMiddleware(nil, "compile", RateLimitPolicy{IPMax: 1}, nil))
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/compile", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("expected pass through, got %d", w.Code)
		}
	}
}

func TestCORSMiddleware(t *testing.T) {
	r := newRouter(CORSMiddleware(CORSConfig{
		Enabled:        true,
		AllowedOrigins: []string{"http://localhost:5173"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAgeSeconds:  600,
	}))
	r.OPTIONS("/api/compile", func(c *gin.Context) {})

	req := httptest.NewRequest(http.MethodOptions, "/api/compile", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204 preflight, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "http://localhost:5173" || w.Header().Get("Access-Control-Max-Age") != "600" {
		t.Fatalf("unexpected cors headers: %v", w.Header())
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/compile", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for unknown origin, got %d", w.Code)
	}
}

func TestBodyLimitMiddleware(t *testing.T) {
	r := newRouter(BodyLimitMiddleware(8))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/compile", strings.NewReader(strings.Repeat("x", 64))))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized body, got %d", w.Code)
	}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/compile", strings.NewReader("tiny")))
	if w.Code != http.StatusOK {
		t.Fatalf("expected small body to pass, got %d", w.Code)
	}
}
