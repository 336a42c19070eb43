package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"query-sphere/internal/config"

	"github.com/gin-gonic/gin"
)

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(handlers...)
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/api/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	r.POST("/api/upload", func(c *gin.Context) {
		if _, err := c.GetRawData(); err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	})
	return r
}

func TestMemoryRateLimit(t *testing.T) {
	cfg := config.Default()
	cfg.RateLimitReqs = 2
	cfg.RateLimitWindow = 60
	r := newRouter(RateLimitMiddleware(nil, cfg))

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/ping", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, w.Code)
		}
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/ping", nil))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "rate_limit_exceeded") {
		t.Fatalf("unexpected body %s", w.Body.String())
	}

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("health checks should not be limited, got %d", w.Code)
		}
	}
}

func TestRequestSizeLimit(t *testing.T) {
	r := newRouter(RequestSizeLimit(32, 8))

	post := func(body, contentType string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader(body))
		req.Header.Set("Content-Type", contentType)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	if code := post("small", "application/json"); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if code := post("far too large", "application/json"); code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 for JSON body, got %d", code)
	}
	if code := post("far too large", "multipart/form-data; boundary=x"); code != http.StatusOK {
		t.Fatalf("multipart bodies should use the upload limit, got %d", code)
	}
	if code := post(strings.Repeat("x", 40), "multipart/form-data; boundary=x"); code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 over the upload limit, got %d", code)
	}
}

func TestRequestIDPropagation(t *testing.T) {
	r := newRouter(RequestIDMiddleware())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/ping", nil))
	if w.Header().Get(RequestIDHeader) == "" {
		t.Fatalf("expected a generated request id")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get(RequestIDHeader); got != "abc-123" {
		t.Fatalf("expected caller request id, got %q", got)
	}
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	r := newRouter(CORSMiddlewareWithOrigins([]string{"http://localhost:3000"}))

	req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("unexpected allow origin %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	req.Header.Set("Origin", "http://evil.test")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for unknown origin, got %d", w.Code)
	}
}
