package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(mw gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(mw)
	router.POST("/sessions/:id/deliver", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	return router
}

func deliver(router *gin.Engine, remote, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/sessions/s1/deliver", nil)
	req.RemoteAddr = remote
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCORS(t *testing.T) {
	router := newRouter(CORS(DefaultCORSConfig()))

	tests := []struct {
		name       string
		method     string
		origin     string
		wantStatus int
		wantAllow  string
	}{
		{"request with origin", http.MethodPost, "http://localhost:3000", http.StatusOK, "*"},
		{"preflight", http.MethodOptions, "http://localhost:3000", http.StatusNoContent, "*"},
		{"no origin", http.MethodPost, "", http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/sessions/s1/deliver", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantAllow, w.Header().Get("Access-Control-Allow-Origin"))
			assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
		})
	}
}

func TestCORSExposesTraceHeaders(t *testing.T) {
	router := newRouter(CORS(DefaultCORSConfig()))
	w := deliver(router, "10.0.0.1:1", "http://localhost:3000")

	exposed := w.Header().Get("Access-Control-Expose-Headers")
	assert.Contains(t, exposed, "X-Trace-Id")
	assert.Contains(t, exposed, "Content-Encoding")
}

func TestCORSSpecificOrigin(t *testing.T) {
	cfg := DefaultCORSConfig()
	cfg.AllowOrigins = []string{"https://example.com"}
	cfg.AllowCredentials = true
	router := newRouter(CORS(cfg))

	w := deliver(router, "10.0.0.1:1", "https://example.com")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))

	w = deliver(router, "10.0.0.1:1", "https://evil.example")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRateLimit(t *testing.T) {
	router := newRouter(RateLimit(RateLimitConfig{RequestsPerSecond: 2, Burst: 2}))

	for i := 0; i < 2; i++ {
		w := deliver(router, "192.168.1.1:1234", "")
		assert.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
	}

	w := deliver(router, "192.168.1.1:1234", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, w.Body.String())
}

func TestRateLimitDifferentClients(t *testing.T) {
	router := newRouter(RateLimit(RateLimitConfig{RequestsPerSecond: 1, Burst: 1}))

	assert.Equal(t, http.StatusOK, deliver(router, "192.168.1.1:1234", "").Code)
	assert.Equal(t, http.StatusOK, deliver(router, "192.168.1.2:1234", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, deliver(router, "192.168.1.1:1234", "").Code)
}

func TestLimiterForgetsIdleClients(t *testing.T) {
	now := time.Unix(1000, 0)
	l := NewLimiter(RateLimitConfig{RequestsPerSecond: 1, Burst: 1})
	l.now = func() time.Time { return now }

	ok, _ := l.Allow("10.0.0.1")
	require.True(t, ok)
	ok, wait := l.Allow("10.0.0.1")
	require.False(t, ok)
	assert.Equal(t, time.Second, wait)
	assert.Equal(t, 1, l.Clients())

	now = now.Add(idleTTL + time.Second)
	ok, _ = l.Allow("10.0.0.2")
	require.True(t, ok)
	assert.Equal(t, 1, l.Clients(), "idle client should be swept")
}

func TestGlobalRateLimit(t *testing.T) {
	router := newRouter(GlobalRateLimit(RateLimitConfig{RequestsPerSecond: 2, Burst: 2}))

	assert.Equal(t, http.StatusOK, deliver(router, "192.168.1.1:1", "").Code)
	assert.Equal(t, http.StatusOK, deliver(router, "192.168.1.2:1", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, deliver(router, "192.168.1.3:1", "").Code)
}

func TestDefaultConfigs(t *testing.T) {
	cors := DefaultCORSConfig()
	assert.Equal(t, []string{"*"}, cors.AllowOrigins)
	assert.Contains(t, cors.AllowHeaders, "X-Trace-ID")
	assert.Equal(t, 12*time.Hour, cors.MaxAge)

	rl := DefaultRateLimitConfig()
	assert.Equal(t, 100, rl.RequestsPerSecond)
	assert.Equal(t, 200, rl.Burst)
}

func BenchmarkRateLimit(b *testing.B) {
	router := newRouter(RateLimit(DefaultRateLimitConfig()))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		deliver(router, "192.168.1.1:1234", "")
	}
}
