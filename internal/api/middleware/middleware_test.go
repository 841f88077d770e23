package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/GriffinCanCode/AgentOS/isolation/internal/infrastructure/config"
)

func router(mw gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/procs/:pid/ping", mw, func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/health", mw, func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func get(r http.Handler, path string) int {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w.Code
}

func TestRateLimitPerProcess(t *testing.T) {
	r := router(RateLimit(config.RateLimitConfig{RequestsPerSecond: 1, Burst: 2, Enabled: true}))

	assert.Equal(t, http.StatusOK, get(r, "/procs/a/ping"))
	assert.Equal(t, http.StatusOK, get(r, "/procs/a/ping"))
	assert.Equal(t, http.StatusTooManyRequests, get(r, "/procs/a/ping"))

	// Another process has its own budget.
	assert.Equal(t, http.StatusOK, get(r, "/procs/b/ping"))
	// Host routes are keyed by client address.
	assert.Equal(t, http.StatusOK, get(r, "/health"))
}

func TestRateLimitDisabled(t *testing.T) {
	r := router(RateLimit(config.RateLimitConfig{RequestsPerSecond: 1, Burst: 1}))
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, get(r, "/health"))
	}
}

func TestCORSPreflight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS(DefaultCORSConfig()))
	r.POST("/procs/:pid/exit", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/procs/a/exit", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
