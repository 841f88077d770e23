package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/AgentOS/isolation/internal/infrastructure/config"
)

// idleAfter is how long an unused limiter is kept.
const idleAfter = 5 * time.Minute

// RateLimit creates a rate limiting middleware keyed by the acting process
// on /procs/:pid routes and by client IP elsewhere. A disabled config
// yields a pass-through handler.
func RateLimit(cfg config.RateLimitConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) { c.Next() }
	}

	type client struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}

	var (
		mu      sync.Mutex
		clients = make(map[string]*client)
		swept   = time.Now()
	)

	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if pid := c.Param("pid"); pid != "" {
			key = "pid:" + pid
		}
		now := time.Now()

		mu.Lock()
		if now.Sub(swept) > idleAfter {
			for k, cl := range clients {
				if now.Sub(cl.lastSeen) > idleAfter {
					delete(clients, k)
				}
			}
			swept = now
		}
		cl, exists := clients[key]
		if !exists {
			cl = &client{limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)}
			clients[key] = cl
		}
		cl.lastSeen = now
		limiter := cl.limiter
		mu.Unlock()

		if !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
