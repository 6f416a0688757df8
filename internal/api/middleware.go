package api

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/config"
	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/logger"
)

// requestLogger logs one structured line per request.
func requestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		fields := []interface{}{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if status >= http.StatusInternalServerError {
			log.Error("request failed", fields...)
		} else if status >= http.StatusBadRequest {
			log.Warn("request rejected", fields...)
		} else {
			log.Info("request handled", fields...)
		}
	}
}

// corsMiddleware adds CORS headers per configuration.
func corsMiddleware(corsConfig config.CORSConfig) gin.HandlerFunc {
	allowAll := len(corsConfig.AllowedOrigins) == 0
	allowed := make(map[string]bool, len(corsConfig.AllowedOrigins))
	for _, origin := range corsConfig.AllowedOrigins {
		if origin == "*" {
			allowAll = true
		}
		allowed[origin] = true
	}
	methods := strings.Join(corsConfig.AllowedMethods, ", ")
	headers := strings.Join(corsConfig.AllowedHeaders, ", ")

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case allowAll:
			c.Header("Access-Control-Allow-Origin", "*")
		case allowed[origin]:
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}
		c.Header("Access-Control-Allow-Methods", methods)
		c.Header("Access-Control-Allow-Headers", headers)
		if corsConfig.AllowCredentials && !allowAll {
			c.Header("Access-Control-Allow-Credentials", "true")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// rateLimiterPool hands out one token bucket per client key.
type rateLimiterPool struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newRateLimiterPool(requestsPerMinute, burst int) *rateLimiterPool {
	return &rateLimiterPool{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:    burst,
	}
}

func (p *rateLimiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if limiter, exists := p.limiters[key]; exists {
		return limiter
	}
	limiter := rate.NewLimiter(p.limit, p.burst)
	p.limiters[key] = limiter
	return limiter
}

// rateLimitMiddleware throttles per client IP with a token bucket.
func rateLimitMiddleware(rateLimitConfig config.RateLimitConfig) gin.HandlerFunc {
	if !rateLimitConfig.Enabled {
		return func(c *gin.Context) { c.Next() }
	}

	pool := newRateLimiterPool(rateLimitConfig.RequestsPerMinute, rateLimitConfig.Burst)
	return func(c *gin.Context) {
		if !pool.get(c.ClientIP()).Allow() {
			c.JSON(http.StatusTooManyRequests, Response{
				Success: false,
				Error:   "Rate limit exceeded",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
