package api

import (
	"crypto/subtle"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"example.com/backstage/services/rewards/internal/api/handlers"
)

const (
	requestIDKey   = "X-Request-ID"
	adminKeyHeader = "X-Admin-Key"
	visitorIdleTTL = 10 * time.Minute
)

// RequestIDMiddleware adds a request ID to the context
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDKey)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		c.Set(requestIDKey, requestID)
		c.Header(requestIDKey, requestID)

		c.Next()
	}
}

// LoggingMiddleware logs API requests
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", c.GetString(requestIDKey)).
			Str("client_ip", c.ClientIP()).
			Msg("API request")
	}
}

// AdminKeyMiddleware guards admin routes with a static key. An empty key
// disables the admin API.
func AdminKeyMiddleware(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" {
			handlers.AbortWithError(c, handlers.ErrForbidden)
			return
		}
		provided := c.GetHeader(adminKeyHeader)
		if subtle.ConstantTimeCompare([]byte(provided), []byte(key)) != 1 {
			handlers.AbortWithError(c, handlers.ErrUnauthorized)
			return
		}
		c.Next()
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles requests per client address
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	now      func() time.Time
}

// NewRateLimiter creates a limiter allowing perMinute requests per client
// with the given burst.
func NewRateLimiter(perMinute float64, burst int) *RateLimiter {
	perSecond := perMinute / 60.0
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(perSecond),
		burst:    burst,
		now:      time.Now,
	}
}

// Middleware rejects clients that exceed their rate
func (r *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !r.allow(c.ClientIP()) {
			c.Header("Retry-After", "1")
			handlers.AbortWithError(c, handlers.ErrTooManyRequests)
			return
		}
		c.Next()
	}
}

func (r *RateLimiter) allow(client string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	v, ok := r.visitors[client]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.visitors[client] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// Sweep forgets clients idle for longer than the idle TTL
func (r *RateLimiter) Sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-visitorIdleTTL)
	for client, v := range r.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(r.visitors, client)
		}
	}
}

// NoRouteHandler renders unknown routes with the API error shape
func NoRouteHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, handlers.ErrorResponse{Message: "Route not found", Code: handlers.ErrNotFound.Code})
}
