package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rushilcs/data-viewer/pkg/metrics"
	"github.com/rushilcs/data-viewer/pkg/response"
)

// Counter increments a windowed counter. *redis.Client satisfies it.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// RateLimit allows limit requests per identity per window. Without a counter,
// or with a non-positive limit, it passes every request through. Counter
// failures fail open and are logged.
func RateLimit(counter Counter, scope string, limit int, window time.Duration, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		if counter == nil || limit <= 0 {
			c.Next()
			return
		}
		subject := c.ClientIP()
		if id, ok := Identity(c); ok {
			subject = id.UserID.String()
		}
		bucket := time.Now().Unix() / int64(window/time.Second)
		key := fmt.Sprintf("ratelimit:%s:%s:%d", scope, subject, bucket)

		n, ttl, err := counter.Incr(c.Request.Context(), key, window)
		if err != nil {
			logger.Warn("rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}
		remaining := int64(limit) - n
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		if n > int64(limit) {
			metrics.RateLimited.Inc()
			c.Header("Retry-After", strconv.Itoa(int(ttl.Round(time.Second)/time.Second)))
			response.TooManyRequests(c, "rate limit exceeded")
			c.Abort()
			return
		}
		c.Next()
	}
}
