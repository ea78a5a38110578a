package middleware

import (
	"crypto/subtle"

	"github.com/gin-gonic/gin"

	"github.com/rushilcs/data-viewer/pkg/response"
)

// IngestEnabled rejects ingest requests with 503 when ingestion is switched off.
func IngestEnabled(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !enabled {
			response.ServiceUnavailable(c, "ingestion is disabled")
			c.Abort()
			return
		}
		c.Next()
	}
}

// MetricsSecret guards the metrics endpoint with the X-Metrics-Secret header.
// An empty secret leaves the endpoint open.
func MetricsSecret(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}
		got := c.GetHeader("X-Metrics-Secret")
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			response.Unauthorized(c, "invalid metrics secret")
			c.Abort()
			return
		}
		c.Next()
	}
}
