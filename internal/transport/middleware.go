package transport

import (
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// requestIDHeader is the header clients may set to correlate a request
// across node logs; if absent one is generated.
const requestIDHeader = "X-Request-Id"

// RequestID assigns (or forwards) a correlation id before anything else
// runs, same early-placement convention as the teacher's Logger/Recovery
// pair. Grounded on the teacher's api.Logger middleware shape, enriched
// with google/uuid for the id itself.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Writer.Header().Set(requestIDHeader, id)
		c.Next()
	}
}

// Logger logs every request with method, path, client IP, status, latency,
// and the correlation id assigned by RequestID.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Printf("[%s] %s %s | %d | %s | request_id=%v",
			c.Request.Method,
			c.Request.URL.Path,
			c.ClientIP(),
			c.Writer.Status(),
			time.Since(start),
			c.MustGet("request_id"),
		)
	}
}

// Recovery turns a panic in a handler into a 500 instead of killing the
// process, logging the recovered value for the operator.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("PANIC recovered: %v (request_id=%v)", err, c.MustGet("request_id"))
				c.AbortWithStatusJSON(500, gin.H{"error": "internal server error"})
			}
		}()
		c.Next()
	}
}
