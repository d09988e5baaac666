package http

import (
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-ID"

// requestLogger tags every request with an id and logs it. Query strings and bodies are not logged.
func requestLogger() gin.HandlerFunc {
	logger := log.New("module", "http")
	return func(c *gin.Context) {
		start := time.Now()
		id := c.GetHeader(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)
		c.Next()

		status := c.Writer.Status()
		ctx := []interface{}{
			"id", id,
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"elapsed", time.Since(start),
		}
		if status >= 500 {
			logger.Warn("Request failed", ctx...)
			return
		}
		logger.Debug("Request served", ctx...)
	}
}
