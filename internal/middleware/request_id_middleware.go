package middleware

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"staysync/pkg/logger"

	"github.com/gin-gonic/gin"
)

func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-Id")
		if requestID == "" {
			requestID = newRequestID()
		}
		c.Writer.Header().Set("X-Request-Id", requestID)
		// set up a new context with the request ID
		ctx := context.WithValue(c.Request.Context(), logger.RequestIdKey, requestID)
		// update the request with the new context
		c.Request = c.Request.WithContext(ctx)
		// proceed to the next middleware/handler
		c.Next()
	}
}

func newRequestID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	// compact hex instead of uuid so the id fits log lines without hyphens
	return hex.EncodeToString(buf)
}

// RequestIDFromContext returns the request id placed by the middleware.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(logger.RequestIdKey).(string); ok {
		return id
	}
	return ""
}
