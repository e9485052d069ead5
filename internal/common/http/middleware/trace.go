package middleware

import (
	"context"
	"strings"

	"compilebox/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	traceIDHeader   = "X-Trace-Id"
	requestIDHeader = "X-Request-Id"

	traceIDContextKey   = "trace_id"
	requestIDContextKey = "request_id"

	maxIDLength = 128
)

// TraceContextMiddleware ensures trace/request id are in context and response headers.
// Caller-supplied ids are accepted only when short and printable.
func TraceContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := headerOrNew(c, traceIDHeader)
		c.Set(traceIDContextKey, traceID)
		ctx := context.WithValue(c.Request.Context(), contextkey.TraceID, traceID)
		c.Writer.Header().Set(traceIDHeader, traceID)

		requestID := headerOrNew(c, requestIDHeader)
		c.Set(requestIDContextKey, requestID)
		ctx = context.WithValue(ctx, contextkey.RequestID, requestID)
		c.Writer.Header().Set(requestIDHeader, requestID)

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func headerOrNew(c *gin.Context, header string) string {
	value := strings.TrimSpace(c.GetHeader(header))
	if value == "" || len(value) > maxIDLength || !printable(value) {
		return uuid.NewString()
	}
	return value
}

func printable(s string) bool {
	for _, r := range s {
		if r < 0x21 || r > 0x7e {
			return false
		}
	}
	return true
}
