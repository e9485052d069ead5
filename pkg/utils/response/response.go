package response

import (
	"net/http"

	"compilebox/pkg/errors"
	"compilebox/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorBody is the failure envelope. It shares success/error with the compile
// response so the editor can render either without branching.
type ErrorBody struct {
	Success bool             `json:"success"`
	Error   string           `json:"error"`
	Code    errors.ErrorCode `json:"code"`
	Details interface{}      `json:"details,omitempty"`
	TraceID string           `json:"traceId,omitempty"`
}

// JSON writes data with the given status.
func JSON(c *gin.Context, status int, data interface{}) {
	c.JSON(status, data)
}

// Success sends data with 200.
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

// Error sends an error response
// It automatically extracts error code and message from the error
func Error(c *gin.Context, err error) {
	customErr := errors.GetError(err)

	fields := []zap.Field{
		zap.Int("code", int(customErr.Code)),
		zap.String("message", customErr.Error()),
		zap.Any("details", customErr.Details),
	}
	if customErr.Code.HTTPStatus() >= http.StatusInternalServerError {
		logger.Error(c.Request.Context(), "request error", append(fields, zap.String("stack", customErr.Stack))...)
	} else {
		logger.Warn(c.Request.Context(), "request rejected", fields...)
	}

	body := ErrorBody{
		Success: false,
		Error:   customErr.Error(),
		Code:    customErr.Code,
		TraceID: getTraceID(c),
	}
	if len(customErr.Details) > 0 {
		body.Details = customErr.Details
	}

	c.JSON(customErr.Code.HTTPStatus(), body)
}

// BadRequest sends a 400 bad request error
func BadRequest(c *gin.Context, message string) {
	Error(c, errors.BadRequest(message))
}

// AbortWithError aborts the request and sends error response
func AbortWithError(c *gin.Context, err error) {
	Error(c, err)
	c.Abort()
}

func getTraceID(c *gin.Context) string {
	if traceID, exists := c.Get("trace_id"); exists {
		if s, ok := traceID.(string); ok {
			return s
		}
	}
	return ""
}
