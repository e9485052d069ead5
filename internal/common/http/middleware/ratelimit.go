package middleware

import (
	"context"
	"fmt"
	"time"

	appErr "compilebox/pkg/errors"
	"compilebox/pkg/utils/logger"
	"compilebox/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Limiter admits or rejects one request for key.
type Limiter interface {
	Allow(ctx context.Context, key string, max int, window time.Duration) error
}

// RateLimitPolicy sets per-client and per-route budgets for one window.
type RateLimitPolicy struct {
	Window   time.Duration `yaml:"window"`
	IPMax    int           `yaml:"ipMax"`
	RouteMax int           `yaml:"routeMax"`
	// FailOpen lets requests through when the limiter itself errors.
	FailOpen bool `yaml:"failOpen"`
}

// RateLimitMiddleware enforces per-route rate limiting.
func RateLimitMiddleware(limiter Limiter, routeKey string, policy RateLimitPolicy, onReject func(reason string)) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		ctx := c.Request.Context()
		checks := []struct {
			reason string
			key    string
			max    int
		}{
			{"ip", fmt.Sprintf("compilebox:rate:ip:%s:%s", c.ClientIP(), routeKey), policy.IPMax},
			{"route", fmt.Sprintf("compilebox:rate:route:%s", routeKey), policy.RouteMax},
		}
		for _, check := range checks {
			if check.max <= 0 {
				continue
			}
			err := limiter.Allow(ctx, check.key, check.max, policy.Window)
			if err == nil {
				continue
			}
			if policy.FailOpen && !isRejection(err) {
				logger.Warn(ctx, "rate limiter unavailable, allowing request", zap.Error(err))
				continue
			}
			if onReject != nil {
				onReject("rate_" + check.reason)
			}
			response.AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func isRejection(err error) bool {
	return appErr.Is(err, appErr.TooManyRequests)
}
