package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/repnlab/labstore/common/logger"
	"github.com/repnlab/labstore/common/ratelimit"
)

// LoginRateLimit bounds requests per client IP. Limiter errors let the
// request through.
func LoginRateLimit(limiter ratelimit.Limiter, limit int64, window time.Duration, log *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()

			result, err := limiter.Allow(c.Request().Context(), "login:"+ip, limit, window)
			if err != nil {
				log.WithContext(c.Request().Context()).Warn("login rate limit unavailable", "error", err)
				return next(c)
			}

			if !result.Allowed {
				retryAfter := int64(math.Ceil(result.RetryAfter.Seconds()))
				c.Response().Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"error":   "login_rate_limit_exceeded",
					"message": "Too many login attempts. Please wait before trying again.",
					"details": map[string]interface{}{
						"limit":               result.Limit,
						"window_seconds":      int64(window.Seconds()),
						"retry_after_seconds": retryAfter,
					},
				})
			}

			return next(c)
		}
	}
}
