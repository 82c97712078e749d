package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"github.com/repnlab/labstore/common/logger"
	"github.com/repnlab/labstore/common/ratelimit"
)

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string, int64, time.Duration) (*ratelimit.Result, error) {
	return nil, errors.New("redis down")
}

func limited(limiter ratelimit.Limiter) *echo.Echo {
	e := echo.New()
	e.POST("/login", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	}, LoginRateLimit(limiter, 2, time.Minute, logger.Discard()))
	return e
}

func login(e *echo.Echo, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	req.Header.Set(echo.HeaderXRealIP, ip)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestLoginRateLimit(t *testing.T) {
	e := limited(ratelimit.NewMemoryLimiter())

	assert.Equal(t, http.StatusNoContent, login(e, "10.0.0.1").Code)
	assert.Equal(t, http.StatusNoContent, login(e, "10.0.0.1").Code)

	rec := login(e, "10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "login_rate_limit_exceeded")

	assert.Equal(t, http.StatusNoContent, login(e, "10.0.0.2").Code, "limits are per client IP")
}

func TestLoginRateLimitFailsOpen(t *testing.T) {
	e := limited(failingLimiter{})
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusNoContent, login(e, "10.0.0.1").Code)
	}
}
