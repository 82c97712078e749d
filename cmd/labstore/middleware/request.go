package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/repnlab/labstore/common/logger"
	"github.com/repnlab/labstore/common/metrics"
)

// RequestContext copies the echo request id into the request context so
// service-level logs carry it. Must run after echo's RequestID middleware.
func RequestContext() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Response().Header().Get(echo.HeaderXRequestID)
			if id == "" {
				id = c.Request().Header.Get(echo.HeaderXRequestID)
			}
			if id != "" {
				req := c.Request()
				c.SetRequest(req.WithContext(logger.ContextWithRequestID(req.Context(), id)))
			}
			return next(c)
		}
	}
}

// Metrics counts served requests by route template
func Metrics(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			m.RecordHTTPRequest(c.Request().Method, path, status)

			return err
		}
	}
}
