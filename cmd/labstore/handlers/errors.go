package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/repnlab/labstore/cmd/labstore/service"
)

// statusFor maps service errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrUnknownCategory), errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrBusy):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as a JSON error body. result, when non-nil, is
// included so clients see what happened at each location.
func respondError(c echo.Context, err error, result interface{}) error {
	body := map[string]interface{}{
		"error": err.Error(),
	}
	if result != nil {
		body["result"] = result
	}
	return c.JSON(statusFor(err), body)
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, map[string]interface{}{
		"error": msg,
	})
}
