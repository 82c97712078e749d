package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/repnlab/labstore/cmd/labstore/container"
	"github.com/repnlab/labstore/cmd/labstore/handlers"
	"github.com/repnlab/labstore/cmd/labstore/middleware"
)

// RegisterLogRoutes registers the upload log and reconciliation routes
func RegisterLogRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewLogHandler(c.UploadLog, c.Reconciler, c.Paths.Categories(), c.Components.Logger)

	api := e.Group("/api/v1")
	api.Use(middleware.RequireSession(c.Sessions))
	{
		api.GET("/log", h.ListLog)                              // GET /api/v1/log?category=TRH&limit=50
		api.GET("/categories/:category/reconcile", h.Reconcile) // GET /api/v1/categories/TRH/reconcile
	}
}
