package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/repnlab/labstore/cmd/labstore/container"
	"github.com/repnlab/labstore/cmd/labstore/handlers"
	"github.com/repnlab/labstore/cmd/labstore/middleware"
)

// RegisterCategoryRoutes registers the category table and dashboard links
func RegisterCategoryRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewCategoryHandler(c.Paths.Categories())

	api := e.Group("/api/v1")
	api.Use(middleware.RequireSession(c.Sessions))
	{
		api.GET("/categories", h.ListCategories) // GET /api/v1/categories
		api.GET("/dashboards", h.Dashboards)     // GET /api/v1/dashboards
	}
}
