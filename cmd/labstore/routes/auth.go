package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/repnlab/labstore/cmd/labstore/container"
	"github.com/repnlab/labstore/cmd/labstore/handlers"
	"github.com/repnlab/labstore/cmd/labstore/middleware"
)

// RegisterAuthRoutes registers login and logout
func RegisterAuthRoutes(e *echo.Echo, c *container.Container) {
	var directory handlers.Directory
	if c.Roster != nil {
		directory = c.Roster
	}
	cfg := c.Components.Config.Auth
	h := handlers.NewAuthHandler(cfg, directory, c.Sessions, c.Components.Logger)

	var loginMiddleware []echo.MiddlewareFunc
	if cfg.LoginRateLimit > 0 {
		loginMiddleware = append(loginMiddleware,
			middleware.LoginRateLimit(c.Components.Limiter, int64(cfg.LoginRateLimit), cfg.LoginRateWindow, c.Components.Logger))
	}

	api := e.Group("/api/v1")
	{
		api.POST("/login", h.Login, loginMiddleware...) // POST /api/v1/login
		api.POST("/logout", h.Logout)                   // POST /api/v1/logout
	}
}
