package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/repnlab/labstore/cmd/labstore/container"
	"github.com/repnlab/labstore/cmd/labstore/handlers"
	"github.com/repnlab/labstore/cmd/labstore/middleware"
)

// RegisterFileRoutes registers upload, listing and per-file actions
func RegisterFileRoutes(e *echo.Echo, c *container.Container) {
	publicURL := ""
	if c.Components.Config.FileServer.Enabled {
		publicURL = c.Components.Config.FileServer.PublicURL
	}

	h := handlers.NewFileHandler(
		c.FileStore,
		c.Inventory,
		c.Notes,
		c.Policy,
		c.UploadLog,
		publicURL,
		c.Components.Logger,
	)

	files := e.Group("/api/v1/categories/:category")
	files.Use(middleware.RequireSession(c.Sessions))
	{
		files.POST("/files", h.Upload)                 // POST /api/v1/categories/TRH/files
		files.GET("/files", h.ListFiles)               // GET /api/v1/categories/TRH/files?location=staging
		files.GET("/files/:name", h.GetLocations)      // GET /api/v1/categories/TRH/files/run.xlsx
		files.GET("/files/:name/download", h.Download) // GET /api/v1/categories/TRH/files/run.xlsx/download
		files.POST("/files/:name/archive", h.Archive)  // POST /api/v1/categories/TRH/files/run.xlsx/archive
		files.DELETE("/files/:name", h.Remove)         // DELETE /api/v1/categories/TRH/files/run.xlsx
		files.POST("/archive", h.ArchiveBatch)         // POST /api/v1/categories/TRH/archive
		files.POST("/delete", h.RemoveBatch)           // POST /api/v1/categories/TRH/delete
	}
}
