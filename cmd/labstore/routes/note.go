package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/repnlab/labstore/cmd/labstore/container"
	"github.com/repnlab/labstore/cmd/labstore/handlers"
	"github.com/repnlab/labstore/cmd/labstore/middleware"
)

// RegisterNoteRoutes registers per-file note routes
func RegisterNoteRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewNoteHandler(c.Notes, c.Components.Logger)

	notes := e.Group("/api/v1/categories/:category/notes")
	notes.Use(middleware.RequireSession(c.Sessions))
	{
		notes.GET("", h.ListNotes)           // GET /api/v1/categories/TRH/notes
		notes.PATCH("", h.PatchNotes)        // PATCH /api/v1/categories/TRH/notes
		notes.GET("/:name", h.GetNote)       // GET /api/v1/categories/TRH/notes/run.xlsx
		notes.PUT("/:name", h.PutNote)       // PUT /api/v1/categories/TRH/notes/run.xlsx
		notes.DELETE("/:name", h.DeleteNote) // DELETE /api/v1/categories/TRH/notes/run.xlsx
	}
}
