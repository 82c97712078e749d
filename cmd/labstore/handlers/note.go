package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/repnlab/labstore/cmd/labstore/service"
	"github.com/repnlab/labstore/common/logger"
)

// NoteHandler handles per-file notes
type NoteHandler struct {
	notes *service.NoteStore
	log   *logger.Logger
}

// NewNoteHandler creates a new note handler
func NewNoteHandler(notes *service.NoteStore, log *logger.Logger) *NoteHandler {
	return &NoteHandler{notes: notes, log: log}
}

// ListNotes returns every note of a category
// GET /api/v1/categories/:category/notes
func (h *NoteHandler) ListNotes(c echo.Context) error {
	category := c.Param("category")

	notes, err := h.notes.All(c.Request().Context(), category)
	if err != nil {
		return respondError(c, err, nil)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"category": category,
		"notes":    notes,
	})
}

// GetNote returns the note of one file
// GET /api/v1/categories/:category/notes/:name
func (h *NoteHandler) GetNote(c echo.Context) error {
	category, name := c.Param("category"), c.Param("name")

	note, ok, err := h.notes.Get(c.Request().Context(), category, name)
	if err != nil {
		return respondError(c, err, nil)
	}
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]interface{}{
			"error": "no note for " + name,
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"name": name,
		"note": note,
	})
}

type noteRequest struct {
	Note string `json:"note"`
}

// PutNote sets the note of one file; an empty note deletes it
// PUT /api/v1/categories/:category/notes/:name
func (h *NoteHandler) PutNote(c echo.Context) error {
	category, name := c.Param("category"), c.Param("name")

	var req noteRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid note request")
	}

	note := strings.TrimSpace(req.Note)
	if err := h.notes.Set(c.Request().Context(), category, name, note); err != nil {
		return respondError(c, err, nil)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"name": name,
		"note": note,
	})
}

// PatchNotes applies a JSON merge patch to a category's notes
// PATCH /api/v1/categories/:category/notes
func (h *NoteHandler) PatchNotes(c echo.Context) error {
	category := c.Param("category")

	// decoded directly so path params are not merged into the patch
	var patch map[string]interface{}
	if err := json.NewDecoder(c.Request().Body).Decode(&patch); err != nil {
		return badRequest(c, "body must be a JSON object")
	}
	if len(patch) == 0 {
		return badRequest(c, "empty patch")
	}

	ctx := c.Request().Context()
	if err := h.notes.Patch(ctx, category, patch); err != nil {
		return respondError(c, err, nil)
	}

	notes, err := h.notes.All(ctx, category)
	if err != nil {
		return respondError(c, err, nil)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"category": category,
		"notes":    notes,
	})
}

// DeleteNote removes the note of one file
// DELETE /api/v1/categories/:category/notes/:name
func (h *NoteHandler) DeleteNote(c echo.Context) error {
	category, name := c.Param("category"), c.Param("name")

	if err := h.notes.Delete(c.Request().Context(), category, name); err != nil {
		return respondError(c, err, nil)
	}
	return c.NoContent(http.StatusNoContent)
}
