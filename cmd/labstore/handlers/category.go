package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/repnlab/labstore/common/config"
)

// CategoryHandler serves the fixed category table
type CategoryHandler struct {
	categories *config.CategoryTable
}

// NewCategoryHandler creates a new category handler
func NewCategoryHandler(categories *config.CategoryTable) *CategoryHandler {
	return &CategoryHandler{categories: categories}
}

// ListCategories returns every category in configuration order
// GET /api/v1/categories
func (h *CategoryHandler) ListCategories(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"categories": h.categories.All(),
		"groups":     h.categories.Groups(),
	})
}

// Dashboards returns group -> category -> dashboard URL. URLs are opaque.
// GET /api/v1/dashboards
func (h *CategoryHandler) Dashboards(c echo.Context) error {
	dashboards := make(map[string]map[string]string)
	for _, g := range h.categories.Groups() {
		urls := make(map[string]string, len(g.Categories))
		for _, cat := range g.Categories {
			if cat.DashboardURL != "" {
				urls[cat.Name] = cat.DashboardURL
			}
		}
		dashboards[g.Name] = urls
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"dashboards": dashboards,
	})
}
