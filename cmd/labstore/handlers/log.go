package handlers

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/repnlab/labstore/cmd/labstore/repository"
	"github.com/repnlab/labstore/cmd/labstore/service"
	"github.com/repnlab/labstore/common/config"
	"github.com/repnlab/labstore/common/logger"
	"github.com/repnlab/labstore/common/models"
)

const maxLogLimit = 1000

// LogHandler serves the upload log and reconciliation reports
type LogHandler struct {
	uploads    repository.UploadLog
	reconciler *service.Reconciler
	categories *config.CategoryTable
	log        *logger.Logger
}

// NewLogHandler creates a new log handler
func NewLogHandler(uploads repository.UploadLog, reconciler *service.Reconciler, categories *config.CategoryTable, log *logger.Logger) *LogHandler {
	return &LogHandler{
		uploads:    uploads,
		reconciler: reconciler,
		categories: categories,
		log:        log,
	}
}

// ListLog returns upload events newest first
// GET /api/v1/log?category=&limit=
func (h *LogHandler) ListLog(c echo.Context) error {
	ctx := c.Request().Context()
	category := c.QueryParam("category")

	if category != "" {
		if _, ok := h.categories.Lookup(category); !ok {
			return respondError(c, fmt.Errorf("%w: %q", service.ErrUnknownCategory, category), nil)
		}
	}

	limit := queryInt(c, "limit", maxLogLimit)
	if limit <= 0 || limit > maxLogLimit {
		limit = maxLogLimit
	}

	entries, err := h.uploads.ReadAll(ctx)
	if err != nil {
		h.log.WithContext(ctx).Error("failed to read upload log", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to read upload log")
	}

	out := make([]models.LogEntry, 0, limit)
	for _, e := range models.NewestFirst(entries) {
		if category != "" && e.Category != category {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"entries": out,
		"count":   len(out),
	})
}

// Reconcile compares the upload log with a category's folders
// GET /api/v1/categories/:category/reconcile
func (h *LogHandler) Reconcile(c echo.Context) error {
	category := c.Param("category")

	report, err := h.reconciler.Reconcile(c.Request().Context(), category)
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			h.log.WithContext(c.Request().Context()).WithCategory(category).Error("reconcile failed", "error", err)
		}
		return respondError(c, err, nil)
	}
	return c.JSON(http.StatusOK, report)
}
