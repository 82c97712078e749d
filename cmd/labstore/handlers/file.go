package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/labstack/echo/v4"

	"github.com/repnlab/labstore/cmd/labstore/middleware"
	"github.com/repnlab/labstore/cmd/labstore/repository"
	"github.com/repnlab/labstore/cmd/labstore/service"
	"github.com/repnlab/labstore/common/logger"
	"github.com/repnlab/labstore/common/models"
	"github.com/repnlab/labstore/common/server"
)

// FileHandler handles uploads, listings and per-file actions
type FileHandler struct {
	store     *service.FileStore
	inventory *service.Inventory
	notes     *service.NoteStore
	policy    *service.UploadPolicy
	uploads   repository.UploadLog
	publicURL string
	log       *logger.Logger
}

// NewFileHandler creates a new file handler. publicURL is the static file
// server base; empty disables file links.
func NewFileHandler(
	store *service.FileStore,
	inventory *service.Inventory,
	notes *service.NoteStore,
	policy *service.UploadPolicy,
	uploads repository.UploadLog,
	publicURL string,
	log *logger.Logger,
) *FileHandler {
	return &FileHandler{
		store:     store,
		inventory: inventory,
		notes:     notes,
		policy:    policy,
		uploads:   uploads,
		publicURL: publicURL,
		log:       log,
	}
}

// UploadResponse is returned by Upload
type UploadResponse struct {
	Result    *models.StoreResult `json:"result"`
	Partial   bool                `json:"partial"`
	LogEntry  *models.LogEntry    `json:"log_entry,omitempty"`
	LogError  string              `json:"log_error,omitempty"`
	NoteError string              `json:"note_error,omitempty"`
}

// Upload stores a multipart file and records it in the upload log
// POST /api/v1/categories/:category/files
func (h *FileHandler) Upload(c echo.Context) error {
	ctx := c.Request().Context()
	category := c.Param("category")
	actor := middleware.GetActor(c)
	log := h.log.WithContext(ctx).WithCategory(category).WithActor(actor)

	if _, ok := h.store.Paths().Categories().Lookup(category); !ok {
		return respondError(c, fmt.Errorf("%w: %q", service.ErrUnknownCategory, category), nil)
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return badRequest(c, "multipart field \"file\" is required")
	}
	name := fh.Filename

	if err := h.policy.Check(category, name, fh.Size); err != nil {
		log.Info("upload rejected", "name", name, "size", fh.Size, "error", err)
		return respondError(c, err, nil)
	}

	src, err := fh.Open()
	if err != nil {
		return badRequest(c, "failed to read uploaded file")
	}
	defer src.Close()

	op := models.NewOp(category, actor)
	op.Owner = c.FormValue("owner")

	result, err := h.store.Store(ctx, op, name, src)
	if err != nil {
		var wf *service.WriteFailedError
		if errors.As(err, &wf) && result != nil {
			log.Error("upload failed", "name", name, "path", wf.Path, "error", err)
			return respondError(c, err, result)
		}
		return respondError(c, err, nil)
	}
	h.attachFileURL(result)

	resp := UploadResponse{Result: result, Partial: result.Partial()}

	// the log is independent of the files; a failed append does not undo the store
	note := c.FormValue("note")
	entry, err := h.uploads.Append(ctx, op, name, note)
	if err != nil {
		log.Warn("upload not logged", "name", name, "error", err)
		resp.LogError = err.Error()
	} else {
		resp.LogEntry = entry
	}

	if strings.TrimSpace(note) != "" {
		if err := h.notes.Set(ctx, category, name, strings.TrimSpace(note)); err != nil {
			log.Warn("note not saved", "name", name, "error", err)
			resp.NoteError = err.Error()
		}
	}

	return c.JSON(http.StatusCreated, resp)
}

// ListResponse is one page of a category listing
type ListResponse struct {
	Category string                `json:"category"`
	Location models.LocationKind   `json:"location"`
	Files    []models.ArtifactView `json:"files"`
	Page     models.PageInfo       `json:"page"`
}

// ListFiles lists one location of a category, newest first
// GET /api/v1/categories/:category/files?location=&page=&page_size=&mine=
func (h *FileHandler) ListFiles(c echo.Context) error {
	ctx := c.Request().Context()
	category := c.Param("category")

	kind, ok := models.ParseLocation(c.QueryParam("location"))
	if !ok {
		return badRequest(c, fmt.Sprintf("unknown location %q", c.QueryParam("location")))
	}

	owner := c.QueryParam("owner")
	if mine, _ := strconv.ParseBool(c.QueryParam("mine")); mine {
		owner = middleware.GetActor(c)
	}
	if !h.store.Paths().OwnerSubfolders() {
		owner = ""
	}

	entries, err := h.inventory.ListCategory(ctx, category, kind, owner)
	if err != nil {
		return h.fail(c, "list", category, err)
	}

	pageEntries, info := service.Paginate(entries, queryInt(c, "page", 1), queryInt(c, "page_size", service.DefaultPageSize))

	views, err := h.inventory.Presence(ctx, category, pageEntries)
	if err != nil {
		return h.fail(c, "list", category, err)
	}

	notes, err := h.notes.All(ctx, category)
	if err != nil {
		h.log.WithContext(ctx).WithCategory(category).Warn("notes unavailable", "error", err)
	}
	for i := range views {
		views[i].Note = notes[views[i].Name]
	}

	return c.JSON(http.StatusOK, ListResponse{
		Category: category,
		Location: kind,
		Files:    views,
		Page:     info,
	})
}

// GetLocations reports where a file currently exists
// GET /api/v1/categories/:category/files/:name
func (h *FileHandler) GetLocations(c echo.Context) error {
	category, name := c.Param("category"), c.Param("name")

	present, err := h.store.ListLocations(c.Request().Context(), category, h.owner(c), name)
	if err != nil {
		return h.fail(c, "locations", category, err)
	}
	if len(present) == 0 {
		return respondError(c, fmt.Errorf("%w: %s", service.ErrNotFound, name), nil)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"category":   category,
		"name":       name,
		"present_in": present,
	})
}

// Download streams one copy of a file
// GET /api/v1/categories/:category/files/:name/download?location=
func (h *FileHandler) Download(c echo.Context) error {
	category, name := c.Param("category"), c.Param("name")

	kind, ok := models.ParseLocation(c.QueryParam("location"))
	if !ok {
		return badRequest(c, fmt.Sprintf("unknown location %q", c.QueryParam("location")))
	}

	f, meta, err := h.store.Open(c.Request().Context(), category, kind, h.owner(c), name)
	if err != nil {
		return h.fail(c, "download", category, err)
	}
	defer f.Close()

	mtype, err := mimetype.DetectReader(f)
	if err != nil {
		return h.fail(c, "download", category, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return h.fail(c, "download", category, err)
	}

	header := c.Response().Header()
	header.Set(echo.HeaderContentType, mtype.String())
	header.Set(echo.HeaderContentDisposition, mime.FormatMediaType("attachment", map[string]string{"filename": meta.Name}))

	http.ServeContent(c.Response(), c.Request(), meta.Name, meta.ModTime, f)
	return nil
}

// Archive moves a file from primary to the archive folder
// POST /api/v1/categories/:category/files/:name/archive
func (h *FileHandler) Archive(c echo.Context) error {
	category, name := c.Param("category"), c.Param("name")

	result, err := h.store.Archive(c.Request().Context(), h.op(c, category), name)
	if err != nil {
		return h.fail(c, "archive", category, err)
	}
	return c.JSON(http.StatusOK, result)
}

// Remove deletes the primary copy of a file
// DELETE /api/v1/categories/:category/files/:name
func (h *FileHandler) Remove(c echo.Context) error {
	category, name := c.Param("category"), c.Param("name")

	result, err := h.store.Remove(c.Request().Context(), h.op(c, category), name)
	if err != nil {
		return h.fail(c, "remove", category, err)
	}
	return c.JSON(http.StatusOK, result)
}

type batchRequest struct {
	Names []string `json:"names"`
	All   bool     `json:"all"`
}

// ArchiveBatch archives several files
// POST /api/v1/categories/:category/archive
func (h *FileHandler) ArchiveBatch(c echo.Context) error {
	return h.batch(c, "archive", h.store.ArchiveBatch)
}

// RemoveBatch removes several files
// POST /api/v1/categories/:category/delete
func (h *FileHandler) RemoveBatch(c echo.Context) error {
	return h.batch(c, "remove", h.store.RemoveBatch)
}

func (h *FileHandler) batch(c echo.Context, operation string, fn func(ctx context.Context, op models.Op, names []string) []models.BatchOutcome) error {
	ctx := c.Request().Context()
	category := c.Param("category")

	var req batchRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid batch request")
	}

	op := h.op(c, category)
	names := req.Names
	if req.All {
		owner := ""
		if h.store.Paths().OwnerSubfolders() {
			owner = op.FolderOwner()
		}
		entries, err := h.inventory.ListCategory(ctx, category, models.LocationPrimary, owner)
		if err != nil {
			return h.fail(c, operation, category, err)
		}
		names = make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name)
		}
	} else if _, ok := h.store.Paths().Categories().Lookup(category); !ok {
		return respondError(c, fmt.Errorf("%w: %q", service.ErrUnknownCategory, category), nil)
	}

	if len(names) == 0 {
		return badRequest(c, "no files selected")
	}

	outcomes := fn(ctx, op, names)

	failed := 0
	for _, o := range outcomes {
		if !o.OK {
			failed++
		}
	}
	h.log.WithContext(ctx).WithCategory(category).WithActor(op.Actor).Info("batch finished",
		"operation", operation,
		"requested", len(names),
		"failed", failed,
	)

	return c.JSON(http.StatusOK, map[string]interface{}{
		"category": category,
		"results":  outcomes,
		"failed":   failed,
	})
}

func (h *FileHandler) op(c echo.Context, category string) models.Op {
	op := models.NewOp(category, middleware.GetActor(c))
	op.Owner = c.QueryParam("owner")
	return op
}

// owner returns the owner folder a read acts on
func (h *FileHandler) owner(c echo.Context) string {
	if owner := c.QueryParam("owner"); owner != "" {
		return owner
	}
	return middleware.GetActor(c)
}

func (h *FileHandler) fail(c echo.Context, operation, category string, err error) error {
	if statusFor(err) == http.StatusInternalServerError {
		h.log.WithContext(c.Request().Context()).WithCategory(category).Error("request failed",
			"operation", operation,
			"error", err,
		)
	}
	return respondError(c, err, nil)
}

func (h *FileHandler) attachFileURL(result *models.StoreResult) {
	if h.publicURL == "" {
		return
	}
	primary, ok := result.Location(models.LocationPrimary)
	if !ok {
		return
	}
	rel, err := filepath.Rel(h.store.Paths().Root(), primary.Path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return
	}
	result.FileURL = server.FileURL(h.publicURL, filepath.ToSlash(rel))
}

func queryInt(c echo.Context, key string, def int) int {
	if v, err := strconv.Atoi(c.QueryParam(key)); err == nil {
		return v
	}
	return def
}
