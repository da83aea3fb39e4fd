package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"filevault/internal/server/database"
	"filevault/internal/server/service"

	"github.com/labstack/echo/v4"
)

// Handler contains the HTTP handlers for the vault API.
type Handler struct {
	svc *service.VaultService
	db  *database.DB
}

// NewHandler creates a new handler with the given service dependency.
func NewHandler(svc *service.VaultService, db *database.DB) *Handler {
	return &Handler{svc: svc, db: db}
}

// HandleUpload handles POST /api/files.
// Accepts a multipart form with a "file" field.
func (h *Handler) HandleUpload(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"detail": "No file provided",
		})
	}

	src, err := fileHeader.Open()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"detail": "failed to read uploaded file",
		})
	}
	defer src.Close()

	info, err := h.svc.Upload(c.Request().Context(), requestUserID(c), service.UploadInput{
		Filename:    fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Size:        fileHeader.Size,
		Content:     src,
	})
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusCreated, info)
}

// HandleList handles GET /api/files.
// Supports search, file_type, min_size, max_size, start_date and
// end_date query parameters.
func (h *Handler) HandleList(c echo.Context) error {
	filter, err := parseFilter(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"detail": err.Error()})
	}

	files, err := h.svc.ListFiles(c.Request().Context(), requestUserID(c), filter)
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, files)
}

// HandleGetFile handles GET /api/files/:id.
func (h *Handler) HandleGetFile(c echo.Context) error {
	info, err := h.svc.GetFile(c.Request().Context(), requestUserID(c), c.Param("id"))
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, info)
}

// HandleDownload handles GET /api/files/:id/download.
// Serves the file content as an attachment; for a reference record the
// original's content is served.
func (h *Handler) HandleDownload(c echo.Context) error {
	path, filename, err := h.svc.Download(c.Request().Context(), requestUserID(c), c.Param("id"))
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.Attachment(path, filename)
}

// HandleDelete handles DELETE /api/files/:id.
func (h *Handler) HandleDelete(c echo.Context) error {
	if err := h.svc.Delete(c.Request().Context(), requestUserID(c), c.Param("id")); err != nil {
		return mapServiceError(c, err)
	}

	return c.NoContent(http.StatusNoContent)
}

// HandleStorageStats handles GET /api/files/storage_stats.
func (h *Handler) HandleStorageStats(c echo.Context) error {
	stats, err := h.svc.StorageStats(c.Request().Context(), requestUserID(c))
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, stats)
}

// HandleFileTypes handles GET /api/files/file_types.
// Returns the distinct MIME types of the caller's files.
func (h *Handler) HandleFileTypes(c echo.Context) error {
	types, err := h.svc.FileTypes(c.Request().Context(), requestUserID(c))
	if err != nil {
		return mapServiceError(c, err)
	}
	if types == nil {
		types = []string{}
	}

	return c.JSON(http.StatusOK, types)
}

// HandleHealth handles GET /health.
// Returns the health status of the server, including database connectivity.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := "healthy"
	dbStatus := "connected"

	if err := h.db.HealthCheck(c.Request().Context()); err != nil {
		status = "degraded"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status":   status,
		"database": dbStatus,
	})
}

// parseFilter builds a FileFilter from list query parameters.
func parseFilter(c echo.Context) (database.FileFilter, error) {
	filter := database.FileFilter{
		Search:   c.QueryParam("search"),
		FileType: c.QueryParam("file_type"),
	}

	if raw := c.QueryParam("min_size"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return filter, fmt.Errorf("invalid min_size %q", raw)
		}
		filter.MinSize = &n
	}
	if raw := c.QueryParam("max_size"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return filter, fmt.Errorf("invalid max_size %q", raw)
		}
		filter.MaxSize = &n
	}
	if raw := c.QueryParam("start_date"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, fmt.Errorf("invalid start_date %q", raw)
		}
		filter.StartDate = &t
	}
	if raw := c.QueryParam("end_date"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, fmt.Errorf("invalid end_date %q", raw)
		}
		filter.EndDate = &t
	}

	return filter, nil
}

// mapServiceError translates service-layer errors into appropriate HTTP responses.
func mapServiceError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidUserID):
		return c.JSON(http.StatusBadRequest, echo.Map{"detail": "UserId header required"})
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"detail": "File not found"})
	case errors.Is(err, service.ErrQuotaExceeded):
		return c.JSON(http.StatusTooManyRequests, echo.Map{"detail": "Storage Quota Exceeded"})
	case errors.Is(err, service.ErrHasReferences):
		return c.JSON(http.StatusConflict, echo.Map{"detail": "Cannot delete original file with active references"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"detail": "internal server error"})
	}
}
