package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"datashare/internal/server/config"
	"datashare/internal/server/database"
	"datashare/internal/server/service"

	"github.com/labstack/echo/v4"
)

// HealthChecker reports whether the registry backend is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Handler contains the HTTP handlers for the DataShare API.
type Handler struct {
	engine      *service.Engine
	db          HealthChecker
	baseURL     string
	maxFileSize int64
}

// NewHandler creates a new handler with the given engine dependency.
func NewHandler(engine *service.Engine, db HealthChecker, cfg *config.Config) *Handler {
	return &Handler{
		engine:      engine,
		db:          db,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		maxFileSize: cfg.MaxFileSize,
	}
}

// fileResponse is the public view of a record. The storage key is never
// part of it.
type fileResponse struct {
	ID                int64     `json:"id"`
	Name              string    `json:"name"`
	ContentType       string    `json:"content_type"`
	Size              int64     `json:"size"`
	Token             string    `json:"token"`
	DownloadURL       string    `json:"download_url"`
	CreatedAt         time.Time `json:"created_at"`
	ExpiresAt         time.Time `json:"expires_at"`
	PasswordProtected bool      `json:"password_protected"`
	Tags              []string  `json:"tags"`
}

func (h *Handler) toResponse(rec *database.FileRecord) fileResponse {
	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}
	return fileResponse{
		ID:                rec.ID,
		Name:              rec.Name,
		ContentType:       rec.ContentType,
		Size:              rec.Size,
		Token:             rec.Token,
		DownloadURL:       fmt.Sprintf("%s/api/files/download/%s", h.baseURL, rec.Token),
		CreatedAt:         rec.CreatedAt,
		ExpiresAt:         rec.ExpiresAt,
		PasswordProtected: rec.PasswordHash != nil,
		Tags:              tags,
	}
}

// HandleUpload handles POST /api/files.
// Accepts a multipart form with a "file" field and optional "expirationDays",
// "password" and repeated "tags" fields.
func (h *Handler) HandleUpload(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		if errors.Is(err, echo.ErrStatusRequestEntityTooLarge) {
			return c.JSON(http.StatusRequestEntityTooLarge, echo.Map{"error": "file exceeds maximum allowed size"})
		}
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "file is required (use form field 'file')",
		})
	}

	if fileHeader.Size > h.maxFileSize {
		return c.JSON(http.StatusRequestEntityTooLarge, echo.Map{"error": "file exceeds maximum allowed size"})
	}

	var window *int
	if raw := strings.TrimSpace(c.FormValue("expirationDays")); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "expirationDays must be an integer"})
		}
		window = &days
	}

	var tags []string
	if form, err := c.MultipartForm(); err == nil {
		tags = form.Value["tags"]
	}

	src, err := fileHeader.Open()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "failed to read uploaded file",
		})
	}
	defer src.Close()

	rec, err := h.engine.Upload(c.Request().Context(), service.UploadRequest{
		Filename:       fileHeader.Filename,
		ContentType:    fileHeader.Header.Get(echo.HeaderContentType),
		Size:           fileHeader.Size,
		Content:        src,
		Owner:          identity(c),
		ExpirationDays: window,
		Password:       c.FormValue("password"),
		Tags:           tags,
	})
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusCreated, h.toResponse(rec))
}

// HandleList handles GET /api/files.
// Returns the caller's files, newest first.
func (h *Handler) HandleList(c echo.Context) error {
	files, err := h.engine.ListOwned(c.Request().Context(), identity(c))
	if err != nil {
		return mapServiceError(c, err)
	}

	out := make([]fileResponse, 0, len(files))
	for _, rec := range files {
		out = append(out, h.toResponse(rec))
	}
	return c.JSON(http.StatusOK, out)
}

// HandleDelete handles DELETE /api/files/:id.
func (h *Handler) HandleDelete(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid file id"})
	}

	if err := h.engine.Delete(c.Request().Context(), id, identity(c)); err != nil {
		return mapServiceError(c, err)
	}

	return c.NoContent(http.StatusNoContent)
}

// HandleInfo handles GET /api/files/download/:token.
// Returns file metadata without serving the file, even after expiration.
func (h *Handler) HandleInfo(c echo.Context) error {
	info, err := h.engine.GetInfo(c.Request().Context(), c.Param("token"))
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, info)
}

// HandleDownload handles POST /api/files/download/:token.
// Streams the file as an attachment. The password may come from the form
// body or the query string.
func (h *Handler) HandleDownload(c echo.Context) error {
	d, err := h.engine.Download(c.Request().Context(), c.Param("token"), c.FormValue("password"))
	if err != nil {
		return mapServiceError(c, err)
	}
	defer d.Content.Close()

	res := c.Response()
	res.Header().Set(echo.HeaderContentDisposition, mime.FormatMediaType("attachment", map[string]string{"filename": d.Name}))
	res.Header().Set(echo.HeaderContentLength, strconv.FormatInt(d.Size, 10))
	res.Header().Set("X-Content-Type-Options", "nosniff")

	return c.Stream(http.StatusOK, d.ContentType, d.Content)
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

// HandleStats handles GET /api/stats.
// Returns aggregate server statistics.
func (h *Handler) HandleStats(c echo.Context) error {
	stats, err := h.engine.Stats(c.Request().Context())
	if err != nil {
		slog.Error("failed to retrieve stats", "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "failed to retrieve stats",
		})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"total_files":        stats.TotalFiles,
		"active_files":       stats.ActiveFiles,
		"storage_used_bytes": stats.StorageUsed,
		"storage_used_human": humanizeBytes(stats.StorageUsed),
	})
}

// mapServiceError translates service-layer errors into appropriate HTTP responses.
func mapServiceError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrValidation):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrUserNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "file not found"})
	case errors.Is(err, service.ErrNotOwner):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "you may not delete this file"})
	case errors.Is(err, service.ErrExpired):
		return c.JSON(http.StatusGone, echo.Map{"error": "file has expired"})
	case errors.Is(err, service.ErrPasswordRequired):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "password is required"})
	case errors.Is(err, service.ErrInvalidPassword):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "invalid password"})
	case errors.Is(err, echo.ErrStatusRequestEntityTooLarge):
		return c.JSON(http.StatusRequestEntityTooLarge, echo.Map{
			"error": "file exceeds maximum allowed size",
		})
	default:
		slog.Error("request failed",
			"method", c.Request().Method,
			"path", c.Path(),
			"error", err,
		)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}
}

// humanizeBytes formats a byte count into a human-readable string.
func humanizeBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
