package api

import (
	"fmt"

	"datashare/internal/server/config"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter creates and configures the echo router with all routes and middleware.
func SetupRouter(handler *Handler, verifier TokenVerifier, cfg *config.Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Authorization"},
	}))
	e.Use(RequestLogger())
	e.Use(Metrics())

	auth := BearerAuth(verifier)

	// Health, stats & metrics
	e.GET("/health", handler.HandleHealth)
	e.GET("/api/stats", handler.HandleStats)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	files := e.Group("/api/files")

	// Owner operations
	files.POST("", handler.HandleUpload,
		UploadRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		middleware.BodyLimit(fmt.Sprintf("%dB", cfg.MaxFileSize+multipartOverhead)),
		auth,
	)
	files.GET("", handler.HandleList, auth)
	files.DELETE("/:id", handler.HandleDelete, auth)

	// Public share-token operations
	files.GET("/download/:token", handler.HandleInfo)
	files.POST("/download/:token", handler.HandleDownload)

	return e
}

// multipartOverhead leaves room for form fields and part headers on top of
// the file itself.
const multipartOverhead = 1 << 20
