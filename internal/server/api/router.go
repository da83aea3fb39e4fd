package api

import (
	"filevault/internal/server/config"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// SetupRouter creates and configures the echo router with all routes and middleware.
func SetupRouter(handler *Handler, cfg *config.Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", userIDHeader},
	}))
	e.Use(RequestLogger())

	// Health (no UserId required)
	e.GET("/health", handler.HandleHealth)

	// All /api routes require the UserId header
	api := e.Group("/api", UserID())

	// Per-user rate limit; delete and stats stay exempt so a throttled
	// user can still free space and see usage.
	limiter := NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	limited := limiter.Middleware()

	api.POST("/files", handler.HandleUpload, limited)
	api.GET("/files", handler.HandleList, limited)
	api.GET("/files/file_types", handler.HandleFileTypes, limited)
	api.GET("/files/storage_stats", handler.HandleStorageStats)
	api.GET("/files/:id", handler.HandleGetFile, limited)
	api.GET("/files/:id/download", handler.HandleDownload, limited)
	api.DELETE("/files/:id", handler.HandleDelete)

	return e
}
