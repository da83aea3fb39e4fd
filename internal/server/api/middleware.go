package api

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// userIDHeader is the trusted caller-supplied identity header.
// There is no authentication behind it; the value is taken as-is.
const userIDHeader = "UserId"

// userIDKey is the echo context key the middleware stores the id under.
const userIDKey = "user_id"

// UserID enforces the UserId header on API routes and stashes the
// value in the request context for handlers.
func UserID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID := strings.TrimSpace(c.Request().Header.Get(userIDHeader))
			if userID == "" {
				slog.Warn("missing UserId header", "path", c.Request().URL.Path)
				return c.JSON(http.StatusBadRequest, echo.Map{
					"detail": "UserId header required",
				})
			}
			c.Set(userIDKey, userID)
			return next(c)
		}
	}
}

// requestUserID returns the id stored by the UserID middleware.
func requestUserID(c echo.Context) string {
	userID, _ := c.Get(userIDKey).(string)
	return userID
}

// visitor tracks the rate limit state for a single user.
type visitor struct {
	tokens    float64
	lastCheck time.Time
}

// RateLimiter is a per-user token-bucket rate limiter.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     float64 // tokens per second
	burst    int     // max tokens
}

// NewRateLimiter creates a rate limiter with the given rate (requests/sec) and burst size.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rps,
		burst:    burst,
	}

	// Clean up stale entries every 5 minutes
	go func() {
		for {
			time.Sleep(5 * time.Minute)
			rl.cleanup()
		}
	}()

	return rl
}

// Middleware returns an echo middleware function that enforces rate
// limits per user id. It must run after the UserID middleware.
func (rl *RateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID := requestUserID(c)
			if !rl.allow(userID) {
				slog.Warn("rate limit exceeded", "user_id", userID)
				return c.JSON(http.StatusTooManyRequests, echo.Map{
					"detail": "Call Limit Reached",
				})
			}
			return next(c)
		}
	}
}

func (rl *RateLimiter) allow(userID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.visitors[userID]
	now := time.Now()

	if !exists {
		rl.visitors[userID] = &visitor{
			tokens:    float64(rl.burst) - 1,
			lastCheck: now,
		}
		return true
	}

	// Add tokens based on elapsed time
	elapsed := now.Sub(v.lastCheck).Seconds()
	v.tokens += elapsed * rl.rate
	if v.tokens > float64(rl.burst) {
		v.tokens = float64(rl.burst)
	}
	v.lastCheck = now

	if v.tokens < 1 {
		return false
	}

	v.tokens--
	return true
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-10 * time.Minute)
	for userID, v := range rl.visitors {
		if v.lastCheck.Before(cutoff) {
			delete(rl.visitors, userID)
		}
	}
}

// RequestLogger returns an echo middleware that logs requests using slog.
func RequestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			slog.Info("request",
				"method", req.Method,
				"path", req.URL.Path,
				"status", res.Status,
				"latency_ms", time.Since(start).Milliseconds(),
				"user_id", requestUserID(c),
				"ip", c.RealIP(),
				"bytes_out", res.Size,
			)

			return err
		}
	}
}
