package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"filevault/internal/server/service"

	"github.com/labstack/echo/v4"
)

func TestUserIDMiddleware(t *testing.T) {
	e := echo.New()
	handler := UserID()(func(c echo.Context) error {
		return c.String(http.StatusOK, requestUserID(c))
	})

	t.Run("rejects a missing header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/files", nil)
		rec := httptest.NewRecorder()

		if err := handler(e.NewContext(req, rec)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "UserId header required") {
			t.Errorf("unexpected body: %s", rec.Body.String())
		}
	})

	t.Run("rejects a blank header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/files", nil)
		req.Header.Set(userIDHeader, "   ")
		rec := httptest.NewRecorder()

		if err := handler(e.NewContext(req, rec)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("passes the id to the handler", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/files", nil)
		req.Header.Set(userIDHeader, "user1")
		rec := httptest.NewRecorder()

		if err := handler(e.NewContext(req, rec)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}
		if rec.Body.String() != "user1" {
			t.Errorf("expected user1, got %s", rec.Body.String())
		}
	})
}

func TestRateLimiter(t *testing.T) {
	e := echo.New()

	call := func(handler echo.HandlerFunc, userID string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/files", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.Set(userIDKey, userID)
		if err := handler(c); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return rec
	}

	ok := func(c echo.Context) error { return c.NoContent(http.StatusOK) }

	t.Run("allows up to burst then throttles", func(t *testing.T) {
		rl := NewRateLimiter(0.0001, 2)
		handler := rl.Middleware()(ok)

		for i := 0; i < 2; i++ {
			if rec := call(handler, "user1"); rec.Code != http.StatusOK {
				t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
			}
		}

		rec := call(handler, "user1")
		if rec.Code != http.StatusTooManyRequests {
			t.Fatalf("expected 429 after burst, got %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "Call Limit Reached") {
			t.Errorf("unexpected body: %s", rec.Body.String())
		}
	})

	t.Run("buckets are per user", func(t *testing.T) {
		rl := NewRateLimiter(0.0001, 1)
		handler := rl.Middleware()(ok)

		if rec := call(handler, "user1"); rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if rec := call(handler, "user1"); rec.Code != http.StatusTooManyRequests {
			t.Fatalf("expected user1 throttled, got %d", rec.Code)
		}
		// user2 is unaffected by user1's spend.
		if rec := call(handler, "user2"); rec.Code != http.StatusOK {
			t.Fatalf("expected 200 for user2, got %d", rec.Code)
		}
	})
}

func TestMapServiceError(t *testing.T) {
	e := echo.New()

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantDetail string
	}{
		{"invalid user id", service.ErrInvalidUserID, http.StatusBadRequest, "UserId header required"},
		{"not found", service.ErrNotFound, http.StatusNotFound, "File not found"},
		{"quota exceeded", service.ErrQuotaExceeded, http.StatusTooManyRequests, "Storage Quota Exceeded"},
		{"has references", service.ErrHasReferences, http.StatusConflict, "Cannot delete original file with active references"},
		{"unknown error", errors.New("boom"), http.StatusInternalServerError, "internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			if err := mapServiceError(c, tt.err); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tt.wantDetail) {
				t.Errorf("expected detail %q in %s", tt.wantDetail, rec.Body.String())
			}
		})
	}
}
