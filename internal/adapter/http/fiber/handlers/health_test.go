package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func TestHealthHandler_Ready(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	t.Run("AllHealthy", func(t *testing.T) {
		app := fiber.New()
		app.Get("/health/ready", NewHealthHandler(map[string]Check{"database": ok, "cache": ok}).Ready)

		resp, result := doJSON(t, app, http.MethodGet, "/health/ready", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", resp.StatusCode)
		}
		if result["status"] != "ready" {
			t.Errorf("Expected ready, got %v", result["status"])
		}
	})

	t.Run("OneDown", func(t *testing.T) {
		app := fiber.New()
		app.Get("/health/ready", NewHealthHandler(map[string]Check{"database": ok, "queue": down}).Ready)

		resp, result := doJSON(t, app, http.MethodGet, "/health/ready", nil)
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Fatalf("Expected status 503, got %d", resp.StatusCode)
		}
		checks := result["checks"].(map[string]interface{})
		if checks["queue"] != "connection refused" || checks["database"] != "ok" {
			t.Errorf("Unexpected check results: %v", checks)
		}
	})
}

func TestHealthHandler_LiveAndMetrics(t *testing.T) {
	app := fiber.New()
	h := NewHealthHandler(nil)
	app.Get("/health/live", h.Live)
	app.Get("/metrics", Metrics())

	resp, _ := doJSON(t, app, http.MethodGet, "/health/live", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "go_goroutines") {
		t.Errorf("Expected prometheus exposition, got %d: %.80s", resp.StatusCode, body)
	}
}
