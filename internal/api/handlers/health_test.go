package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type mockStoreHealthChecker struct {
	pingErr error
	health  map[string]any
}

func (m *mockStoreHealthChecker) Ping(_ context.Context) error {
	return m.pingErr
}

func (m *mockStoreHealthChecker) Health() map[string]any {
	if m.health != nil {
		return m.health
	}
	return map[string]any{}
}

func setupHealthTestRouter(store StoreHealthChecker) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHealthHandler(store, "1.0.0", zerolog.Nop()).RegisterPublicRoutes(r)
	return r
}

func TestHealthOverall(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		r := setupHealthTestRouter(&mockStoreHealthChecker{})

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/health", nil)
		r.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
		}

		var resp HealthResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to unmarshal: %v", err)
		}
		if resp.Status != HealthStatusHealthy {
			t.Fatalf("expected healthy status, got %q", resp.Status)
		}
		if resp.Version != "1.0.0" {
			t.Errorf("expected version 1.0.0, got %q", resp.Version)
		}
	})

	t.Run("store unhealthy", func(t *testing.T) {
		r := setupHealthTestRouter(&mockStoreHealthChecker{pingErr: errors.New("connection refused")})

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/health", nil)
		r.ServeHTTP(w, req)

		if w.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected status 503, got %d", w.Code)
		}
	})

	t.Run("nil store", func(t *testing.T) {
		r := setupHealthTestRouter(nil)

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/health", nil)
		r.ServeHTTP(w, req)

		if w.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected status 503, got %d", w.Code)
		}
	})
}

func TestHealthDatabase(t *testing.T) {
	t.Run("includes details", func(t *testing.T) {
		r := setupHealthTestRouter(&mockStoreHealthChecker{health: map[string]any{"driver": "sqlite"}})

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/health/db", nil)
		r.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", w.Code)
		}

		var resp HealthResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to unmarshal: %v", err)
		}
		check, ok := resp.Checks["database"]
		if !ok {
			t.Fatal("expected database check")
		}
		if check.Details["driver"] != "sqlite" {
			t.Errorf("expected sqlite driver, got %v", check.Details["driver"])
		}
	})

	t.Run("unhealthy hides error detail", func(t *testing.T) {
		r := setupHealthTestRouter(&mockStoreHealthChecker{pingErr: errors.New("password authentication failed for user keygate")})

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/health/db", nil)
		r.ServeHTTP(w, req)

		if w.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected status 503, got %d", w.Code)
		}
		var resp HealthResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to unmarshal: %v", err)
		}
		if resp.Error != "database ping failed" {
			t.Errorf("unexpected error %q", resp.Error)
		}
	})
}
