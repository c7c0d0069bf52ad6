package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keygate/keygate/internal/updates"
)

type mockUpdateService struct {
	latest     *updates.Pointer
	latestErr  error
	publishErr error
	published  []string
}

func (m *mockUpdateService) Latest(context.Context) (*updates.Pointer, error) {
	return m.latest, m.latestErr
}

func (m *mockUpdateService) Publish(_ context.Context, version, url, sha256 string) (*updates.Pointer, error) {
	if m.publishErr != nil {
		return nil, m.publishErr
	}
	m.published = append(m.published, version)
	return &updates.Pointer{ID: 1, Version: version, URL: url, SHA256: sha256, CreatedAt: time.Now()}, nil
}

func setupUpdatesRouter(svc UpdateService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewUpdatesHandler(svc, zerolog.Nop())
	h.RegisterPublicRoutes(r)
	h.RegisterRoutes(r.Group("/admin"))
	return r
}

func TestUpdates_Latest(t *testing.T) {
	t.Run("nothing published", func(t *testing.T) {
		r := setupUpdatesRouter(&mockUpdateService{latestErr: updates.ErrNoUpdate})

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/update", nil)
		r.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"update":false}`, w.Body.String())
	})

	t.Run("published", func(t *testing.T) {
		r := setupUpdatesRouter(&mockUpdateService{latest: &updates.Pointer{
			ID: 7, Version: "1.2.0", URL: "https://example.com/1.2.0", SHA256: "ab",
		}})

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/update", nil)
		r.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"update":true,"version":"1.2.0","url":"https://example.com/1.2.0","sha256":"ab"}`, w.Body.String())
	})

	t.Run("store failure", func(t *testing.T) {
		r := setupUpdatesRouter(&mockUpdateService{latestErr: errors.New("down")})

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/update", nil)
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestUpdates_Publish(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		svc := &mockUpdateService{}
		r := setupUpdatesRouter(svc)

		w := postJSON(r, "/admin/updates", `{"version":"2.0.0","url":"https://example.com/2.0.0","sha256":"ab"}`)

		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, []string{"2.0.0"}, svc.published)
	})

	t.Run("invalid pointer", func(t *testing.T) {
		svc := &mockUpdateService{publishErr: fmt.Errorf("%w: bad url", updates.ErrInvalidPointer)}
		r := setupUpdatesRouter(svc)

		w := postJSON(r, "/admin/updates", `{"version":"2.0.0","url":"nope","sha256":"ab"}`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("store failure", func(t *testing.T) {
		r := setupUpdatesRouter(&mockUpdateService{publishErr: errors.New("down")})

		w := postJSON(r, "/admin/updates", `{"version":"2.0.0","url":"https://example.com","sha256":"ab"}`)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}
