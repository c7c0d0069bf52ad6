package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keygate/keygate/internal/license"
)

type mockLicenseManager struct {
	createResult *license.CreateResult
	createErr    error
	mutateErr    error
	listing      *license.Listing
	stats        *license.Stats
	readErr      error

	calls   []string
	lastKey string
}

func (m *mockLicenseManager) Create(_ context.Context, rawKey, label string) (*license.CreateResult, error) {
	m.calls = append(m.calls, "create")
	m.lastKey = rawKey
	return m.createResult, m.createErr
}

func (m *mockLicenseManager) Ban(_ context.Context, rawKey string) error {
	m.calls = append(m.calls, "ban")
	m.lastKey = rawKey
	return m.mutateErr
}

func (m *mockLicenseManager) Unban(_ context.Context, rawKey string) error {
	m.calls = append(m.calls, "unban")
	m.lastKey = rawKey
	return m.mutateErr
}

func (m *mockLicenseManager) Delete(_ context.Context, rawKey string) error {
	m.calls = append(m.calls, "delete")
	m.lastKey = rawKey
	return m.mutateErr
}

func (m *mockLicenseManager) List(context.Context) (*license.Listing, error) {
	return m.listing, m.readErr
}

func (m *mockLicenseManager) Stats(context.Context) (*license.Stats, error) {
	return m.stats, m.readErr
}

func (m *mockLicenseManager) Describe(lic *license.License) license.View {
	return license.View{ID: lic.ID, KeyID: lic.KeyID(), Active: lic.Active, CreatedAt: lic.CreatedAt}
}

func setupLicensesRouter(m LicenseManager) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewLicensesHandler(m, zerolog.Nop()).RegisterRoutes(r.Group("/admin"))
	return r
}

func TestLicenses_List(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		m := &mockLicenseManager{listing: &license.Listing{
			Licenses:    []license.View{{ID: uuid.New(), KeyID: "abc123def456", Active: true, Online: true}},
			OnlineCount: 1,
		}}
		r := setupLicensesRouter(m)

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/admin/licenses", nil)
		r.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var got license.Listing
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, 1, got.OnlineCount)
		require.Len(t, got.Licenses, 1)
		assert.Equal(t, "abc123def456", got.Licenses[0].KeyID)
	})

	t.Run("store failure", func(t *testing.T) {
		r := setupLicensesRouter(&mockLicenseManager{readErr: errors.New("down")})

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/admin/licenses", nil)
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestLicenses_Create(t *testing.T) {
	lic := license.NewLicense(license.HashKey("ABCD-1234"), "", time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	t.Run("supplied key is not echoed", func(t *testing.T) {
		m := &mockLicenseManager{createResult: &license.CreateResult{License: lic, Key: "ABCD-1234"}}
		r := setupLicensesRouter(m)

		w := postJSON(r, "/admin/licenses", `{"key":"ABCD-1234"}`)

		require.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, "ABCD-1234", m.lastKey)
		assert.NotContains(t, w.Body.String(), "ABCD-1234")
	})

	t.Run("generated key is returned once", func(t *testing.T) {
		m := &mockLicenseManager{createResult: &license.CreateResult{License: lic, Key: "QWER-TYUP-ASDF-GHJK", Generated: true}}
		r := setupLicensesRouter(m)

		w := postJSON(r, "/admin/licenses", `{}`)

		require.Equal(t, http.StatusCreated, w.Code)
		var got CreateLicenseResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, "QWER-TYUP-ASDF-GHJK", got.Key)
		assert.Equal(t, lic.ID, got.License.ID)
	})

	t.Run("conflict", func(t *testing.T) {
		r := setupLicensesRouter(&mockLicenseManager{createErr: license.ErrConflict})
		w := postJSON(r, "/admin/licenses", `{"key":"ABCD-1234"}`)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("invalid key", func(t *testing.T) {
		r := setupLicensesRouter(&mockLicenseManager{createErr: license.ErrInvalidKey})
		w := postJSON(r, "/admin/licenses", `{"key":"   "}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("store failure", func(t *testing.T) {
		r := setupLicensesRouter(&mockLicenseManager{createErr: errors.New("down")})
		w := postJSON(r, "/admin/licenses", `{"key":"ABCD-1234"}`)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestLicenses_Mutations(t *testing.T) {
	for _, op := range []string{"ban", "unban", "delete"} {
		t.Run(op, func(t *testing.T) {
			m := &mockLicenseManager{}
			r := setupLicensesRouter(m)

			w := postJSON(r, "/admin/licenses/"+op, `{"key":"ABCD-1234"}`)

			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, []string{op}, m.calls)
			assert.Equal(t, "ABCD-1234", m.lastKey)
		})
	}

	t.Run("missing key", func(t *testing.T) {
		m := &mockLicenseManager{}
		r := setupLicensesRouter(m)

		w := postJSON(r, "/admin/licenses/ban", `{}`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Empty(t, m.calls)
	})

	t.Run("unknown key", func(t *testing.T) {
		r := setupLicensesRouter(&mockLicenseManager{mutateErr: license.ErrNotFound})
		w := postJSON(r, "/admin/licenses/ban", `{"key":"NOPE"}`)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("store failure", func(t *testing.T) {
		r := setupLicensesRouter(&mockLicenseManager{mutateErr: errors.New("down")})
		w := postJSON(r, "/admin/licenses/unban", `{"key":"ABCD-1234"}`)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestLicenses_Stats(t *testing.T) {
	r := setupLicensesRouter(&mockLicenseManager{stats: &license.Stats{Total: 3, Active: 2, Bound: 2, Online: 1}})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/admin/stats", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var got license.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, license.Stats{Total: 3, Active: 2, Bound: 2, Online: 1}, got)
}
