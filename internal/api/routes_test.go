package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keygate/keygate/internal/auth"
	"github.com/keygate/keygate/internal/license"
	"github.com/keygate/keygate/internal/metrics"
	"github.com/keygate/keygate/internal/sqlitestore"
	"github.com/keygate/keygate/internal/updates"
)

func setupTestServer(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zerolog.Nop()

	store, err := sqlitestore.Open(filepath.Join(t.TempDir(), "keygate.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	checker, err := auth.NewCredentialChecker("admin-pass", "")
	require.NoError(t, err)
	cookieCfg, err := auth.DefaultCookieConfig(nil, false)
	require.NoError(t, err)
	sessions, err := auth.NewAdminSessions(auth.NewSessionRegistry(auth.DefaultRegistryConfig(), logger), checker, cookieCfg, logger)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m, err := metrics.NewMetrics(reg)
	require.NoError(t, err)

	router := NewRouter(DefaultConfig(), Dependencies{
		Validator: license.NewValidator(license.ValidatorConfig{Store: store, Logger: logger}),
		Licenses:  license.NewManager(license.ManagerConfig{Store: store, Logger: logger}),
		Updates:   updates.NewService(store, time.Second, logger),
		Sessions:  sessions,
		Store:     store,
		Metrics:   m,
		Gatherer:  reg,
	}, logger)
	return router.Engine
}

func do(r http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	r.ServeHTTP(w, req)
	return w
}

func login(t *testing.T, r http.Handler) string {
	t.Helper()
	w := do(r, "POST", "/admin/login", "", `{"password":"admin-pass"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func validate(t *testing.T, r http.Handler, key, hwid string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"key": key, "hwid": hwid})
	w := do(r, "POST", "/validate", "", string(body))
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Status
}

func TestRouter_LicenseLifecycle(t *testing.T) {
	r := setupTestServer(t)
	token := login(t, r)

	assert.Equal(t, "invalid", validate(t, r, "ABCD-1234", "machine-A"))

	w := do(r, "POST", "/admin/licenses", token, `{"key":"ABCD-1234","label":"acme"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(r, "POST", "/admin/licenses", token, `{"key":"ABCD-1234"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	assert.Equal(t, "ok", validate(t, r, "ABCD-1234", "machine-A"))
	assert.Equal(t, "ok", validate(t, r, "ABCD-1234", "machine-A"))
	assert.Equal(t, "hwid_mismatch", validate(t, r, "ABCD-1234", "machine-B"))

	w = do(r, "GET", "/admin/licenses", token, "")
	require.Equal(t, http.StatusOK, w.Code)
	var listing license.Listing
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	require.Len(t, listing.Licenses, 1)
	assert.Equal(t, 1, listing.OnlineCount)
	require.NotNil(t, listing.Licenses[0].HWID)
	assert.Equal(t, "machine-A", *listing.Licenses[0].HWID)

	w = do(r, "POST", "/admin/licenses/ban", token, `{"key":"ABCD-1234"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "banned", validate(t, r, "ABCD-1234", "machine-A"))

	w = do(r, "POST", "/admin/licenses/unban", token, `{"key":"ABCD-1234"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", validate(t, r, "ABCD-1234", "machine-B"), "unban clears the binding")

	w = do(r, "POST", "/admin/licenses/delete", token, `{"key":"ABCD-1234"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "invalid", validate(t, r, "ABCD-1234", "machine-B"))

	w = do(r, "POST", "/admin/licenses/ban", token, `{"key":"ABCD-1234"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_AdminRoutesRequireSession(t *testing.T) {
	r := setupTestServer(t)

	routes := []struct{ method, path string }{
		{"GET", "/admin/licenses"},
		{"POST", "/admin/licenses"},
		{"POST", "/admin/licenses/ban"},
		{"POST", "/admin/licenses/unban"},
		{"POST", "/admin/licenses/delete"},
		{"GET", "/admin/stats"},
		{"POST", "/admin/updates"},
		{"POST", "/admin/logout"},
	}
	for _, rt := range routes {
		w := do(r, rt.method, rt.path, "forged", `{"key":"ABCD-1234"}`)
		assert.Equal(t, http.StatusUnauthorized, w.Code, "%s %s", rt.method, rt.path)
	}

	w := do(r, "POST", "/admin/login", "", `{"password":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_LogoutRevokesToken(t *testing.T) {
	r := setupTestServer(t)
	token := login(t, r)

	require.Equal(t, http.StatusOK, do(r, "POST", "/admin/logout", token, "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, "GET", "/admin/stats", token, "").Code)
}

func TestRouter_Updates(t *testing.T) {
	r := setupTestServer(t)
	token := login(t, r)

	w := do(r, "GET", "/update", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"update":false}`, w.Body.String())

	w = do(r, "POST", "/admin/updates", token,
		`{"version":"1.4.0","url":"https://downloads.example.com/1.4.0.zip","sha256":"9F86D081884C7D659A2FEAA0C55AD015A3BF4F1B2B0B822CD15D6C15B0F00A08"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(r, "GET", "/update", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"update":true,"version":"1.4.0","url":"https://downloads.example.com/1.4.0.zip","sha256":"9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"}`, w.Body.String())

	w = do(r, "POST", "/admin/updates", token, `{"version":"","url":"x","sha256":"y"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	r := setupTestServer(t)
	validate(t, r, "NOPE", "machine-A")

	assert.Equal(t, http.StatusOK, do(r, "GET", "/health", "", "").Code)
	assert.Equal(t, http.StatusOK, do(r, "GET", "/health/db", "", "").Code)

	w := do(r, "GET", "/metrics", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `keygate_validations_total{status="invalid"} 1`)

	assert.Equal(t, http.StatusNotFound, do(r, "GET", "/nope", "", "").Code)
}
