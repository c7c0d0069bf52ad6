package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keygate/keygate/internal/license"
)

type mockValidator struct {
	status  license.Status
	err     error
	gotKey  string
	gotHWID string
}

func (m *mockValidator) Validate(_ context.Context, rawKey, hwid string) (license.Status, error) {
	m.gotKey, m.gotHWID = rawKey, hwid
	return m.status, m.err
}

type mockValidationRecorder struct {
	statuses []license.Status
	errs     int
}

func (m *mockValidationRecorder) RecordValidation(status license.Status, err error, _ time.Duration) {
	if err != nil {
		m.errs++
		return
	}
	m.statuses = append(m.statuses, status)
}

func setupValidateRouter(v Validator, rec ValidationRecorder) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewValidateHandler(v, rec, zerolog.Nop()).RegisterPublicRoutes(r)
	return r
}

func postJSON(r http.Handler, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestValidate_OutcomesAreAlways200(t *testing.T) {
	for _, status := range license.Statuses() {
		t.Run(string(status), func(t *testing.T) {
			v := &mockValidator{status: status}
			rec := &mockValidationRecorder{}
			r := setupValidateRouter(v, rec)

			w := postJSON(r, "/validate", `{"key":"ABCD-1234","hwid":"machine-A"}`)

			require.Equal(t, http.StatusOK, w.Code)
			assert.JSONEq(t, `{"status":"`+string(status)+`"}`, w.Body.String())
			assert.Equal(t, "ABCD-1234", v.gotKey)
			assert.Equal(t, "machine-A", v.gotHWID)
			assert.Equal(t, []license.Status{status}, rec.statuses)
		})
	}
}

func TestValidate_MissingFieldsAreEmptyValues(t *testing.T) {
	v := &mockValidator{status: license.StatusInvalid}
	r := setupValidateRouter(v, nil)

	w := postJSON(r, "/validate", `{}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "", v.gotKey)
	assert.Equal(t, "", v.gotHWID)
}

func TestValidate_MalformedBody(t *testing.T) {
	r := setupValidateRouter(&mockValidator{status: license.StatusOK}, nil)

	for _, body := range []string{"", "{", `{"key":5}`} {
		w := postJSON(r, "/validate", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, "body %q", body)
	}
}

func TestValidate_StoreFailure(t *testing.T) {
	rec := &mockValidationRecorder{}
	r := setupValidateRouter(&mockValidator{err: errors.New("store down")}, rec)

	w := postJSON(r, "/validate", `{"key":"ABCD-1234","hwid":"machine-A"}`)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "service unavailable", body["error"])
	assert.NotContains(t, w.Body.String(), "status", "a failure is never reported as an outcome")
	assert.Equal(t, 1, rec.errs)
}
