package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-sentinel/internal/middleware"
	"github.com/technosupport/ts-sentinel/internal/tenants"
)

func newAdminRouter(t *testing.T) (http.Handler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	svc := tenants.NewService(db, filepath.Join(t.TempDir(), "usage.jsonl"))
	handler := NewAdminHandler(svc)

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(middleware.AdminAuth(middleware.AdminConfig{Credential: "admin-secret"}))
		r.Post("/admin/tenants", handler.CreateTenant)
		r.Post("/admin/tenants/{id}/revoke", handler.Revoke)
		r.Post("/admin/tenants/{id}/reactivate", handler.Reactivate)
	})
	return r, mock
}

func adminPost(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest("POST", path, &buf)
	req.Header.Set("X-Admin-Key", "admin-secret")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestAdminCreateTenant(t *testing.T) {
	h, mock := newAdminRouter(t)

	mock.ExpectQuery(`INSERT INTO tenants`).
		WithArgs(sqlmock.AnyArg(), "NewCo", "ops@newco.example").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectQuery(`INSERT INTO credentials`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))

	rr := adminPost(t, h, "/admin/tenants", map[string]any{
		"name":  "NewCo",
		"email": "ops@newco.example",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var body struct {
		TenantID   string `json:"tenant_id"`
		Credential string `json:"credential"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	_, err := uuid.Parse(body.TenantID)
	assert.NoError(t, err)
	assert.True(t, strings.HasPrefix(body.Credential, "ts_"))
	assert.Len(t, body.Credential, 43)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdminRevokeTenant(t *testing.T) {
	h, mock := newAdminRouter(t)
	id := uuid.New()

	mock.ExpectExec(`UPDATE tenants SET active`).
		WithArgs(false, id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE credentials SET active`).
		WithArgs(false, id, true).
		WillReturnResult(sqlmock.NewResult(0, 2))

	rr := adminPost(t, h, "/admin/tenants/"+id.String()+"/revoke", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var body struct {
		Status string `json:"status"`
		Count  int64  `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "revoked", body.Status)
	assert.Equal(t, int64(2), body.Count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdminInvalidTenantID(t *testing.T) {
	h, _ := newAdminRouter(t)
	rr := adminPost(t, h, "/admin/tenants/not-a-uuid/revoke", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
