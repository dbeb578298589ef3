package tenants

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-sentinel/internal/data"
)

func mockService(t *testing.T) (*Service, sqlmock.Sqlmock, string) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	spoolPath := filepath.Join(t.TempDir(), "usage_spool.jsonl")
	return NewService(db, spoolPath), mock, spoolPath
}

func TestGenerateCredentialShape(t *testing.T) {
	cred, err := GenerateCredential()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(cred, "ts_"))
	assert.Len(t, cred, 3+40)

	other, err := GenerateCredential()
	require.NoError(t, err)
	assert.NotEqual(t, cred, other)
}

func TestDigestStable(t *testing.T) {
	assert.Equal(t, Digest("ts_abc"), Digest("ts_abc"))
	assert.NotEqual(t, Digest("ts_abc"), Digest("ts_abd"))
	assert.Len(t, Digest("x"), 64)
}

func TestCreateReturnsPlaintextOnce(t *testing.T) {
	s, mock, _ := mockService(t)

	mock.ExpectQuery(`INSERT INTO tenants`).
		WithArgs(sqlmock.AnyArg(), "Acme", "ops@acme.example").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectQuery(`INSERT INTO credentials`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))

	tenant, plaintext, err := s.Create(context.Background(), "Acme", "ops@acme.example")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, tenant.ID)
	assert.True(t, strings.HasPrefix(plaintext, "ts_"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuthenticateUnknownKey(t *testing.T) {
	s, mock, _ := mockService(t)

	mock.ExpectQuery(`FROM credentials c`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, _, err := s.Authenticate(context.Background(), "ts_bogus")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestRevokeCountsCredentials(t *testing.T) {
	s, mock, _ := mockService(t)
	tenantID := uuid.New()

	mock.ExpectExec(`UPDATE tenants SET active`).
		WithArgs(false, tenantID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE credentials SET active`).
		WithArgs(false, tenantID, true).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.Revoke(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestRecordUsageSpoolsOnDBFailure(t *testing.T) {
	s, mock, spoolPath := mockService(t)
	tenantID := uuid.New()

	mock.ExpectExec(`INSERT INTO usage_records`).
		WillReturnError(errors.New("connection refused"))

	s.RecordUsage(context.Background(), tenantID, "/buffer/frame", 1)

	raw, err := os.ReadFile(spoolPath)
	require.NoError(t, err)
	assert.Contains(t, string(raw), tenantID.String())
	assert.Contains(t, string(raw), "/buffer/frame")
}

func TestUsageReplayDrainsSpool(t *testing.T) {
	s, mock, spoolPath := mockService(t)
	tenantID := uuid.New()

	mock.ExpectExec(`INSERT INTO usage_records`).
		WillReturnError(errors.New("db down"))
	s.RecordUsage(context.Background(), tenantID, "/alert", 1)

	// Database back up: replay succeeds and the spool drains.
	mock.ExpectExec(`INSERT INTO usage_records`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	s.replayUsageSpool(context.Background())

	_, err := os.Stat(spoolPath)
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUsageReplayRespoolsWhileDown(t *testing.T) {
	s, mock, spoolPath := mockService(t)

	mock.ExpectExec(`INSERT INTO usage_records`).
		WillReturnError(errors.New("db down"))
	s.RecordUsage(context.Background(), uuid.New(), "/alert", 1)

	mock.ExpectExec(`INSERT INTO usage_records`).
		WillReturnError(errors.New("still down"))
	s.replayUsageSpool(context.Background())

	raw, err := os.ReadFile(spoolPath)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "/alert")
}

func TestTenantContact(t *testing.T) {
	s, mock, _ := mockService(t)
	tenantID := uuid.New()

	mock.ExpectQuery(`FROM tenants`).
		WithArgs(tenantID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "contact_email", "active", "created_at"}).
			AddRow(tenantID, "Acme", "ops@acme.example", true, time.Now()))

	name, contact, err := s.TenantContact(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Equal(t, "Acme", name)
	assert.Equal(t, "ops@acme.example", contact)

	mock.ExpectQuery(`FROM tenants`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	_, _, err = s.TenantContact(context.Background(), uuid.New())
	assert.ErrorIs(t, err, data.ErrRecordNotFound)
}
