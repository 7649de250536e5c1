package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdauth/apiserver/types"
)

func newAuditRepo(t *testing.T) (*AuditRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewAuditRepository(db), mock
}

func auditRowColumns() []string {
	return []string{
		"id", "action", "resource_type", "resource_id", "user_id", "username",
		"ip_address", "user_agent", "request_method", "request_path", "description",
		"details", "status", "error_message", "is_security_event", "severity_level", "created_at",
	}
}

func TestAuditInsert(t *testing.T) {
	repo, mock := newAuditRepo(t)

	userID := 7
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO audit_logs`)).
		WithArgs(
			types.ActionLoginFailed,
			"auth",
			sqlmock.AnyArg(),
			sqlmock.AnyArg(),
			"alice",
			"10.0.0.1",
			"test-agent",
			"POST",
			"/api/auth/login",
			"Failed login attempt for user 'alice'",
			[]byte(`{"failure_reason":"invalid_password"}`),
			types.AuditStatusFailed,
			sqlmock.AnyArg(),
			types.SecurityFlagSuspicious,
			types.SeverityWarning,
			sqlmock.AnyArg(),
		).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(99)))

	id, err := repo.Insert(context.Background(), types.AuditEvent{
		Action:       types.ActionLoginFailed,
		ResourceType: "auth",
		UserID:       &userID,
		Username:     "alice",
		IPAddress:    "10.0.0.1",
		UserAgent:    "test-agent",
		Method:       "POST",
		Path:         "/api/auth/login",
		Description:  "Failed login attempt for user 'alice'",
		Details:      map[string]any{"failure_reason": "invalid_password"},
		Status:       types.AuditStatusFailed,
		SecurityFlag: types.SecurityFlagSuspicious,
		Severity:     types.SeverityWarning,
		CreatedAt:    time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(99), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditListNewestFirst(t *testing.T) {
	repo, mock := newAuditRepo(t)

	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM audit_logs WHERE action = $1`)).
		WithArgs(types.ActionLoginFailed).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY created_at DESC OFFSET $2 LIMIT $3`)).
		WithArgs(types.ActionLoginFailed, 0, 50).
		WillReturnRows(sqlmock.NewRows(auditRowColumns()).
			AddRow(int64(2), types.ActionLoginFailed, "auth", nil, nil, "bob",
				"10.0.0.2", nil, "POST", "/api/auth/login", "Failed login attempt for user 'bob'",
				[]byte(`{"failure_reason":"user_not_found"}`), "failed", nil, "suspicious", "warning", now).
			AddRow(int64(1), types.ActionLoginFailed, "auth", nil, nil, "alice",
				"10.0.0.1", nil, "POST", "/api/auth/login", "Failed login attempt for user 'alice'",
				nil, "failed", nil, nil, "warning", now.Add(-time.Minute)))

	events, total, err := repo.List(context.Background(), types.AuditFilters{
		Action: types.ActionLoginFailed,
		Limit:  50,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, events, 2)
	assert.Equal(t, "bob", events[0].Username)
	assert.Equal(t, "user_not_found", events[0].Details["failure_reason"])
	assert.Empty(t, events[1].SecurityFlag)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditListSecurityOnly(t *testing.T) {
	repo, mock := newAuditRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM audit_logs WHERE is_security_event IS NOT NULL`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM audit_logs WHERE is_security_event IS NOT NULL ORDER BY created_at DESC`)).
		WithArgs(0, 100).
		WillReturnRows(sqlmock.NewRows(auditRowColumns()))

	events, total, err := repo.List(context.Background(), types.AuditFilters{
		SecurityOnly: true,
		Limit:        100,
	})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, events)
}

func TestAuditCountByAction(t *testing.T) {
	repo, mock := newAuditRepo(t)

	since := time.Now().Add(-24 * time.Hour)
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE is_security_event IS NOT NULL AND created_at >= $1`)).
		WithArgs(since).
		WillReturnRows(sqlmock.NewRows([]string{"action", "count"}).
			AddRow(types.ActionLoginFailed, 12).
			AddRow(types.ActionRateLimitExceeded, 3))

	counts, err := repo.CountByAction(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{
		types.ActionLoginFailed:       12,
		types.ActionRateLimitExceeded: 3,
	}, counts)
}
