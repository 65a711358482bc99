package store

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/paddleraise/authcore/pkg/observability"
)

func newMockStore(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	return NewPostgres(db, time.Second, logger), mock
}

func TestCreatePrincipalDuplicateEmail(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO principals`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "principals_email_key"})

	err := st.CreatePrincipal(context.Background(), &Principal{
		ID:        "u-1",
		Email:     "donor@example.org",
		Role:      RoleDonor,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	})
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Errorf("CreatePrincipal() error = %v, want ErrDuplicateEmail", err)
	}
}

func TestGetPrincipalByEmailNotFound(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .* FROM principals WHERE email`).
		WithArgs("missing@example.org").
		WillReturnRows(sqlmock.NewRows(nil))

	_, err := st.GetPrincipalByEmail(context.Background(), "missing@example.org")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetPrincipalByEmail() error = %v, want ErrNotFound", err)
	}
}

func TestGetPrincipalByIDRetriesTransientErrors(t *testing.T) {
	st, mock := newMockStore(t)

	now := time.Now()
	cols := []string{"id", "email", "password_hash", "role", "tenant_id",
		"is_active", "email_verified", "last_login_at", "created_at", "updated_at"}

	mock.ExpectQuery(`SELECT .* FROM principals WHERE id`).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectQuery(`SELECT .* FROM principals WHERE id`).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("u-1", "donor@example.org", "hash", "donor", nil, true, true, nil, now, now))

	pr, err := st.GetPrincipalByID(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("GetPrincipalByID() error = %v", err)
	}
	if pr.Role != RoleDonor {
		t.Errorf("Role = %q", pr.Role)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestRevokeSessionDistinguishesMissingFromRevoked(t *testing.T) {
	st, mock := newMockStore(t)
	at := time.Now()

	// already revoked: update touches nothing but the row exists
	mock.ExpectExec(`UPDATE sessions SET revoked_at`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("sess-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	if err := st.RevokeSession(context.Background(), "sess-1", at); !errors.Is(err, ErrAlreadyRevoked) {
		t.Errorf("RevokeSession(revoked) error = %v, want ErrAlreadyRevoked", err)
	}

	// missing entirely
	mock.ExpectExec(`UPDATE sessions SET revoked_at`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("sess-2").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	if err := st.RevokeSession(context.Background(), "sess-2", at); !errors.Is(err, ErrNotFound) {
		t.Errorf("RevokeSession(missing) error = %v, want ErrNotFound", err)
	}
}

func TestRevokeUserSessionsExcept(t *testing.T) {
	st, mock := newMockStore(t)
	at := time.Now()

	mock.ExpectQuery(`UPDATE sessions SET revoked_at .* RETURNING id`).
		WithArgs("u-1", "sess-keep", at).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("sess-a").AddRow("sess-b"))

	ids, err := st.RevokeUserSessions(context.Background(), "u-1", "sess-keep", at)
	if err != nil {
		t.Fatalf("RevokeUserSessions() error = %v", err)
	}
	if len(ids) != 2 || ids[0] != "sess-a" || ids[1] != "sess-b" {
		t.Errorf("ids = %v", ids)
	}
}

func TestExpireSessions(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectExec(`UPDATE sessions SET revoked_at .* WHERE expires_at`).
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := st.ExpireSessions(context.Background(), now)
	if err != nil {
		t.Fatalf("ExpireSessions() error = %v", err)
	}
	if n != 7 {
		t.Errorf("n = %d, want 7", n)
	}
}

func TestAppendAudit(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO audit_records`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := st.AppendAudit(context.Background(), &AuditRecord{
		ID:         "a-1",
		EventType:  "login",
		Status:     "success",
		UserID:     "u-1",
		IPAddress:  "203.0.113.7",
		OccurredAt: time.Now(),
	})
	if err != nil {
		t.Errorf("AppendAudit() error = %v", err)
	}
}

func TestRoleLevels(t *testing.T) {
	if !(RoleSuperAdmin.Level() > RoleNPOAdmin.Level() &&
		RoleNPOAdmin.Level() > RoleEventCoordinator.Level() &&
		RoleEventCoordinator.Level() > RoleStaff.Level() &&
		RoleStaff.Level() > RoleDonor.Level()) {
		t.Error("role hierarchy out of order")
	}
	if Role("intruder").Valid() {
		t.Error("unknown role reported valid")
	}
}

func TestSessionActive(t *testing.T) {
	now := time.Now()
	s := &Session{IssuedAt: now, ExpiresAt: now.Add(time.Hour)}
	if !s.Active(now) {
		t.Error("fresh session not active")
	}
	if s.Active(now.Add(2 * time.Hour)) {
		t.Error("expired session active")
	}
	revoked := now
	s.RevokedAt = &revoked
	if s.Active(now) {
		t.Error("revoked session active")
	}
}
