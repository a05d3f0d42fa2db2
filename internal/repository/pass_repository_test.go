package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/hallpass-api/internal/models"
)

var passRowColumns = []string{
	"id", "student_id", "origin_location_id", "destination_location_id", "status", "requested_at",
	"approved_at", "expected_return_at", "ended_at", "overtime_at", "time_limit_minutes", "approver_id",
	"requested_by", "denial_reason", "version",
}

func newSQLMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	cleanup := func() {
		_ = sqlxDB.Close()
	}
	return sqlxDB, mock, cleanup
}

func passRows(passes ...models.Pass) *sqlmock.Rows {
	rows := sqlmock.NewRows(passRowColumns)
	for _, p := range passes {
		rows.AddRow(p.ID, p.StudentID, p.OriginLocationID, p.DestinationLocationID, string(p.Status), p.RequestedAt,
			nullTime(p.ApprovedAt), nullTime(p.ExpectedReturnAt), nullTime(p.EndedAt), nullTime(p.OvertimeAt),
			p.TimeLimitMinutes, nullString(p.ApproverID), p.RequestedBy, nullString(p.DenialReason), p.Version)
	}
	return rows
}

func nullTime(t *time.Time) driver.Value {
	if t == nil {
		return nil
	}
	return *t
}

func nullString(s *string) driver.Value {
	if s == nil {
		return nil
	}
	return *s
}

func TestPassRepositoryRunInScopeLocksInOrder(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()
	repo := NewPassRepository(db, 2*time.Second)

	now := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	pass := &models.Pass{
		ID: "p1", StudentID: "s1", OriginLocationID: "room-101", DestinationLocationID: "restroom",
		Status: models.PassStatusPending, RequestedAt: now, TimeLimitMinutes: 5, RequestedBy: "s1", Version: 1,
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`SET LOCAL lock_timeout = '2000ms'`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`)).
		WithArgs("location:restroom").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`)).
		WithArgs("student:s1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM passes WHERE destination_location_id = $1 AND status = ANY($2)`)).
		WithArgs("restroom", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO passes`)).
		WithArgs("p1", "s1", "room-101", "restroom", "PENDING", now, nil, nil, nil, nil, 5, nil, "s1", nil, int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	scope := NewLockScope(StudentLockKey("s1"), LocationLockKey("restroom"), StudentLockKey("s1"))
	err := repo.RunInScope(context.Background(), scope, func(ctx context.Context, tx PassTx) error {
		occupants, err := tx.CountOccupants(ctx, "restroom")
		if err != nil {
			return err
		}
		assert.Equal(t, 1, occupants)
		return tx.Insert(ctx, pass)
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPassRepositoryRunInScopeLockTimeout(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()
	repo := NewPassRepository(db, time.Second)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`SET LOCAL lock_timeout`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`pg_advisory_xact_lock`)).
		WithArgs("student:s1").
		WillReturnError(&pq.Error{Code: "55P03", Message: "canceling statement due to lock timeout"})
	mock.ExpectRollback()

	called := false
	err := repo.RunInScope(context.Background(), NewLockScope(StudentLockKey("s1")), func(ctx context.Context, tx PassTx) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLockTimeout))
	assert.False(t, called)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPassRepositoryRunInScopeRollsBackOnCallbackError(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()
	repo := NewPassRepository(db, time.Second)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`SET LOCAL lock_timeout`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`pg_advisory_xact_lock`)).WithArgs("student:s1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	rejected := errors.New("rejected")
	err := repo.RunInScope(context.Background(), NewLockScope(StudentLockKey("s1")), func(ctx context.Context, tx PassTx) error {
		return rejected
	})
	assert.ErrorIs(t, err, rejected)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPassRepositoryInsertUniqueViolation(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()
	repo := NewPassRepository(db, time.Second)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`SET LOCAL lock_timeout`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO passes`)).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "passes_one_open_per_student"})
	mock.ExpectRollback()

	err := repo.RunInScope(context.Background(), NewLockScope(), func(ctx context.Context, tx PassTx) error {
		return tx.Insert(ctx, &models.Pass{ID: "p1", StudentID: "s1", Status: models.PassStatusActive})
	})
	assert.ErrorIs(t, err, ErrOpenPassExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPassRepositoryTransition(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()
	repo := NewPassRepository(db, time.Second)

	now := time.Date(2024, 3, 4, 10, 5, 0, 0, time.UTC)
	status := models.PassStatusCompleted
	ended := models.Pass{ID: "p1", StudentID: "s1", Status: status, RequestedAt: now.Add(-5 * time.Minute), EndedAt: &now, TimeLimitMinutes: 5, Version: 3}

	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE passes SET status = $4, ended_at = $5, version = version + 1 WHERE id = $1 AND status = $2 AND version = $3 RETURNING`)).
		WithArgs("p1", "ACTIVE", int64(2), "COMPLETED", now).
		WillReturnRows(passRows(ended))

	got, err := repo.Transition(context.Background(), "p1", PassGuard{Status: models.PassStatusActive, Version: 2}, PassUpdate{Status: &status, EndedAt: &now})
	require.NoError(t, err)
	assert.Equal(t, models.PassStatusCompleted, got.Status)
	assert.Equal(t, int64(3), got.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPassRepositoryTransitionStaleAndMissing(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()
	repo := NewPassRepository(db, time.Second)

	status := models.PassStatusOvertime
	update := PassUpdate{Status: &status}
	guard := PassGuard{Status: models.PassStatusActive, Version: 4}

	// the row exists but its version moved on, e.g. an extend committed first
	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE passes SET status = $4, version = version + 1 WHERE id = $1 AND status = $2 AND version = $3`)).
		WithArgs("p1", "ACTIVE", int64(4), "OVERTIME").
		WillReturnRows(sqlmock.NewRows(passRowColumns))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS(SELECT 1 FROM passes WHERE id = $1)`)).
		WithArgs("p1").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	_, err := repo.Transition(context.Background(), "p1", guard, update)
	assert.ErrorIs(t, err, ErrStaleState)

	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE passes SET status = $4`)).WillReturnRows(sqlmock.NewRows(passRowColumns))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS`)).
		WithArgs("missing").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	_, err = repo.Transition(context.Background(), "missing", guard, update)
	assert.ErrorIs(t, err, ErrPassNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPassRepositoryListOverdue(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()
	repo := NewPassRepository(db, time.Second)

	now := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	expected := now.Add(-time.Minute)
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE status = $1 AND expected_return_at < $2`)).
		WithArgs("ACTIVE", now).
		WillReturnRows(passRows(models.Pass{ID: "p1", StudentID: "s1", Status: models.PassStatusActive, RequestedAt: now.Add(-6 * time.Minute), ExpectedReturnAt: &expected, TimeLimitMinutes: 5, Version: 2}))

	passes, err := repo.ListOverdue(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, passes, 1)
	assert.Equal(t, expected, *passes[0].ExpectedReturnAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPassRepositoryGetByIDNotFound(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()
	repo := NewPassRepository(db, time.Second)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM passes WHERE id = $1`)).WithArgs("nope").WillReturnRows(sqlmock.NewRows(passRowColumns))

	_, err := repo.GetByID(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrPassNotFound)
}

func TestPassRepositoryOccupancyByLocation(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()
	repo := NewPassRepository(db, time.Second)

	mock.ExpectQuery(regexp.QuoteMeta(`GROUP BY destination_location_id`)).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"destination_location_id", "occupants"}).AddRow("gym", 3).AddRow("restroom", 1))

	got, err := repo.OccupancyByLocation(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"gym": 3, "restroom": 1}, got)
}

func TestLockScopeSortsAndDedupes(t *testing.T) {
	scope := NewLockScope(StudentLockKey("b"), GroupLockKey("g1"), LocationLockKey("gym"), StudentLockKey("b"), "")
	assert.Equal(t, []string{"group:g1", "location:gym", "student:b"}, scope.Keys())
}
