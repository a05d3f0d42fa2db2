package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/hallpass-api/internal/models"
)

const passColumns = `id, student_id, origin_location_id, destination_location_id, status, requested_at,
	approved_at, expected_return_at, ended_at, overtime_at, time_limit_minutes, approver_id,
	requested_by, denial_reason, version`

const openPassIndex = "passes_one_open_per_student"

// PassRepository stores passes in PostgreSQL. Scoped decisions serialize on
// transaction-level advisory locks, one per scope key.
type PassRepository struct {
	passQueries
	db          *sqlx.DB
	lockTimeout time.Duration
}

// NewPassRepository constructs the repository. lockTimeout bounds each advisory lock wait.
func NewPassRepository(db *sqlx.DB, lockTimeout time.Duration) *PassRepository {
	if lockTimeout <= 0 {
		lockTimeout = 3 * time.Second
	}
	return &PassRepository{passQueries: passQueries{q: db}, db: db, lockTimeout: lockTimeout}
}

// RunInScope runs fn in one transaction after taking every scope lock in order.
// The locks are released by commit or rollback.
func (r *PassRepository) RunInScope(ctx context.Context, scope LockScope, fn func(ctx context.Context, tx PassTx) error) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin pass scope: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	timeout := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())
	if _, err = tx.ExecContext(ctx, timeout); err != nil {
		return classifyPgError(fmt.Errorf("set lock timeout: %w", err))
	}
	for _, key := range scope.Keys() {
		if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
			return classifyPgError(fmt.Errorf("lock %s: %w", key, err))
		}
	}

	if err = fn(ctx, &pgPassTx{passQueries{q: tx}}); err != nil {
		return classifyPgError(err)
	}

	if err = tx.Commit(); err != nil {
		return classifyPgError(fmt.Errorf("commit pass scope: %w", err))
	}
	return nil
}

// ListByStudent returns the newest passes for a student first.
func (r *PassRepository) ListByStudent(ctx context.Context, studentID string, limit int) ([]models.Pass, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + passColumns + ` FROM passes WHERE student_id = $1 ORDER BY requested_at DESC LIMIT $2`
	var passes []models.Pass
	if err := sqlx.SelectContext(ctx, r.q, &passes, query, studentID, limit); err != nil {
		return nil, fmt.Errorf("list passes by student: %w", err)
	}
	return passes, nil
}

// ListByLocation returns passes heading to locationID, optionally filtered by status.
func (r *PassRepository) ListByLocation(ctx context.Context, locationID string, statuses ...models.PassStatus) ([]models.Pass, error) {
	query := `SELECT ` + passColumns + ` FROM passes WHERE destination_location_id = $1`
	args := []interface{}{locationID}
	if len(statuses) > 0 {
		query += ` AND status = ANY($2)`
		args = append(args, statusArray(statuses))
	}
	query += ` ORDER BY requested_at`

	var passes []models.Pass
	if err := sqlx.SelectContext(ctx, r.q, &passes, query, args...); err != nil {
		return nil, fmt.Errorf("list passes by location: %w", err)
	}
	return passes, nil
}

// ListByStatus returns every pass in one of statuses, oldest request first.
func (r *PassRepository) ListByStatus(ctx context.Context, statuses ...models.PassStatus) ([]models.Pass, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	query := `SELECT ` + passColumns + ` FROM passes WHERE status = ANY($1) ORDER BY requested_at`
	var passes []models.Pass
	if err := sqlx.SelectContext(ctx, r.q, &passes, query, statusArray(statuses)); err != nil {
		return nil, fmt.Errorf("list passes by status: %w", err)
	}
	return passes, nil
}

// ListOverdue returns ACTIVE passes whose expected return is before now.
func (r *PassRepository) ListOverdue(ctx context.Context, now time.Time) ([]models.Pass, error) {
	query := `SELECT ` + passColumns + ` FROM passes
WHERE status = $1 AND expected_return_at < $2
ORDER BY expected_return_at`
	var passes []models.Pass
	if err := sqlx.SelectContext(ctx, r.q, &passes, query, models.PassStatusActive, now); err != nil {
		return nil, fmt.Errorf("list overdue passes: %w", err)
	}
	return passes, nil
}

// OccupancyByLocation counts ACTIVE and OVERTIME passes per destination.
func (r *PassRepository) OccupancyByLocation(ctx context.Context) (map[string]int, error) {
	query := `SELECT destination_location_id, COUNT(*) AS occupants FROM passes
WHERE status = ANY($1)
GROUP BY destination_location_id`
	var rows []struct {
		LocationID string `db:"destination_location_id"`
		Occupants  int    `db:"occupants"`
	}
	if err := sqlx.SelectContext(ctx, r.q, &rows, query, statusArray(models.OccupyingPassStatuses)); err != nil {
		return nil, fmt.Errorf("count occupancy: %w", err)
	}
	out := make(map[string]int, len(rows))
	for _, row := range rows {
		out[row.LocationID] = row.Occupants
	}
	return out, nil
}

type pgPassTx struct {
	passQueries
}

// CountRequestedSince counts the student's non-denied passes requested at or after since.
func (t *pgPassTx) CountRequestedSince(ctx context.Context, studentID string, since time.Time) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM passes WHERE student_id = $1 AND requested_at >= $2 AND status <> $3`
	if err := sqlx.GetContext(ctx, t.q, &count, query, studentID, since, models.PassStatusDenied); err != nil {
		return 0, fmt.Errorf("count requested passes: %w", err)
	}
	return count, nil
}

// Insert stores a new pass.
func (t *pgPassTx) Insert(ctx context.Context, pass *models.Pass) error {
	query := `INSERT INTO passes (` + passColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	_, err := t.q.ExecContext(ctx, query,
		pass.ID, pass.StudentID, pass.OriginLocationID, pass.DestinationLocationID, pass.Status, pass.RequestedAt,
		pass.ApprovedAt, pass.ExpectedReturnAt, pass.EndedAt, pass.OvertimeAt, pass.TimeLimitMinutes, pass.ApproverID,
		pass.RequestedBy, pass.DenialReason, pass.Version,
	)
	if err != nil {
		return classifyPgError(fmt.Errorf("insert pass: %w", err))
	}
	return nil
}

// passQueries holds the statements shared by the pool and a scope transaction.
type passQueries struct {
	q sqlx.ExtContext
}

// GetByID loads a pass.
func (p passQueries) GetByID(ctx context.Context, id string) (*models.Pass, error) {
	var pass models.Pass
	query := `SELECT ` + passColumns + ` FROM passes WHERE id = $1`
	if err := sqlx.GetContext(ctx, p.q, &pass, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPassNotFound
		}
		return nil, fmt.Errorf("get pass: %w", err)
	}
	return &pass, nil
}

// OpenPassForStudent returns the student's PENDING, ACTIVE or OVERTIME pass, or nil.
func (p passQueries) OpenPassForStudent(ctx context.Context, studentID string) (*models.Pass, error) {
	var pass models.Pass
	query := `SELECT ` + passColumns + ` FROM passes WHERE student_id = $1 AND status = ANY($2) LIMIT 1`
	if err := sqlx.GetContext(ctx, p.q, &pass, query, studentID, statusArray(models.OpenPassStatuses)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get open pass: %w", err)
	}
	return &pass, nil
}

// CountOccupants counts ACTIVE and OVERTIME passes at the destination.
func (p passQueries) CountOccupants(ctx context.Context, locationID string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM passes WHERE destination_location_id = $1 AND status = ANY($2)`
	if err := sqlx.GetContext(ctx, p.q, &count, query, locationID, statusArray(models.OccupyingPassStatuses)); err != nil {
		return 0, fmt.Errorf("count occupants: %w", err)
	}
	return count, nil
}

// ActiveStudents returns which of studentIDs are currently out on a pass.
func (p passQueries) ActiveStudents(ctx context.Context, studentIDs []string) ([]string, error) {
	if len(studentIDs) == 0 {
		return nil, nil
	}
	var out []string
	query := `SELECT DISTINCT student_id FROM passes WHERE student_id = ANY($1) AND status = ANY($2) ORDER BY student_id`
	if err := sqlx.SelectContext(ctx, p.q, &out, query, pq.Array(studentIDs), statusArray(models.OccupyingPassStatuses)); err != nil {
		return nil, fmt.Errorf("list active students: %w", err)
	}
	return out, nil
}

// Transition applies update only while the pass still matches guard.
func (p passQueries) Transition(ctx context.Context, id string, guard PassGuard, update PassUpdate) (*models.Pass, error) {
	sets, args := update.assignments(4)
	sets = append(sets, "version = version + 1")
	query := fmt.Sprintf(`UPDATE passes SET %s WHERE id = $1 AND status = $2 AND version = $3 RETURNING %s`, strings.Join(sets, ", "), passColumns)

	var pass models.Pass
	err := sqlx.GetContext(ctx, p.q, &pass, query, append([]interface{}{id, guard.Status, guard.Version}, args...)...)
	if err == nil {
		return &pass, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, classifyPgError(fmt.Errorf("transition pass: %w", err))
	}

	var exists bool
	if err := sqlx.GetContext(ctx, p.q, &exists, `SELECT EXISTS(SELECT 1 FROM passes WHERE id = $1)`, id); err != nil {
		return nil, fmt.Errorf("check pass exists: %w", err)
	}
	if !exists {
		return nil, ErrPassNotFound
	}
	return nil, ErrStaleState
}

// assignments renders the SET clauses in a fixed column order starting at $start.
func (u PassUpdate) assignments(start int) ([]string, []interface{}) {
	var (
		sets []string
		args []interface{}
	)
	add := func(column string, value interface{}) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, start+len(args)))
		args = append(args, value)
	}
	if u.Status != nil {
		add("status", *u.Status)
	}
	if u.ApprovedAt != nil {
		add("approved_at", *u.ApprovedAt)
	}
	if u.ExpectedReturnAt != nil {
		add("expected_return_at", *u.ExpectedReturnAt)
	}
	if u.EndedAt != nil {
		add("ended_at", *u.EndedAt)
	}
	if u.OvertimeAt != nil {
		add("overtime_at", *u.OvertimeAt)
	}
	if u.TimeLimitMinutes != nil {
		add("time_limit_minutes", *u.TimeLimitMinutes)
	}
	if u.ApproverID != nil {
		add("approver_id", *u.ApproverID)
	}
	if u.DenialReason != nil {
		add("denial_reason", *u.DenialReason)
	}
	return sets, args
}

func statusArray(statuses []models.PassStatus) interface{} {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return pq.Array(out)
}

// classifyPgError maps lock and constraint failures onto the store sentinels.
func classifyPgError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case "55P03", "40001", "40P01":
		return fmt.Errorf("%w: %v", ErrLockTimeout, err)
	case "23505":
		if pqErr.Constraint == openPassIndex {
			return fmt.Errorf("%w: %v", ErrOpenPassExists, err)
		}
	}
	return err
}
