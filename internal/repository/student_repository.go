package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/hallpass-api/internal/models"
)

// StudentRepository reads the student directory.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs the repository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// NamesByIDs maps student ids to display names. Unknown ids are omitted.
func (r *StudentRepository) NamesByIDs(ctx context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []models.StudentSummary
	if err := r.db.SelectContext(ctx, &rows, `SELECT id, full_name FROM students WHERE id = ANY($1)`, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("list student names: %w", err)
	}
	for _, row := range rows {
		out[row.ID] = row.FullName
	}
	return out, nil
}

// ListActiveStudentIDs returns the enrolled roster used for roll-call.
func (r *StudentRepository) ListActiveStudentIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, `SELECT id FROM students WHERE active = TRUE ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list active students: %w", err)
	}
	return ids, nil
}

// GuardianIDs returns the user ids of the student's linked guardians.
func (r *StudentRepository) GuardianIDs(ctx context.Context, studentID string) ([]string, error) {
	var ids []string
	query := `SELECT guardian_user_id FROM student_guardians WHERE student_id = $1 ORDER BY guardian_user_id`
	if err := r.db.SelectContext(ctx, &ids, query, studentID); err != nil {
		return nil, fmt.Errorf("list guardians: %w", err)
	}
	return ids, nil
}
