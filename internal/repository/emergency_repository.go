package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/hallpass-api/internal/models"
)

// ErrAlertNotFound means no alert exists with the id.
var ErrAlertNotFound = errors.New("emergency alert not found")

// EmergencyRepository reads alerts and check-ins written by the emergency module.
type EmergencyRepository struct {
	db *sqlx.DB
}

// NewEmergencyRepository constructs the repository.
func NewEmergencyRepository(db *sqlx.DB) *EmergencyRepository {
	return &EmergencyRepository{db: db}
}

// ActiveAlert returns the open alert, or nil when there is none.
func (r *EmergencyRepository) ActiveAlert(ctx context.Context) (*models.EmergencyAlert, error) {
	var alert models.EmergencyAlert
	query := `SELECT id, reason, started_at, ended_at FROM emergency_alerts WHERE ended_at IS NULL ORDER BY started_at DESC LIMIT 1`
	if err := r.db.GetContext(ctx, &alert, query); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get active alert: %w", err)
	}
	return &alert, nil
}

// GetAlert loads an alert regardless of state.
func (r *EmergencyRepository) GetAlert(ctx context.Context, id string) (*models.EmergencyAlert, error) {
	var alert models.EmergencyAlert
	query := `SELECT id, reason, started_at, ended_at FROM emergency_alerts WHERE id = $1`
	if err := r.db.GetContext(ctx, &alert, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAlertNotFound
		}
		return nil, fmt.Errorf("get alert: %w", err)
	}
	return &alert, nil
}

// CheckIns lists every check-in recorded for the alert.
func (r *EmergencyRepository) CheckIns(ctx context.Context, alertID string) ([]models.EmergencyCheckIn, error) {
	var rows []models.EmergencyCheckIn
	query := `SELECT alert_id, student_id, status, checked_in_at FROM emergency_check_ins WHERE alert_id = $1 ORDER BY student_id`
	if err := r.db.SelectContext(ctx, &rows, query, alertID); err != nil {
		return nil, fmt.Errorf("list check-ins: %w", err)
	}
	return rows, nil
}
