package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/hallpass-api/internal/models"
)

// ConstraintRepository reads the admission rules maintained by school admins.
type ConstraintRepository struct {
	db *sqlx.DB
}

// NewConstraintRepository constructs the repository.
func NewConstraintRepository(db *sqlx.DB) *ConstraintRepository {
	return &ConstraintRepository{db: db}
}

type groupMemberRow struct {
	GroupID   string         `db:"group_id"`
	GroupName string         `db:"group_name"`
	StudentID sql.NullString `db:"student_id"`
}

type noFlyRow struct {
	ID         string         `db:"id"`
	LocationID sql.NullString `db:"location_id"`
	StartTime  string         `db:"start_time"`
	EndTime    string         `db:"end_time"`
	DaysOfWeek pq.Int64Array  `db:"days_of_week"`
}

// LoadSnapshot reads locations, encounter groups and no-fly windows into a new
// snapshot. The version is a fingerprint of the content, so reloading unchanged
// rules yields the same version.
func (r *ConstraintRepository) LoadSnapshot(ctx context.Context) (*models.ConstraintSnapshot, error) {
	var locations []models.Location
	if err := r.db.SelectContext(ctx, &locations, `
SELECT id, name, max_capacity, requires_approval, default_time_limit_minutes
FROM locations
ORDER BY id`); err != nil {
		return nil, fmt.Errorf("load locations: %w", err)
	}

	var members []groupMemberRow
	if err := r.db.SelectContext(ctx, &members, `
SELECT g.id AS group_id, g.name AS group_name, m.student_id
FROM encounter_groups g
LEFT JOIN encounter_group_members m ON m.group_id = g.id
ORDER BY g.id, m.student_id`); err != nil {
		return nil, fmt.Errorf("load encounter groups: %w", err)
	}

	var windows []noFlyRow
	if err := r.db.SelectContext(ctx, &windows, `
SELECT id, location_id, to_char(start_time, 'HH24:MI') AS start_time, to_char(end_time, 'HH24:MI') AS end_time, days_of_week
FROM no_fly_windows
ORDER BY id`); err != nil {
		return nil, fmt.Errorf("load no-fly windows: %w", err)
	}

	snap := &models.ConstraintSnapshot{
		LoadedAt:  time.Now().UTC(),
		Locations: make(map[string]models.Location, len(locations)),
		Groups:    groupRows(members),
		Windows:   make([]models.NoFlyWindow, 0, len(windows)),
	}
	for _, loc := range locations {
		snap.Locations[loc.ID] = loc
	}
	for _, row := range windows {
		window := models.NoFlyWindow{ID: row.ID, StartTime: row.StartTime, EndTime: row.EndTime}
		if row.LocationID.Valid {
			id := row.LocationID.String
			window.LocationID = &id
		}
		for _, d := range row.DaysOfWeek {
			window.DaysOfWeek = append(window.DaysOfWeek, int(d))
		}
		snap.Windows = append(snap.Windows, window)
	}

	version, err := Fingerprint(snap)
	if err != nil {
		return nil, err
	}
	snap.Version = version
	snap.Reindex()
	return snap, nil
}

func groupRows(rows []groupMemberRow) []models.EncounterGroup {
	groups := make([]models.EncounterGroup, 0)
	index := make(map[string]int)
	for _, row := range rows {
		i, ok := index[row.GroupID]
		if !ok {
			i = len(groups)
			index[row.GroupID] = i
			groups = append(groups, models.EncounterGroup{ID: row.GroupID, Name: row.GroupName, StudentIDs: []string{}})
		}
		if row.StudentID.Valid {
			groups[i].StudentIDs = append(groups[i].StudentIDs, row.StudentID.String)
		}
	}
	return groups
}

// Fingerprint hashes the rule content of a snapshot, ignoring load time and version.
func Fingerprint(snap *models.ConstraintSnapshot) (string, error) {
	payload, err := json.Marshal(struct {
		Locations map[string]models.Location `json:"locations"`
		Groups    []models.EncounterGroup    `json:"groups"`
		Windows   []models.NoFlyWindow       `json:"windows"`
	}{snap.Locations, snap.Groups, snap.Windows})
	if err != nil {
		return "", fmt.Errorf("fingerprint constraints: %w", err)
	}
	h := fnv.New64a()
	_, _ = h.Write(payload)
	return fmt.Sprintf("%016x", h.Sum64()), nil
}
