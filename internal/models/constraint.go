package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Location is a room or area a pass can start from or go to.
type Location struct {
	ID                      string `db:"id" json:"id"`
	Name                    string `db:"name" json:"name"`
	MaxCapacity             *int   `db:"max_capacity" json:"max_capacity,omitempty"`
	RequiresApproval        bool   `db:"requires_approval" json:"requires_approval"`
	DefaultTimeLimitMinutes int    `db:"default_time_limit_minutes" json:"default_time_limit_minutes"`
}

// Unlimited reports whether the location has no capacity ceiling.
func (l Location) Unlimited() bool {
	return l.MaxCapacity == nil
}

// EncounterGroup lists students who must never be out at the same time.
type EncounterGroup struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	StudentIDs []string `json:"student_ids"`
}

// NoFlyWindow blocks passes during a daily time range. Times are wall clock
// "HH:MM" in the school time zone, start inclusive and end exclusive. A window
// whose end is before its start runs past midnight.
type NoFlyWindow struct {
	ID         string  `json:"id"`
	LocationID *string `json:"location_id,omitempty"`
	StartTime  string  `json:"start_time"`
	EndTime    string  `json:"end_time"`
	DaysOfWeek []int   `json:"days_of_week,omitempty"`
}

// AppliesTo reports whether the window covers locationID. Global windows cover every location.
func (w NoFlyWindow) AppliesTo(locationID string) bool {
	return w.LocationID == nil || *w.LocationID == locationID
}

// ActiveAt reports whether local falls inside the window. local must already be
// expressed in the school time zone.
func (w NoFlyWindow) ActiveAt(local time.Time) bool {
	start, err := ParseClock(w.StartTime)
	if err != nil {
		return false
	}
	end, err := ParseClock(w.EndTime)
	if err != nil || start == end {
		return false
	}

	minute := local.Hour()*60 + local.Minute()
	day := local.Weekday()

	if start < end {
		return minute >= start && minute < end && w.onDay(day)
	}
	if minute >= start {
		return w.onDay(day)
	}
	if minute < end {
		// the early-morning tail belongs to the previous day's window
		return w.onDay((day + 6) % 7)
	}
	return false
}

func (w NoFlyWindow) onDay(day time.Weekday) bool {
	if len(w.DaysOfWeek) == 0 {
		return true
	}
	for _, d := range w.DaysOfWeek {
		if time.Weekday(d) == day {
			return true
		}
	}
	return false
}

// ParseClock converts "HH:MM" or "HH:MM:SS" into minutes after midnight.
func ParseClock(value string) (int, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid clock time %q", value)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid hour in %q", value)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid minute in %q", value)
	}
	return hour*60 + minute, nil
}

// ConstraintSnapshot is an immutable view of the admission rules at one version.
// Callers must not mutate a snapshot after it has been published.
type ConstraintSnapshot struct {
	Version   string              `json:"version"`
	LoadedAt  time.Time           `json:"loaded_at"`
	Locations map[string]Location `json:"locations"`
	Groups    []EncounterGroup    `json:"groups"`
	Windows   []NoFlyWindow       `json:"windows"`

	groupsByStudent map[string][]string
}

// Reindex rebuilds the student to group lookup. It must run before the snapshot is shared.
func (s *ConstraintSnapshot) Reindex() {
	s.groupsByStudent = make(map[string][]string)
	for _, group := range s.Groups {
		for _, studentID := range group.StudentIDs {
			s.groupsByStudent[studentID] = append(s.groupsByStudent[studentID], group.ID)
		}
	}
}

// Location returns the location by id.
func (s *ConstraintSnapshot) Location(id string) (Location, bool) {
	if s == nil {
		return Location{}, false
	}
	loc, ok := s.Locations[id]
	return loc, ok
}

// GroupsFor returns the ids of every encounter group containing studentID.
func (s *ConstraintSnapshot) GroupsFor(studentID string) []string {
	if s == nil {
		return nil
	}
	return s.groupsByStudent[studentID]
}

// GroupMembers returns the other members of every group containing studentID.
func (s *ConstraintSnapshot) GroupMembers(studentID string) []string {
	if s == nil {
		return nil
	}
	groupIDs := make(map[string]struct{})
	for _, id := range s.groupsByStudent[studentID] {
		groupIDs[id] = struct{}{}
	}
	seen := make(map[string]struct{})
	var members []string
	for _, group := range s.Groups {
		if _, ok := groupIDs[group.ID]; !ok {
			continue
		}
		for _, member := range group.StudentIDs {
			if member == studentID {
				continue
			}
			if _, dup := seen[member]; dup {
				continue
			}
			seen[member] = struct{}{}
			members = append(members, member)
		}
	}
	return members
}
