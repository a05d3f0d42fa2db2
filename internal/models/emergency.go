package models

import "time"

// EmergencyAlert is a school-wide emergency. Only one alert is active at a time.
type EmergencyAlert struct {
	ID        string     `db:"id" json:"id"`
	Reason    string     `db:"reason" json:"reason"`
	StartedAt time.Time  `db:"started_at" json:"started_at"`
	EndedAt   *time.Time `db:"ended_at" json:"ended_at,omitempty"`
}

// Active reports whether the alert has not been closed.
func (a *EmergencyAlert) Active() bool {
	return a != nil && a.EndedAt == nil
}

// CheckInStatus is the self-reported safety state of a student.
type CheckInStatus string

const (
	CheckInSafe   CheckInStatus = "SAFE"
	CheckInUnsafe CheckInStatus = "UNSAFE"
)

// EmergencyCheckIn records that a student reported in during an alert.
type EmergencyCheckIn struct {
	AlertID     string        `db:"alert_id" json:"alert_id"`
	StudentID   string        `db:"student_id" json:"student_id"`
	Status      CheckInStatus `db:"status" json:"status"`
	CheckedInAt time.Time     `db:"checked_in_at" json:"checked_in_at"`
}

// RollCallStatus classifies a student during accountability.
type RollCallStatus string

const (
	RollCallCheckedIn       RollCallStatus = "checked_in"
	RollCallOutstandingPass RollCallStatus = "outstanding_pass"
	RollCallUnaccounted     RollCallStatus = "unaccounted"
)

// RollCallEntry is one student's line in a roll-call.
type RollCallEntry struct {
	StudentID     string         `json:"student_id"`
	StudentName   string         `json:"student_name,omitempty"`
	Status        RollCallStatus `json:"status"`
	CheckInStatus *CheckInStatus `json:"check_in_status,omitempty"`
	CheckedInAt   *time.Time     `json:"checked_in_at,omitempty"`
	PassID        *string        `json:"pass_id,omitempty"`
	LocationID    *string        `json:"location_id,omitempty"`
	LocationName  string         `json:"location_name,omitempty"`
}

// RollCall is the accountability report for one alert.
type RollCall struct {
	AlertID     string                    `json:"alert_id"`
	GeneratedAt time.Time                 `json:"generated_at"`
	Statuses    map[string]RollCallStatus `json:"statuses"`
	Entries     []RollCallEntry           `json:"entries"`
	Counts      map[RollCallStatus]int    `json:"counts"`
}
