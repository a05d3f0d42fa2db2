package models

import "time"

// PassStatus is the lifecycle state of a hall pass.
type PassStatus string

const (
	PassStatusPending   PassStatus = "PENDING"
	PassStatusActive    PassStatus = "ACTIVE"
	PassStatusOvertime  PassStatus = "OVERTIME"
	PassStatusCompleted PassStatus = "COMPLETED"
	PassStatusDenied    PassStatus = "DENIED"
)

// PassAction names an operation that moves a pass between statuses.
type PassAction string

const (
	PassActionApprove  PassAction = "approve"
	PassActionDeny     PassAction = "deny"
	PassActionEnd      PassAction = "end"
	PassActionOvertime PassAction = "overtime"
)

var passTransitions = map[PassStatus]map[PassAction]PassStatus{
	PassStatusPending: {
		PassActionApprove: PassStatusActive,
		PassActionDeny:    PassStatusDenied,
	},
	PassStatusActive: {
		PassActionEnd:      PassStatusCompleted,
		PassActionOvertime: PassStatusOvertime,
	},
	PassStatusOvertime: {
		PassActionEnd: PassStatusCompleted,
	},
}

var (
	// OpenPassStatuses count against the one-open-pass-per-student rule.
	OpenPassStatuses = []PassStatus{PassStatusPending, PassStatusActive, PassStatusOvertime}
	// OccupyingPassStatuses occupy a slot at the destination.
	OccupyingPassStatuses = []PassStatus{PassStatusActive, PassStatusOvertime}
)

// Next returns the status reached by applying action, or false when the pair is not allowed.
func (s PassStatus) Next(action PassAction) (PassStatus, bool) {
	next, ok := passTransitions[s][action]
	return next, ok
}

// Valid reports whether s is a known status.
func (s PassStatus) Valid() bool {
	switch s {
	case PassStatusPending, PassStatusActive, PassStatusOvertime, PassStatusCompleted, PassStatusDenied:
		return true
	}
	return false
}

// Open reports whether the pass still blocks a new request for the student.
func (s PassStatus) Open() bool {
	return s == PassStatusPending || s.Occupying()
}

// Occupying reports whether the student is physically out on the pass.
func (s PassStatus) Occupying() bool {
	return s == PassStatusActive || s == PassStatusOvertime
}

// Terminal reports whether the pass can no longer change.
func (s PassStatus) Terminal() bool {
	return s == PassStatusCompleted || s == PassStatusDenied
}

// Extendable reports whether the time limit may still be extended.
func (s PassStatus) Extendable() bool {
	return s.Occupying()
}

// Pass is a single student's permission to be at a destination.
type Pass struct {
	ID                    string     `db:"id" json:"id"`
	StudentID             string     `db:"student_id" json:"student_id"`
	OriginLocationID      string     `db:"origin_location_id" json:"origin_location_id"`
	DestinationLocationID string     `db:"destination_location_id" json:"destination_location_id"`
	Status                PassStatus `db:"status" json:"status"`
	RequestedAt           time.Time  `db:"requested_at" json:"requested_at"`
	ApprovedAt            *time.Time `db:"approved_at" json:"approved_at,omitempty"`
	ExpectedReturnAt      *time.Time `db:"expected_return_at" json:"expected_return_at,omitempty"`
	EndedAt               *time.Time `db:"ended_at" json:"ended_at,omitempty"`
	OvertimeAt            *time.Time `db:"overtime_at" json:"overtime_at,omitempty"`
	TimeLimitMinutes      int        `db:"time_limit_minutes" json:"time_limit_minutes"`
	ApproverID            *string    `db:"approver_id" json:"approver_id,omitempty"`
	RequestedBy           string     `db:"requested_by" json:"requested_by"`
	DenialReason          *string    `db:"denial_reason" json:"denial_reason,omitempty"`
	Version               int64      `db:"version" json:"version"`
}

// Clone returns a deep copy so callers can never mutate stored state.
func (p *Pass) Clone() *Pass {
	if p == nil {
		return nil
	}
	out := *p
	out.ApprovedAt = cloneTime(p.ApprovedAt)
	out.ExpectedReturnAt = cloneTime(p.ExpectedReturnAt)
	out.EndedAt = cloneTime(p.EndedAt)
	out.OvertimeAt = cloneTime(p.OvertimeAt)
	out.ApproverID = cloneString(p.ApproverID)
	out.DenialReason = cloneString(p.DenialReason)
	return &out
}

// Overdue reports whether an ACTIVE pass is past its expected return at now.
func (p *Pass) Overdue(now time.Time) bool {
	return p != nil && p.Status == PassStatusActive && p.ExpectedReturnAt != nil && p.ExpectedReturnAt.Before(now)
}

// RemainingSeconds is the countdown shown on dashboards; negative once overdue.
func (p *Pass) RemainingSeconds(now time.Time) int64 {
	if p == nil || p.ExpectedReturnAt == nil {
		return 0
	}
	return int64(p.ExpectedReturnAt.Sub(now).Seconds())
}

// Denial reason codes stored on passes rejected during approval.
const (
	DenialReasonCapacityFull      = "CAPACITY_FULL"
	DenialReasonEncounterConflict = "ENCOUNTER_CONFLICT"
)

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
