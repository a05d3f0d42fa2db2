package dto

import "github.com/noah-isme/hallpass-api/internal/models"

// RequestPassRequest is the payload for asking to leave a room. Staff may request
// on behalf of a student by setting StudentID; students always request for themselves.
type RequestPassRequest struct {
	StudentID        string `json:"student_id" validate:"omitempty,max=64"`
	Origin           string `json:"origin" validate:"required,max=64"`
	Destination      string `json:"destination" validate:"required,max=64"`
	TimeLimitMinutes int    `json:"time_limit_minutes" validate:"omitempty,min=1"`
}

// DenyPassRequest carries the optional free-text reason for a denial.
type DenyPassRequest struct {
	Reason string `json:"reason" validate:"max=255"`
}

// ExtendPassRequest adds minutes to a pass's time limit.
type ExtendPassRequest struct {
	AdditionalMinutes int `form:"additional_minutes" validate:"required,min=1,max=1440"`
}

// HistoryQuery filters the pass history listing.
type HistoryQuery struct {
	StudentID string `form:"studentId" validate:"omitempty,max=64"`
	Limit     int    `form:"limit" validate:"omitempty,min=1,max=200"`
}

// HallMonitorEntry is one outstanding pass enriched for the hall monitor board.
type HallMonitorEntry struct {
	models.Pass
	StudentName      string `json:"student_name,omitempty"`
	OriginName       string `json:"origin_name,omitempty"`
	DestinationName  string `json:"destination_name,omitempty"`
	RemainingSeconds int64  `json:"remaining_seconds"`
}

// LocationCapacityStatus reports live occupancy for a location.
type LocationCapacityStatus struct {
	LocationID       string `json:"location_id"`
	Name             string `json:"name"`
	MaxCapacity      *int   `json:"max_capacity,omitempty"`
	Occupants        int    `json:"occupants"`
	Remaining        *int   `json:"remaining,omitempty"`
	Unlimited        bool   `json:"unlimited"`
	RequiresApproval bool   `json:"requires_approval"`
	NoFlyActive      bool   `json:"no_fly_active"`
}
