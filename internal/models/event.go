package models

// PassEventType names a realtime notification about a pass.
type PassEventType string

const (
	PassEventCreated   PassEventType = "pass_created"
	PassEventApproved  PassEventType = "pass_approved"
	PassEventRejected  PassEventType = "pass_rejected"
	PassEventCompleted PassEventType = "pass_completed"
	PassEventOvertime  PassEventType = "pass_overtime"
	PassEventExtended  PassEventType = "pass_extended"
)
