package realtime

import (
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/hallpass-api/internal/models"
)

// Well-known rooms.
const (
	RoomHallMonitor = "hall_monitor"
	RoomEmergency   = "emergency_alerts"
)

// UserRoom is the private room of one user.
func UserRoom(userID string) string { return "user:" + userID }

// RoleRoom is shared by every user holding role.
func RoleRoom(role models.UserRole) string { return "role:" + string(role) }

// Event is a pass notification fanned out to rooms. It is not modified after NewEvent.
type Event struct {
	ID         string               `json:"event_id"`
	Type       models.PassEventType `json:"event_type"`
	OccurredAt time.Time            `json:"occurred_at"`
	Rooms      []string             `json:"rooms,omitempty"`
	Pass       models.Pass          `json:"pass"`
}

// NewEvent snapshots pass into a new event.
func NewEvent(eventType models.PassEventType, pass *models.Pass, occurredAt time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: occurredAt.UTC(),
		Pass:       *pass.Clone(),
	}
}

// RoomsForClaims lists the rooms a connected user joins.
func RoomsForClaims(claims *models.JWTClaims) []string {
	if claims == nil {
		return nil
	}
	rooms := []string{UserRoom(claims.UserID), RoleRoom(claims.Role)}
	if claims.IsStaff() {
		rooms = append(rooms, RoomHallMonitor, RoomEmergency)
	}
	return rooms
}
