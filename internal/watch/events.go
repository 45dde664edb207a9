package watch

import (
	"time"

	"tag_tracker/internal/alerts"
	"tag_tracker/internal/models"
)

type EventType string

const (
	EventSnapshot EventType = "snapshot"
	EventState    EventType = "state"
	EventRemoved  EventType = "removed"
	EventAlert    EventType = "alert"
	EventRollback EventType = "rollback"
	EventClosed   EventType = "closed"
)

// DeviceView is a device as the session currently sees it, with the
// derived alert state.
type DeviceView struct {
	Device            models.Device       `json:"device"`
	FenceState        alerts.FenceState   `json:"fence_state"`
	MovementViolation bool                `json:"movement_violation"`
	Pending           []models.AlertField `json:"pending,omitempty"`
}

// Event is pushed to the consumer of a session.
type Event struct {
	Type     EventType     `json:"type"`
	At       time.Time     `json:"at"`
	DeviceID string        `json:"device_id,omitempty"`
	View     *DeviceView   `json:"view,omitempty"`
	Views    []DeviceView  `json:"views,omitempty"`
	Alert    *alerts.Alert `json:"alert,omitempty"`
	Error    string        `json:"error,omitempty"`
}
