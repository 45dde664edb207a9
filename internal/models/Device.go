package models

import (
	"time"

	"gorm.io/gorm"

	"tag_tracker/internal/geo"
)

// Device is a tracking tag linked to a user account.
type Device struct {
	ID        string `json:"id" gorm:"primaryKey;size:36"`
	OwnerID   uint   `json:"owner_id" gorm:"index"`
	Name      string `json:"name"`
	TagSerial string `json:"tag_serial" gorm:"uniqueIndex;size:64"`

	// Telemetry, written only by ingestion.
	Position            *geo.Point `json:"position" gorm:"serializer:json"`
	LastCommunicationAt *time.Time `json:"last_communication_at"`
	Address             string     `json:"address,omitempty"`

	// Alert configuration, written only through the alert gateway.
	FenceAlert    FenceAlert    `json:"fence_alert" gorm:"embedded;embeddedPrefix:fence_"`
	MovementAlert MovementAlert `json:"movement_alert" gorm:"embedded;embeddedPrefix:movement_"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// FenceAlert is the geofence rule of a device.
type FenceAlert struct {
	Enabled      bool       `json:"enabled"`
	Center       *geo.Point `json:"center" gorm:"serializer:json"`
	RadiusMeters float64    `json:"radius_meters"`
	ChangedAt    *time.Time `json:"changed_at,omitempty"`
}

// MovementAlert is the quiet-hours rule of a device. Window bounds are
// "HH:mm" wall-clock strings.
type MovementAlert struct {
	Enabled     bool       `json:"enabled"`
	Anchor      *geo.Point `json:"anchor" gorm:"serializer:json"`
	WindowStart *string    `json:"window_start"`
	WindowEnd   *string    `json:"window_end"`
	ChangedAt   *time.Time `json:"changed_at,omitempty"`
}

// Removed reports whether the device has been unlinked.
func (d Device) Removed() bool {
	return d.DeletedAt.Valid
}

// Clone returns a deep copy so cached records never share pointers with
// their source.
func (d Device) Clone() Device {
	out := d
	out.Position = clonePoint(d.Position)
	out.LastCommunicationAt = cloneTime(d.LastCommunicationAt)
	out.FenceAlert = d.FenceAlert.Clone()
	out.MovementAlert = d.MovementAlert.Clone()
	return out
}

func (f FenceAlert) Clone() FenceAlert {
	out := f
	out.Center = clonePoint(f.Center)
	out.ChangedAt = cloneTime(f.ChangedAt)
	return out
}

func (m MovementAlert) Clone() MovementAlert {
	out := m
	out.Anchor = clonePoint(m.Anchor)
	out.WindowStart = cloneString(m.WindowStart)
	out.WindowEnd = cloneString(m.WindowEnd)
	out.ChangedAt = cloneTime(m.ChangedAt)
	return out
}

func clonePoint(p *geo.Point) *geo.Point {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

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
