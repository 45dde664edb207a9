package models

import "time"

// AlertField names one independently reconciled group of alert columns.
type AlertField string

const (
	FieldFence    AlertField = "fence_alert"
	FieldMovement AlertField = "movement_alert"
)

// AlertPatch is a change to a device's alert configuration. A nil member
// leaves that rule untouched. Enabling replaces the whole rule; disabling
// only clears Enabled and stamps ChangedAt, so the last center, anchor and
// window stay visible.
type AlertPatch struct {
	Fence    *FenceAlert    `json:"fence_alert,omitempty"`
	Movement *MovementAlert `json:"movement_alert,omitempty"`
}

// Fields lists the alert fields the patch touches.
func (p AlertPatch) Fields() []AlertField {
	var fields []AlertField
	if p.Fence != nil {
		fields = append(fields, FieldFence)
	}
	if p.Movement != nil {
		fields = append(fields, FieldMovement)
	}
	return fields
}

// Empty reports whether the patch changes nothing.
func (p AlertPatch) Empty() bool {
	return p.Fence == nil && p.Movement == nil
}

// ChangedAt returns the newest stamp carried by the patch.
func (p AlertPatch) ChangedAt() time.Time {
	var at time.Time
	if p.Fence != nil && p.Fence.ChangedAt != nil && p.Fence.ChangedAt.After(at) {
		at = *p.Fence.ChangedAt
	}
	if p.Movement != nil && p.Movement.ChangedAt != nil && p.Movement.ChangedAt.After(at) {
		at = *p.Movement.ChangedAt
	}
	return at
}

// ApplyTo merges the patch into d.
func (p AlertPatch) ApplyTo(d *Device) {
	if p.Fence != nil {
		if p.Fence.Enabled {
			d.FenceAlert = p.Fence.Clone()
		} else {
			d.FenceAlert.Enabled = false
			d.FenceAlert.ChangedAt = cloneTime(p.Fence.ChangedAt)
		}
	}
	if p.Movement != nil {
		if p.Movement.Enabled {
			d.MovementAlert = p.Movement.Clone()
		} else {
			d.MovementAlert.Enabled = false
			d.MovementAlert.ChangedAt = cloneTime(p.Movement.ChangedAt)
		}
	}
}

// Columns returns the database columns the patch writes.
func (p AlertPatch) Columns() []string {
	var cols []string
	if p.Fence != nil {
		if p.Fence.Enabled {
			cols = append(cols, "fence_enabled", "fence_center", "fence_radius_meters", "fence_changed_at")
		} else {
			cols = append(cols, "fence_enabled", "fence_changed_at")
		}
	}
	if p.Movement != nil {
		if p.Movement.Enabled {
			cols = append(cols, "movement_enabled", "movement_anchor", "movement_window_start", "movement_window_end", "movement_changed_at")
		} else {
			cols = append(cols, "movement_enabled", "movement_changed_at")
		}
	}
	return cols
}
