package alerts

import (
	"time"

	"github.com/sirupsen/logrus"

	"tag_tracker/internal/geo"
	"tag_tracker/internal/models"
)

// MovementDecision is the result of one movement-window evaluation.
type MovementDecision struct {
	InWindow    bool
	InViolation bool
	Alert       *Alert
}

// MovementWindowEvaluator flags devices that leave their anchor during
// their configured quiet hours.
type MovementWindowEvaluator struct {
	radius   float64
	location *time.Location
	flagged  map[string]bool
}

// NewMovementWindowEvaluator builds an evaluator that reads wall-clock time
// in loc (time.Local when nil) and uses radiusMeters around the anchor.
func NewMovementWindowEvaluator(radiusMeters float64, loc *time.Location) *MovementWindowEvaluator {
	if radiusMeters <= 0 {
		radiusMeters = geo.DefaultRadiusMeters
	}
	if loc == nil {
		loc = time.Local
	}
	return &MovementWindowEvaluator{
		radius:   radiusMeters,
		location: loc,
		flagged:  make(map[string]bool),
	}
}

// InViolation reports whether the device is currently flagged.
func (e *MovementWindowEvaluator) InViolation(deviceID string) bool {
	return e.flagged[deviceID]
}

// Forget drops the state of a device.
func (e *MovementWindowEvaluator) Forget(deviceID string) {
	delete(e.flagged, deviceID)
}

// Evaluate decides whether d is in violation at now.
func (e *MovementWindowEvaluator) Evaluate(d models.Device, now time.Time) MovementDecision {
	rule := d.MovementAlert
	if !rule.Enabled {
		delete(e.flagged, d.ID)
		return MovementDecision{}
	}
	if rule.Anchor == nil || rule.WindowStart == nil || rule.WindowEnd == nil {
		logrus.WithField("device_id", d.ID).Warn("Movement alert enabled without anchor or window, suppressing evaluation.")
		delete(e.flagged, d.ID)
		return MovementDecision{}
	}
	window, err := ParseWindow(*rule.WindowStart, *rule.WindowEnd)
	if err != nil {
		logrus.WithError(err).WithField("device_id", d.ID).Warn("Stored movement window is malformed, suppressing evaluation.")
		delete(e.flagged, d.ID)
		return MovementDecision{}
	}

	decision := MovementDecision{InWindow: window.Contains(now.In(e.location))}
	if !decision.InWindow || d.Position == nil || geo.IsWithin(rule.Anchor, *d.Position, e.radius) {
		delete(e.flagged, d.ID)
		return decision
	}

	decision.InViolation = true
	if !e.flagged[d.ID] {
		e.flagged[d.ID] = true
		decision.Alert = &Alert{
			Kind:     KindMovement,
			DeviceID: d.ID,
			Position: *d.Position,
			Distance: geo.Distance(*rule.Anchor, *d.Position),
			At:       now,
		}
	}
	return decision
}
