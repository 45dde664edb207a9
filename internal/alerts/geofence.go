package alerts

import (
	"time"

	"github.com/sirupsen/logrus"

	"tag_tracker/internal/geo"
	"tag_tracker/internal/models"
)

// FenceState is the containment of a device relative to its fence.
type FenceState int

const (
	FenceUnknown FenceState = iota
	FenceInside
	FenceOutside
)

func (s FenceState) String() string {
	switch s {
	case FenceInside:
		return "inside"
	case FenceOutside:
		return "outside"
	default:
		return "unknown"
	}
}

func (s FenceState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// FenceDecision is the result of one geofence evaluation.
type FenceDecision struct {
	State FenceState
	Alert *Alert
}

type fenceTrack struct {
	state  FenceState
	center geo.Point
	at     time.Time
}

// GeofenceEvaluator tracks fence containment per device.
type GeofenceEvaluator struct {
	tracks map[string]fenceTrack
}

func NewGeofenceEvaluator() *GeofenceEvaluator {
	return &GeofenceEvaluator{tracks: make(map[string]fenceTrack)}
}

// State returns the last evaluated state of a device.
func (e *GeofenceEvaluator) State(deviceID string) FenceState {
	return e.tracks[deviceID].state
}

// LastEvaluatedAt returns when the device was last evaluated, zero if never.
func (e *GeofenceEvaluator) LastEvaluatedAt(deviceID string) time.Time {
	return e.tracks[deviceID].at
}

// Forget drops the state of a device.
func (e *GeofenceEvaluator) Forget(deviceID string) {
	delete(e.tracks, deviceID)
}

// Evaluate runs the fence state machine for d at now.
func (e *GeofenceEvaluator) Evaluate(d models.Device, now time.Time) FenceDecision {
	fence := d.FenceAlert
	if !fence.Enabled {
		delete(e.tracks, d.ID)
		return FenceDecision{State: FenceUnknown}
	}
	if fence.Center == nil {
		logrus.WithField("device_id", d.ID).Warn("Fence enabled without a center, suppressing evaluation.")
		delete(e.tracks, d.ID)
		return FenceDecision{State: FenceUnknown}
	}

	prev, seen := e.tracks[d.ID]
	if seen && prev.center != *fence.Center {
		// A new center means the fence was re-armed somewhere else.
		prev = fenceTrack{}
	}
	if d.Position == nil {
		return FenceDecision{State: prev.state}
	}

	radius := fence.RadiusMeters
	if radius <= 0 {
		radius = geo.DefaultRadiusMeters
	}

	next := fenceTrack{center: *fence.Center, at: now}
	decision := FenceDecision{}
	if geo.IsWithin(fence.Center, *d.Position, radius) {
		next.state = FenceInside
	} else {
		next.state = FenceOutside
		if prev.state != FenceOutside {
			decision.Alert = &Alert{
				Kind:     KindFenceBreach,
				DeviceID: d.ID,
				Position: *d.Position,
				Distance: geo.Distance(*fence.Center, *d.Position),
				At:       now,
			}
		}
	}
	e.tracks[d.ID] = next
	decision.State = next.state
	return decision
}
