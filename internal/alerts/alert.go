// Package alerts decides whether a device state is alert-worthy. Both
// evaluators are edge-triggered: an alert fires on the transition into the
// bad state, never again while the state holds. They keep per-device state,
// are not safe for concurrent use, and never fail; undecidable input
// resolves to "no alert".
package alerts

import (
	"time"

	"tag_tracker/internal/geo"
)

// Kind identifies the rule that raised an alert.
type Kind string

const (
	KindFenceBreach Kind = "fence_breach"
	KindMovement    Kind = "movement"
)

// Alert is one alert-worthy transition.
type Alert struct {
	Kind     Kind      `json:"kind"`
	DeviceID string    `json:"device_id"`
	Position geo.Point `json:"position"`
	Distance float64   `json:"distance_meters"`
	At       time.Time `json:"at"`
}
