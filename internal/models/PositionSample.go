package models

import (
	"time"

	"tag_tracker/internal/geo"
)

// PositionSample is one entry of a device's position history. Rows are
// append-only.
type PositionSample struct {
	ID               uint       `json:"id" gorm:"primaryKey"`
	DeviceID         string     `json:"device_id" gorm:"index:idx_sample_device_ts,priority:1;size:36;not null"`
	Latitude         float64    `json:"latitude"`
	Longitude        float64    `json:"longitude"`
	Address          string     `json:"address,omitempty"`
	Accuracy         float64    `json:"accuracy"` // meters
	Speed            float64    `json:"speed"`    // m/s
	Bearing          float64    `json:"bearing"`  // degrees
	Altitude         float64    `json:"altitude"` // meters
	DistanceFromLast float64    `json:"distance_from_last"`
	EventType        string     `json:"event_type"` // "initial", "move", "stopped", "started", "periodic"
	Timestamp        *time.Time `json:"timestamp" gorm:"column:reported_at;index:idx_sample_device_ts,priority:2"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Point returns the sample position.
func (s PositionSample) Point() geo.Point {
	return geo.Point{Lat: s.Latitude, Lng: s.Longitude}
}

// Untimed reports whether the device did not report a timestamp for this
// sample. Such samples are ordered by insert time and kept apart from the
// device-timed ones.
func (s PositionSample) Untimed() bool {
	return s.Timestamp == nil
}
