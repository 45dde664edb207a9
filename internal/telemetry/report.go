// Package telemetry turns position reports from tags into device updates
// and history samples.
package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"tag_tracker/internal/geo"
)

var ErrInvalidReport = errors.New("invalid telemetry report")

// Report is one position fix sent by a tag or its gateway. A tag is named
// either by device id or by serial. Timestamp is nil when the tag did not
// send one.
type Report struct {
	DeviceID  string     `json:"device_id"`
	TagSerial string     `json:"tag_serial"`
	Latitude  float64    `json:"latitude"`
	Longitude float64    `json:"longitude"`
	Accuracy  float64    `json:"accuracy"` // meters
	Speed     float64    `json:"speed"`    // m/s
	Altitude  float64    `json:"altitude"` // meters
	Address   string     `json:"address"`
	Timestamp *time.Time `json:"timestamp"`
}

// UnmarshalJSON accepts RFC3339 timestamps with or without a zone; a
// timestamp without one is taken as UTC.
func (r *Report) UnmarshalJSON(data []byte) error {
	type alias Report
	aux := &struct {
		Timestamp *string `json:"timestamp"`
		*alias
	}{alias: (*alias)(r)}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	r.Timestamp = nil
	if aux.Timestamp == nil || strings.TrimSpace(*aux.Timestamp) == "" {
		return nil
	}
	t, err := parseTimestamp(*aux.Timestamp)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"raw_timestamp": *aux.Timestamp,
			"parse_error":   err,
		}).Warn("Failed to parse telemetry timestamp.")
		return fmt.Errorf("invalid timestamp %q: %w", *aux.Timestamp, err)
	}
	r.Timestamp = &t
	return nil
}

func parseTimestamp(raw string) (time.Time, error) {
	ts := strings.TrimSpace(raw)
	if !hasZone(ts) {
		ts += "Z"
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func hasZone(ts string) bool {
	if strings.HasSuffix(ts, "Z") || strings.HasSuffix(ts, "z") {
		return true
	}
	if len(ts) < 6 {
		return false
	}
	off := ts[len(ts)-6:]
	return (off[0] == '+' || off[0] == '-') && off[3] == ':'
}

// Point returns the reported position.
func (r Report) Point() geo.Point {
	return geo.Point{Lat: r.Latitude, Lng: r.Longitude}
}

// Validate checks the report names a tag and carries a usable position.
func (r Report) Validate() error {
	if r.DeviceID == "" && r.TagSerial == "" {
		return fmt.Errorf("%w: device_id or tag_serial is required", ErrInvalidReport)
	}
	if r.Latitude < -90 || r.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidReport, r.Latitude)
	}
	if r.Longitude < -180 || r.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidReport, r.Longitude)
	}
	if r.Latitude == 0 && r.Longitude == 0 {
		return fmt.Errorf("%w: null island fix", ErrInvalidReport)
	}
	return nil
}
