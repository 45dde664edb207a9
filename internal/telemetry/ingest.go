package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"tag_tracker/internal/backend"
	"tag_tracker/internal/geo"
	"tag_tracker/internal/metrics"
	"tag_tracker/internal/models"
)

const (
	SourceHTTP = "http"
	SourceMQTT = "mqtt"
)

// Store is the part of the backend the ingestor writes through.
type Store interface {
	ResolveSerial(ctx context.Context, serial string) (string, error)
	UpdatePosition(ctx context.Context, id string, pos geo.Point, address string, at time.Time) error
	LastPositionSample(ctx context.Context, id string) (models.PositionSample, bool, error)
	AppendPositionSample(ctx context.Context, sample *models.PositionSample) error
}

// Result describes what happened to a report.
type Result struct {
	DeviceID  string  `json:"device_id"`
	Saved     bool    `json:"saved"`
	EventType string  `json:"event_type"`
	Distance  float64 `json:"distance"`
	SampleID  uint    `json:"sequence_id,omitempty"`
	Stale     bool    `json:"stale,omitempty"`
}

type Ingestor struct {
	store Store
	now   func() time.Time
}

func NewIngestor(store Store) *Ingestor {
	return &Ingestor{store: store, now: time.Now}
}

// Record applies a report: a history sample is appended when the fix is
// significant, and the device position is updated unless a newer fix is
// already stored.
func (in *Ingestor) Record(ctx context.Context, source string, r Report) (Result, error) {
	res, err := in.record(ctx, r)
	switch {
	case err != nil:
		metrics.IncTelemetryReport(source, "rejected")
	case res.Saved:
		metrics.IncTelemetryReport(source, "saved")
	default:
		metrics.IncTelemetryReport(source, "skipped")
	}
	return res, err
}

func (in *Ingestor) record(ctx context.Context, r Report) (Result, error) {
	if err := r.Validate(); err != nil {
		return Result{}, err
	}
	id := r.DeviceID
	if id == "" {
		var err error
		if id, err = in.store.ResolveSerial(ctx, r.TagSerial); err != nil {
			return Result{}, err
		}
	}

	at := in.now().UTC()
	if r.Timestamp != nil {
		at = *r.Timestamp
	}
	pos := r.Point()

	last, found, err := in.store.LastPositionSample(ctx, id)
	if err != nil {
		return Result{}, err
	}
	var (
		prev     *models.PositionSample
		distance float64
		bearing  float64
	)
	if found {
		prev = &last
		distance = geo.GreatCircleDistance(last.Point(), pos)
		bearing = geo.Bearing(last.Point(), pos)
	}
	speed := r.Speed
	if speed < 0 {
		speed = 0
	}

	save, event := shouldSave(prev, distance, speed, at)
	res := Result{DeviceID: id, Saved: save, EventType: event, Distance: distance}

	if save {
		sample := &models.PositionSample{
			DeviceID:         id,
			Latitude:         r.Latitude,
			Longitude:        r.Longitude,
			Address:          r.Address,
			Accuracy:         r.Accuracy,
			Speed:            speed,
			Bearing:          bearing,
			Altitude:         r.Altitude,
			DistanceFromLast: distance,
			EventType:        event,
			Timestamp:        r.Timestamp,
		}
		if err := in.store.AppendPositionSample(ctx, sample); err != nil {
			return Result{}, fmt.Errorf("append sample for %s: %w", id, err)
		}
		res.SampleID = sample.ID
	}

	if err := in.store.UpdatePosition(ctx, id, pos, r.Address, at); err != nil {
		if !errors.Is(err, backend.ErrStalePosition) {
			return Result{}, err
		}
		res.Stale = true
		logrus.WithFields(logrus.Fields{
			"device_id": id,
			"at":        at,
		}).Debug("Out of order report kept in history only.")
	}

	logrus.WithFields(logrus.Fields{
		"device_id":  id,
		"event_type": event,
		"distance_m": fmt.Sprintf("%.2f", distance),
		"speed_mps":  fmt.Sprintf("%.2f", speed),
		"untimed":    r.Timestamp == nil,
	}).Debug("Telemetry report recorded.")
	return res, nil
}
