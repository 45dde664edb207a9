package telemetry

import (
	"time"

	"tag_tracker/internal/models"
)

const (
	EventInitial  = "initial"
	EventMove     = "move"
	EventStopped  = "stopped"
	EventStarted  = "started"
	EventPeriodic = "periodic"
	EventSkipped  = "insignificant"
)

const (
	minDistanceForSave = 5.0  // meters
	minTimeDiffForSave = 10.0 // seconds
	minSpeedForMoving  = 0.5  // m/s
	maxSpeedForStopped = 1.0  // m/s
	periodicInterval   = 60 * time.Second
)

// sampleTime is when a sample was taken: the device timestamp, or the
// insert time for untimed samples. The insert time only feeds the save
// decision below; stored history keeps untimed samples untimed.
func sampleTime(s models.PositionSample) time.Time {
	if s.Timestamp != nil {
		return *s.Timestamp
	}
	return s.CreatedAt
}

// shouldSave decides whether a fix is worth a history sample. last is nil
// when the device has no history yet.
func shouldSave(last *models.PositionSample, distance, speed float64, at time.Time) (bool, string) {
	if last == nil {
		return true, EventInitial
	}
	if distance >= minDistanceForSave {
		return true, EventMove
	}

	elapsed := at.Sub(sampleTime(*last))
	wasMoving := last.Speed > minSpeedForMoving
	if wasMoving && speed < maxSpeedForStopped && elapsed.Seconds() >= minTimeDiffForSave {
		return true, EventStopped
	}
	if !wasMoving && speed >= minSpeedForMoving && elapsed.Seconds() >= minTimeDiffForSave {
		return true, EventStarted
	}
	if elapsed >= periodicInterval {
		return true, EventPeriodic
	}
	return false, EventSkipped
}
