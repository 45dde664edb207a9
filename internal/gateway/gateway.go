// Package gateway is the write boundary for alert configuration. It
// validates input locally, stamps each change, and performs a single write
// attempt through the injected Writer.
package gateway

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"tag_tracker/internal/alerts"
	"tag_tracker/internal/geo"
	"tag_tracker/internal/metrics"
	"tag_tracker/internal/models"
)

// Writer persists alert configuration. It must not touch telemetry fields.
type Writer interface {
	WriteAlertConfig(ctx context.Context, deviceID string, patch models.AlertPatch) error
}

// AlertConfigGateway builds and writes alert configuration patches.
type AlertConfigGateway struct {
	writer Writer
	radius float64
	now    func() time.Time
}

// New returns a gateway writing through w. radiusMeters is the fence radius
// stored on enable; non-positive values use geo.DefaultRadiusMeters.
func New(w Writer, radiusMeters float64) *AlertConfigGateway {
	if radiusMeters <= 0 {
		radiusMeters = geo.DefaultRadiusMeters
	}
	return &AlertConfigGateway{writer: w, radius: radiusMeters, now: time.Now}
}

func (g *AlertConfigGateway) stamp() *time.Time {
	t := g.now().UTC()
	return &t
}

// PlanEnableFence builds the patch arming a fence around currentPosition.
func (g *AlertConfigGateway) PlanEnableFence(currentPosition *geo.Point) (models.AlertPatch, error) {
	if currentPosition == nil {
		return models.AlertPatch{}, &ValidationError{Field: "position", Reason: "device has not reported a position yet"}
	}
	center := *currentPosition
	return models.AlertPatch{Fence: &models.FenceAlert{
		Enabled:      true,
		Center:       &center,
		RadiusMeters: g.radius,
		ChangedAt:    g.stamp(),
	}}, nil
}

// PlanDisableFence builds the patch disarming a fence.
func (g *AlertConfigGateway) PlanDisableFence() models.AlertPatch {
	return models.AlertPatch{Fence: &models.FenceAlert{ChangedAt: g.stamp()}}
}

// PlanEnableMovementWindow validates the window bounds and builds the patch
// anchoring the rule at currentPosition.
func (g *AlertConfigGateway) PlanEnableMovementWindow(currentPosition *geo.Point, start, end string) (models.AlertPatch, error) {
	if _, err := alerts.ParseClock(start); err != nil {
		return models.AlertPatch{}, &ValidationError{Field: "window_start", Value: start, Reason: "expected HH:mm between 00:00 and 23:59"}
	}
	if _, err := alerts.ParseClock(end); err != nil {
		return models.AlertPatch{}, &ValidationError{Field: "window_end", Value: end, Reason: "expected HH:mm between 00:00 and 23:59"}
	}
	if currentPosition == nil {
		return models.AlertPatch{}, &ValidationError{Field: "position", Reason: "device has not reported a position yet"}
	}
	anchor := *currentPosition
	return models.AlertPatch{Movement: &models.MovementAlert{
		Enabled:     true,
		Anchor:      &anchor,
		WindowStart: &start,
		WindowEnd:   &end,
		ChangedAt:   g.stamp(),
	}}, nil
}

// PlanDisableMovementWindow builds the patch disarming the movement rule.
func (g *AlertConfigGateway) PlanDisableMovementWindow() models.AlertPatch {
	return models.AlertPatch{Movement: &models.MovementAlert{ChangedAt: g.stamp()}}
}

// Write performs one write attempt. Failures come back as *WriteFailure.
func (g *AlertConfigGateway) Write(ctx context.Context, deviceID string, patch models.AlertPatch) error {
	if err := g.writer.WriteAlertConfig(ctx, deviceID, patch); err != nil {
		metrics.IncAlertConfigWriteFailure()
		logrus.WithError(err).WithFields(logrus.Fields{
			"device_id": deviceID,
			"fields":    patch.Fields(),
		}).Warn("Alert config write failed.")
		return &WriteFailure{DeviceID: deviceID, Err: err}
	}
	metrics.IncAlertConfigWrite()
	logrus.WithFields(logrus.Fields{
		"device_id": deviceID,
		"fields":    patch.Fields(),
	}).Info("Alert config written.")
	return nil
}

// EnableFence arms a fence around currentPosition.
func (g *AlertConfigGateway) EnableFence(ctx context.Context, deviceID string, currentPosition *geo.Point) (models.AlertPatch, error) {
	patch, err := g.PlanEnableFence(currentPosition)
	if err != nil {
		return models.AlertPatch{}, err
	}
	return patch, g.Write(ctx, deviceID, patch)
}

// DisableFence disarms the fence.
func (g *AlertConfigGateway) DisableFence(ctx context.Context, deviceID string) (models.AlertPatch, error) {
	patch := g.PlanDisableFence()
	return patch, g.Write(ctx, deviceID, patch)
}

// EnableMovementWindow arms the quiet-hours rule. Malformed bounds are
// rejected without a write.
func (g *AlertConfigGateway) EnableMovementWindow(ctx context.Context, deviceID string, currentPosition *geo.Point, start, end string) (models.AlertPatch, error) {
	patch, err := g.PlanEnableMovementWindow(currentPosition, start, end)
	if err != nil {
		return models.AlertPatch{}, err
	}
	return patch, g.Write(ctx, deviceID, patch)
}

// DisableMovementWindow disarms the quiet-hours rule.
func (g *AlertConfigGateway) DisableMovementWindow(ctx context.Context, deviceID string) (models.AlertPatch, error) {
	patch := g.PlanDisableMovementWindow()
	return patch, g.Write(ctx, deviceID, patch)
}
