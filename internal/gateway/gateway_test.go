package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"tag_tracker/internal/backend"
	"tag_tracker/internal/geo"
	"tag_tracker/internal/models"
)

type fakeWriter struct {
	calls   int
	lastID  string
	last    models.AlertPatch
	failErr error
}

func (w *fakeWriter) WriteAlertConfig(_ context.Context, id string, patch models.AlertPatch) error {
	w.calls++
	w.lastID = id
	w.last = patch
	return w.failErr
}

func newTestGateway(w Writer) *AlertConfigGateway {
	g := New(w, 0)
	g.now = func() time.Time { return time.Date(2025, 4, 1, 9, 30, 0, 0, time.UTC) }
	return g
}

func TestEnableFenceWritesCenterAndRadius(t *testing.T) {
	w := &fakeWriter{}
	g := newTestGateway(w)
	pos := &geo.Point{Lat: 1, Lng: 2}

	patch, err := g.EnableFence(context.Background(), "dev-1", pos)
	if err != nil {
		t.Fatalf("enable: %v", err)
	}
	if w.calls != 1 || w.lastID != "dev-1" {
		t.Fatalf("expected one write for dev-1, got %d for %q", w.calls, w.lastID)
	}
	f := w.last.Fence
	if f == nil || !f.Enabled || f.Center == nil || *f.Center != *pos || f.RadiusMeters != geo.DefaultRadiusMeters {
		t.Fatalf("unexpected fence patch %+v", f)
	}
	if f.ChangedAt == nil || !f.ChangedAt.Equal(time.Date(2025, 4, 1, 9, 30, 0, 0, time.UTC)) {
		t.Fatalf("expected change stamp, got %v", f.ChangedAt)
	}
	if w.last.Movement != nil || patch.Fence != w.last.Fence {
		t.Fatalf("expected fence-only patch returned to caller")
	}

	pos.Lat = 50
	if f.Center.Lat != 1 {
		t.Fatalf("expected center to be captured by value")
	}
}

func TestEnableFenceWithoutPositionIsValidationError(t *testing.T) {
	w := &fakeWriter{}
	_, err := newTestGateway(w).EnableFence(context.Background(), "dev-1", nil)
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "position" {
		t.Fatalf("expected position ValidationError, got %v", err)
	}
	if w.calls != 0 {
		t.Fatalf("expected no write")
	}
}

func TestDisableWritesOnlyEnabledFlag(t *testing.T) {
	w := &fakeWriter{}
	g := newTestGateway(w)

	if _, err := g.DisableFence(context.Background(), "dev-1"); err != nil {
		t.Fatalf("disable fence: %v", err)
	}
	if w.last.Fence == nil || w.last.Fence.Enabled || w.last.Fence.Center != nil {
		t.Fatalf("unexpected disable patch %+v", w.last.Fence)
	}
	if cols := w.last.Columns(); len(cols) != 2 {
		t.Fatalf("expected enabled and changed_at columns, got %v", cols)
	}

	if _, err := g.DisableMovementWindow(context.Background(), "dev-1"); err != nil {
		t.Fatalf("disable movement: %v", err)
	}
	if w.last.Movement == nil || w.last.Movement.Enabled || w.last.Fence != nil {
		t.Fatalf("unexpected disable patch %+v", w.last)
	}
}

func TestEnableMovementWindow(t *testing.T) {
	w := &fakeWriter{}
	g := newTestGateway(w)
	pos := &geo.Point{Lat: 3, Lng: 4}

	if _, err := g.EnableMovementWindow(context.Background(), "dev-1", pos, "22:00", "06:00"); err != nil {
		t.Fatalf("enable: %v", err)
	}
	m := w.last.Movement
	if m == nil || !m.Enabled || *m.Anchor != *pos || *m.WindowStart != "22:00" || *m.WindowEnd != "06:00" {
		t.Fatalf("unexpected movement patch %+v", m)
	}
}

func TestMalformedScheduleRejectedWithoutWrite(t *testing.T) {
	cases := []struct{ start, end, field string }{
		{"25:99", "06:00", "window_start"},
		{"22:00", "6:00", "window_end"},
		{"", "06:00", "window_start"},
	}
	for _, c := range cases {
		w := &fakeWriter{}
		_, err := newTestGateway(w).EnableMovementWindow(context.Background(), "dev-1", &geo.Point{}, c.start, c.end)
		var verr *ValidationError
		if !errors.As(err, &verr) || verr.Field != c.field {
			t.Fatalf("%s-%s: expected %s ValidationError, got %v", c.start, c.end, c.field, err)
		}
		if w.calls != 0 {
			t.Fatalf("%s-%s: expected no write, got %d", c.start, c.end, w.calls)
		}
	}
}

func TestWriteFailureIsTypedAndSingleAttempt(t *testing.T) {
	w := &fakeWriter{failErr: backend.ErrDeviceNotFound}
	_, err := newTestGateway(w).EnableFence(context.Background(), "dev-9", &geo.Point{})

	var wf *WriteFailure
	if !errors.As(err, &wf) || wf.DeviceID != "dev-9" {
		t.Fatalf("expected WriteFailure, got %v", err)
	}
	if !errors.Is(err, backend.ErrDeviceNotFound) {
		t.Fatalf("expected WriteFailure to unwrap to the backend error")
	}
	if w.calls != 1 {
		t.Fatalf("expected exactly one attempt, got %d", w.calls)
	}
}
