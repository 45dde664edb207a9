package backend

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"tag_tracker/internal/feed"
	"tag_tracker/internal/geo"
	"tag_tracker/internal/models"
)

func openTestService(t *testing.T) (*Service, *feed.Feed) {
	t.Helper()
	// Unique in-memory DB per test.
	dsn := "file:backend_" + strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()) + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	f := feed.New(16)
	return NewService(NewRepo(db), f, nil), f
}

func linkTestDevice(t *testing.T, svc *Service, owner uint, serial string) models.Device {
	t.Helper()
	d, err := svc.LinkDevice(context.Background(), owner, "Tag "+serial, serial)
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	return d
}

func TestLinkAndFetch(t *testing.T) {
	svc, _ := openTestService(t)
	ctx := context.Background()
	d := linkTestDevice(t, svc, 1, "SN-1")

	got, err := svc.FetchDevice(ctx, d.ID)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got.OwnerID != 1 || got.TagSerial != "SN-1" || got.Position != nil {
		t.Fatalf("unexpected device %+v", got)
	}

	if _, err := svc.LinkDevice(ctx, 2, "dup", "SN-1"); !errors.Is(err, ErrSerialInUse) {
		t.Fatalf("expected ErrSerialInUse, got %v", err)
	}
	if _, err := svc.FetchDevice(ctx, "missing"); !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("expected ErrDeviceNotFound, got %v", err)
	}
}

func TestWriteAlertConfigTouchesOnlyAlertColumns(t *testing.T) {
	svc, f := openTestService(t)
	ctx := context.Background()
	d := linkTestDevice(t, svc, 1, "SN-2")

	at := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	if err := svc.UpdatePosition(ctx, d.ID, geo.Point{Lat: 1, Lng: 2}, "Main St", at); err != nil {
		t.Fatalf("update position: %v", err)
	}

	sub := f.Subscribe(feed.Filter{DeviceID: d.ID})
	defer sub.Unsubscribe()

	changed := at.Add(time.Minute)
	enable := models.AlertPatch{Fence: &models.FenceAlert{
		Enabled: true, Center: &geo.Point{Lat: 1, Lng: 2}, RadiusMeters: 100, ChangedAt: &changed,
	}}
	if err := svc.WriteAlertConfig(ctx, d.ID, enable); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case got := <-sub.Updates():
		if !got.FenceAlert.Enabled || got.FenceAlert.Center == nil || got.FenceAlert.RadiusMeters != 100 {
			t.Fatalf("unexpected fence in notification: %+v", got.FenceAlert)
		}
		if got.Position == nil || *got.Position != (geo.Point{Lat: 1, Lng: 2}) || got.Address != "Main St" {
			t.Fatalf("expected telemetry untouched, got %+v %q", got.Position, got.Address)
		}
	default:
		t.Fatalf("expected a change notification")
	}

	disable := models.AlertPatch{Fence: &models.FenceAlert{ChangedAt: &changed}}
	if err := svc.WriteAlertConfig(ctx, d.ID, disable); err != nil {
		t.Fatalf("disable: %v", err)
	}
	got, _ := svc.FetchDevice(ctx, d.ID)
	if got.FenceAlert.Enabled || got.FenceAlert.Center == nil {
		t.Fatalf("expected disabled fence keeping its center, got %+v", got.FenceAlert)
	}

	if err := svc.WriteAlertConfig(ctx, "missing", enable); !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("expected ErrDeviceNotFound, got %v", err)
	}
}

func TestMovementWindowRoundTrip(t *testing.T) {
	svc, _ := openTestService(t)
	ctx := context.Background()
	d := linkTestDevice(t, svc, 1, "SN-3")

	start, end := "22:00", "06:00"
	patch := models.AlertPatch{Movement: &models.MovementAlert{
		Enabled: true, Anchor: &geo.Point{Lat: 5, Lng: 6}, WindowStart: &start, WindowEnd: &end,
	}}
	if err := svc.WriteAlertConfig(ctx, d.ID, patch); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, _ := svc.FetchDevice(ctx, d.ID)
	m := got.MovementAlert
	if !m.Enabled || m.Anchor == nil || *m.Anchor != (geo.Point{Lat: 5, Lng: 6}) ||
		m.WindowStart == nil || *m.WindowStart != "22:00" || m.WindowEnd == nil || *m.WindowEnd != "06:00" {
		t.Fatalf("unexpected movement alert %+v", m)
	}
}

func TestUnlinkPublishesRemoval(t *testing.T) {
	svc, f := openTestService(t)
	ctx := context.Background()
	d := linkTestDevice(t, svc, 1, "SN-4")

	sub := f.Subscribe(feed.Filter{OwnerID: 1})
	defer sub.Unsubscribe()

	if err := svc.UnlinkDevice(ctx, Actor{UserID: 2}, d.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for another owner, got %v", err)
	}
	if err := svc.UnlinkDevice(ctx, Actor{UserID: 1}, d.ID); err != nil {
		t.Fatalf("unlink: %v", err)
	}
	got := <-sub.Updates()
	if !got.Removed() {
		t.Fatalf("expected removal notification, got %+v", got)
	}
	if _, err := svc.FetchDevice(ctx, d.ID); !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("expected unlinked device to be hidden, got %v", err)
	}
}

func TestHistorySeparatesUntimedSamples(t *testing.T) {
	svc, _ := openTestService(t)
	ctx := context.Background()
	d := linkTestDevice(t, svc, 1, "SN-5")

	base := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	ts := func(m int) *time.Time { v := base.Add(time.Duration(m) * time.Minute); return &v }

	samples := []*models.PositionSample{
		{DeviceID: d.ID, Latitude: 1, Timestamp: ts(2)},
		{DeviceID: d.ID, Latitude: 2},
		{DeviceID: d.ID, Latitude: 3, Timestamp: ts(1)},
		{DeviceID: d.ID, Latitude: 4},
	}
	for _, s := range samples {
		if err := svc.AppendPositionSample(ctx, s); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := svc.AppendPositionSample(ctx, samples[0]); err == nil {
		t.Fatalf("expected re-appending an existing sample to fail")
	}

	h, err := svc.History(ctx, Actor{UserID: 1}, d.ID, time.Time{}, time.Time{}, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(h.Timed) != 2 || h.Timed[0].Latitude != 3 || h.Timed[1].Latitude != 1 {
		t.Fatalf("expected timed samples ordered by device time, got %+v", h.Timed)
	}
	if len(h.Untimed) != 2 || h.Untimed[0].Latitude != 2 || h.Untimed[1].Latitude != 4 {
		t.Fatalf("expected untimed samples in insert order, got %+v", h.Untimed)
	}

	h, err = svc.History(ctx, Actor{Admin: true}, d.ID, base.Add(90*time.Second), time.Time{}, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(h.Timed) != 1 || h.Timed[0].Latitude != 1 {
		t.Fatalf("expected from bound to apply, got %+v", h.Timed)
	}

	last, ok, err := svc.LastPositionSample(ctx, d.ID)
	if err != nil || !ok || last.Latitude != 4 {
		t.Fatalf("expected last inserted sample, got %+v %v %v", last, ok, err)
	}
}

func TestDevicesForScopesByOwner(t *testing.T) {
	svc, _ := openTestService(t)
	ctx := context.Background()
	linkTestDevice(t, svc, 1, "A")
	linkTestDevice(t, svc, 1, "B")
	linkTestDevice(t, svc, 2, "C")

	mine, err := svc.DevicesFor(ctx, Actor{UserID: 1})
	if err != nil || len(mine) != 2 {
		t.Fatalf("expected 2 devices for owner 1, got %d (%v)", len(mine), err)
	}
	all, err := svc.DevicesFor(ctx, Actor{Admin: true})
	if err != nil || len(all) != 3 {
		t.Fatalf("expected 3 devices for admin, got %d (%v)", len(all), err)
	}
	id, err := svc.ResolveSerial(ctx, "C")
	if err != nil || id == "" {
		t.Fatalf("resolve serial: %q %v", id, err)
	}
}

type failingNotifier struct{ calls int }

func (n *failingNotifier) Notify(context.Context, string) error {
	n.calls++
	return errors.New("notify down")
}

func TestAnnounceFallsBackToLocalFeed(t *testing.T) {
	svc, f := openTestService(t)
	n := &failingNotifier{}
	svc.notifier = n

	sub := f.Subscribe(feed.Filter{All: true})
	defer sub.Unsubscribe()

	d := linkTestDevice(t, svc, 1, "SN-6")
	got := <-sub.Updates()
	if got.ID != d.ID || n.calls != 1 {
		t.Fatalf("expected local publish after notifier failure, got %+v calls=%d", got, n.calls)
	}
}

func TestUsers(t *testing.T) {
	svc, _ := openTestService(t)
	ctx := context.Background()
	u := &models.User{Name: "Ann", Email: "ann@example.com", Password: "x", Role: models.RoleOwner}
	if err := svc.Repo().CreateUser(ctx, u); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.Repo().CreateUser(ctx, &models.User{Email: "ann@example.com"}); !errors.Is(err, ErrEmailInUse) {
		t.Fatalf("expected ErrEmailInUse, got %v", err)
	}
	got, err := svc.Repo().FindUserByEmail(ctx, "ann@example.com")
	if err != nil || got.ID != u.ID {
		t.Fatalf("find: %+v %v", got, err)
	}
	if _, err := svc.Repo().FindUserByEmail(ctx, "nobody@example.com"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestConcurrentMutationsPublishInCommitOrder(t *testing.T) {
	svc, f := openTestService(t)
	ctx := context.Background()
	d := linkTestDevice(t, svc, 1, "SN-7")

	t0 := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	if err := svc.UpdatePosition(ctx, d.ID, geo.Point{Lat: 0, Lng: 0.002}, "", t0); err != nil {
		t.Fatalf("update position: %v", err)
	}

	// Hold the next reload after it has read the row, so a later commit can
	// race its publish.
	var armed atomic.Bool
	reloaded := make(chan struct{})
	err := svc.Repo().DB().Callback().Query().After("gorm:query").Register("test:slow_reload", func(tx *gorm.DB) {
		if armed.CompareAndSwap(true, false) {
			close(reloaded)
			time.Sleep(200 * time.Millisecond)
		}
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}

	sub := f.Subscribe(feed.Filter{DeviceID: d.ID})
	defer sub.Unsubscribe()

	armed.Store(true)
	changed := t0.Add(time.Minute)
	patch := models.AlertPatch{Fence: &models.FenceAlert{
		Enabled: true, Center: &geo.Point{Lat: 0, Lng: 0.002}, RadiusMeters: 100, ChangedAt: &changed,
	}}
	alertDone := make(chan error, 1)
	go func() { alertDone <- svc.WriteAlertConfig(ctx, d.ID, patch) }()

	select {
	case <-reloaded:
	case <-time.After(2 * time.Second):
		t.Fatal("alert write never reloaded the device")
	}
	moveDone := make(chan error, 1)
	go func() {
		moveDone <- svc.UpdatePosition(ctx, d.ID, geo.Point{Lat: 0, Lng: 0}, "", t0.Add(2*time.Minute))
	}()

	for _, done := range []chan error{alertDone, moveDone} {
		if err := <-done; err != nil {
			t.Fatalf("mutation: %v", err)
		}
	}

	var last models.Device
	for i := 0; i < 2; i++ {
		select {
		case last = <-sub.Updates():
		case <-time.After(2 * time.Second):
			t.Fatalf("expected two notifications, got %d", i)
		}
	}
	committed, err := svc.FetchDevice(ctx, d.ID)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if last.Position == nil || *last.Position != (geo.Point{Lat: 0, Lng: 0}) {
		t.Fatalf("expected last notification at the committed position, got %+v", last.Position)
	}
	if committed.Position == nil || *committed.Position != *last.Position {
		t.Fatalf("last notification %+v disagrees with committed row %+v", last.Position, committed.Position)
	}
	if !last.FenceAlert.Enabled {
		t.Fatalf("expected last notification to carry the alert write too")
	}
	if n := svc.locks.len(); n != 0 {
		t.Fatalf("expected device locks released, %d held", n)
	}
}

func TestUpdatePositionIgnoresOlderFix(t *testing.T) {
	svc, f := openTestService(t)
	ctx := context.Background()
	d := linkTestDevice(t, svc, 1, "SN-8")

	newer := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	if err := svc.UpdatePosition(ctx, d.ID, geo.Point{Lat: 1, Lng: 1}, "New St", newer); err != nil {
		t.Fatalf("update position: %v", err)
	}

	sub := f.Subscribe(feed.Filter{DeviceID: d.ID})
	defer sub.Unsubscribe()

	err := svc.UpdatePosition(ctx, d.ID, geo.Point{Lat: 2, Lng: 2}, "Old St", newer.Add(-time.Hour))
	if !errors.Is(err, ErrStalePosition) {
		t.Fatalf("expected ErrStalePosition, got %v", err)
	}
	got, err := svc.FetchDevice(ctx, d.ID)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if *got.Position != (geo.Point{Lat: 1, Lng: 1}) || got.Address != "New St" || !got.LastCommunicationAt.Equal(newer) {
		t.Fatalf("expected newer fix kept, got %+v %q %v", got.Position, got.Address, got.LastCommunicationAt)
	}
	select {
	case d := <-sub.Updates():
		t.Fatalf("expected no notification for a stale fix, got %+v", d)
	default:
	}

	if err := svc.UpdatePosition(ctx, "missing", geo.Point{Lat: 1, Lng: 1}, "", newer); !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("expected ErrDeviceNotFound, got %v", err)
	}
	if err := svc.UpdatePosition(ctx, d.ID, geo.Point{Lat: 3, Lng: 3}, "", newer); err != nil {
		t.Fatalf("expected a fix at the same instant accepted, got %v", err)
	}
}
