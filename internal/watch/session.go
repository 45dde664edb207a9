// Package watch implements viewing contexts: a Session holds the device
// state of one screen (a single device or a fleet), keeps it in sync with
// the change feed, runs the alert evaluators against it and streams the
// results to its consumer.
//
// The opening snapshot primes the evaluators: a device already outside its
// fence, or already moving in its quiet hours, is shown in that state but
// raises no alert until it leaves and re-enters it. Options.AlertOnOpen
// makes the snapshot raise those alerts instead.
//
// Alert config writes started by a session run to completion even when the
// caller's context is cancelled or the session closes mid-write.
package watch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"tag_tracker/internal/alerts"
	"tag_tracker/internal/devicestate"
	"tag_tracker/internal/feed"
	"tag_tracker/internal/gateway"
	"tag_tracker/internal/geo"
	"tag_tracker/internal/metrics"
	"tag_tracker/internal/models"
)

var ErrClosed = errors.New("watch session closed")

// writeTimeout bounds an alert config write once it has been detached from
// the caller.
const writeTimeout = 30 * time.Second

// Source is the read side of the backend a session needs.
type Source interface {
	FetchDevice(ctx context.Context, id string) (models.Device, error)
	FetchFleet(ctx context.Context, ownerID uint) ([]models.Device, error)
	FetchAll(ctx context.Context) ([]models.Device, error)
	Subscribe(filter feed.Filter) *feed.Subscription
}

// Scope selects what a session watches: one device, an owner's fleet, or
// every device.
type Scope struct {
	DeviceID string
	OwnerID  uint
	All      bool
}

func (s Scope) filter() feed.Filter {
	return feed.Filter{DeviceID: s.DeviceID, OwnerID: s.OwnerID, All: s.All}
}

type Options struct {
	Gateway        *gateway.AlertConfigGateway
	MovementRadius float64
	Location       *time.Location
	Registry       *Registry
	EventBuffer    int
	Now            func() time.Time
	// AlertOnOpen raises alerts for excursions already under way when the
	// session opens.
	AlertOnOpen bool
}

// Session is one viewing context. All of its state is owned by a single
// loop goroutine; public methods hand work to that goroutine.
type Session struct {
	scope    Scope
	sub      *feed.Subscription
	store    *devicestate.Store
	fence    *alerts.GeofenceEvaluator
	movement *alerts.MovementWindowEvaluator
	gateway  *gateway.AlertConfigGateway
	registry *Registry
	now      func() time.Time
	alertOn  bool
	// Alerts found by the snapshot, raised once the loop runs.
	opening []*alerts.Alert

	cmds    chan func()
	events  chan Event
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// Open fetches the initial state for scope, subscribes to its changes and
// starts the session. The subscription is opened before the fetch so no
// committed change can fall between the two.
func Open(ctx context.Context, src Source, scope Scope, opts Options) (*Session, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 64
	}
	if opts.MovementRadius <= 0 {
		opts.MovementRadius = geo.DefaultRadiusMeters
	}

	sub := src.Subscribe(scope.filter())
	devices, err := fetchScope(ctx, src, scope)
	if err != nil {
		sub.Unsubscribe()
		return nil, err
	}

	s := &Session{
		scope:    scope,
		sub:      sub,
		store:    devicestate.New(),
		fence:    alerts.NewGeofenceEvaluator(),
		movement: alerts.NewMovementWindowEvaluator(opts.MovementRadius, opts.Location),
		gateway:  opts.Gateway,
		registry: opts.Registry,
		now:      opts.Now,
		alertOn:  opts.AlertOnOpen,
		cmds:     make(chan func()),
		events:   make(chan Event, opts.EventBuffer),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	s.store.Reset(devices)
	s.emitSnapshot()

	if s.registry != nil {
		s.registry.add(s)
	}
	metrics.IncWatchSessions()
	logrus.WithFields(logrus.Fields{
		"device_id": scope.DeviceID,
		"owner_id":  scope.OwnerID,
		"all":       scope.All,
		"devices":   s.store.Len(),
	}).Info("Watch session opened.")

	go s.run()
	return s, nil
}

func fetchScope(ctx context.Context, src Source, scope Scope) ([]models.Device, error) {
	switch {
	case scope.DeviceID != "":
		d, err := src.FetchDevice(ctx, scope.DeviceID)
		if err != nil {
			return nil, err
		}
		return []models.Device{d}, nil
	case scope.All:
		return src.FetchAll(ctx)
	default:
		return src.FetchFleet(ctx, scope.OwnerID)
	}
}

// Events streams session events. It is closed when the session ends.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Scope returns what the session watches.
func (s *Session) Scope() Scope {
	return s.scope
}

// Done is closed once the session loop has stopped.
func (s *Session) Done() <-chan struct{} {
	return s.stopped
}

// Close releases the subscription and stops the session. In-flight writes
// still complete; their outcome is discarded. Safe to call repeatedly.
func (s *Session) Close() {
	s.once.Do(func() {
		close(s.done)
		s.sub.Unsubscribe()
		<-s.stopped
		if s.registry != nil {
			s.registry.remove(s)
		}
		metrics.DecWatchSessions()
		logrus.WithFields(logrus.Fields{
			"device_id": s.scope.DeviceID,
			"owner_id":  s.scope.OwnerID,
		}).Info("Watch session closed.")
	})
}

func (s *Session) run() {
	defer close(s.stopped)
	defer close(s.events)

	s.emitAlerts(s.opening)
	s.opening = nil

	updates := s.sub.Updates()
	for {
		select {
		case <-s.done:
			return
		case d, ok := <-updates:
			if !ok {
				s.emit(Event{Type: EventClosed, Error: "change feed closed, reopen to resync"})
				return
			}
			s.applyRemote(d)
		case fn := <-s.cmds:
			fn()
		}
	}
}

// do runs fn on the loop goroutine and waits for it.
func (s *Session) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	wrapped := func() {
		defer close(finished)
		fn()
	}
	select {
	case s.cmds <- wrapped:
	case <-s.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	// The loop runs a received command to completion before anything else.
	<-finished
	return nil
}

func (s *Session) emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = s.now()
	}
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *Session) emitSnapshot() {
	devices := s.store.Snapshot()
	views := make([]DeviceView, 0, len(devices))
	var fired []*alerts.Alert
	for _, d := range devices {
		view, alerted, _ := s.evaluate(d)
		views = append(views, view)
		fired = append(fired, alerted...)
	}
	s.emit(Event{Type: EventSnapshot, Views: views})
	if s.alertOn {
		s.opening = fired
	}
}

func (s *Session) evaluate(d models.Device) (DeviceView, []*alerts.Alert, bool) {
	now := s.now()
	prevFence := s.fence.State(d.ID)
	prevViolation := s.movement.InViolation(d.ID)

	fd := s.fence.Evaluate(d, now)
	md := s.movement.Evaluate(d, now)

	view := DeviceView{
		Device:            d,
		FenceState:        fd.State,
		MovementViolation: md.InViolation,
	}
	for _, f := range []models.AlertField{models.FieldFence, models.FieldMovement} {
		if s.store.Pending(d.ID, f) {
			view.Pending = append(view.Pending, f)
		}
	}

	var fired []*alerts.Alert
	if fd.Alert != nil {
		fired = append(fired, fd.Alert)
	}
	if md.Alert != nil {
		fired = append(fired, md.Alert)
	}
	changed := prevFence != fd.State || prevViolation != md.InViolation
	return view, fired, changed
}

// publish re-evaluates a cached device and emits its state and any alerts.
func (s *Session) publish(id string) {
	d, ok := s.store.Get(id)
	if !ok {
		return
	}
	view, fired, _ := s.evaluate(d)
	s.emit(Event{Type: EventState, DeviceID: id, View: &view})
	s.emitAlerts(fired)
}

func (s *Session) emitAlerts(fired []*alerts.Alert) {
	for _, a := range fired {
		metrics.IncAlertEmitted(string(a.Kind))
		logrus.WithFields(logrus.Fields{
			"device_id":       a.DeviceID,
			"kind":            a.Kind,
			"distance_meters": a.Distance,
		}).Info("Alert raised.")
		s.emit(Event{Type: EventAlert, DeviceID: a.DeviceID, Alert: a})
	}
}

func (s *Session) applyRemote(d models.Device) {
	res := s.store.ApplyRemoteUpdate(d)
	if res.Removed {
		s.fence.Forget(d.ID)
		s.movement.Forget(d.ID)
		s.emit(Event{Type: EventRemoved, DeviceID: d.ID})
		return
	}
	if len(res.Deferred) > 0 {
		logrus.WithFields(logrus.Fields{
			"device_id": d.ID,
			"deferred":  res.Deferred,
		}).Debug("Kept optimistic alert fields over remote update.")
	}
	s.publish(d.ID)
}

// Tick re-evaluates every device at the current time, so a quiet-hours
// window opening while a device is already away is noticed without a new
// position report.
func (s *Session) Tick(ctx context.Context) error {
	return s.do(ctx, func() {
		for _, d := range s.store.Snapshot() {
			view, fired, changed := s.evaluate(d)
			if changed {
				v := view
				s.emit(Event{Type: EventState, DeviceID: d.ID, View: &v})
			}
			s.emitAlerts(fired)
		}
	})
}

// View returns the current view of one device.
func (s *Session) View(ctx context.Context, id string) (DeviceView, bool, error) {
	var (
		view  DeviceView
		found bool
	)
	err := s.do(ctx, func() {
		d, ok := s.store.Get(id)
		if !ok {
			return
		}
		found = true
		view = DeviceView{
			Device:            d,
			FenceState:        s.fence.State(id),
			MovementViolation: s.movement.InViolation(id),
		}
	})
	return view, found, err
}

// SetFence arms or disarms the fence of a device in view. The change is
// shown immediately, written once, then confirmed or rolled back.
func (s *Session) SetFence(ctx context.Context, id string, enabled bool) error {
	return s.edit(ctx, id, func(d models.Device) (models.AlertPatch, error) {
		if enabled {
			return s.gateway.PlanEnableFence(d.Position)
		}
		return s.gateway.PlanDisableFence(), nil
	})
}

// SetMovementWindow arms or disarms the quiet-hours rule of a device in
// view. Malformed bounds fail before anything is applied or written.
func (s *Session) SetMovementWindow(ctx context.Context, id string, enabled bool, start, end string) error {
	return s.edit(ctx, id, func(d models.Device) (models.AlertPatch, error) {
		if enabled {
			return s.gateway.PlanEnableMovementWindow(d.Position, start, end)
		}
		return s.gateway.PlanDisableMovementWindow(), nil
	})
}

func (s *Session) edit(ctx context.Context, id string, plan func(models.Device) (models.AlertPatch, error)) error {
	if s.gateway == nil {
		return errors.New("watch session is read-only")
	}

	var (
		patch   models.AlertPatch
		tok     devicestate.Token
		planErr error
	)
	err := s.do(ctx, func() {
		d, ok := s.store.Get(id)
		if !ok {
			planErr = devicestate.ErrUnknownDevice
			return
		}
		patch, planErr = plan(d)
		if planErr != nil {
			return
		}
		tok, planErr = s.store.ApplyOptimisticUpdate(id, patch)
		if planErr == nil {
			s.publish(id)
		}
	})
	if err != nil {
		return err
	}
	if planErr != nil {
		return planErr
	}

	// The write runs off the loop so notifications keep flowing meanwhile.
	// Once applied optimistically it must land, so it no longer follows ctx.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	writeErr := s.gateway.Write(writeCtx, id, patch)
	cancel()

	resolveErr := s.do(context.Background(), func() {
		if writeErr == nil {
			s.store.Confirm(tok)
			return
		}
		if s.store.Rollback(tok) {
			metrics.IncOptimisticRollback()
			s.emit(Event{Type: EventRollback, DeviceID: id, Error: writeErr.Error()})
			s.publish(id)
		}
	})
	if errors.Is(resolveErr, ErrClosed) {
		logrus.WithField("device_id", id).Debug("Session closed before alert write resolved, discarding token.")
	}
	return writeErr
}
