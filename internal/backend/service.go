package backend

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"tag_tracker/internal/feed"
	"tag_tracker/internal/geo"
	"tag_tracker/internal/models"
)

// Actor is the authenticated caller of a device operation.
type Actor struct {
	UserID uint
	Admin  bool
}

// CanAccess reports whether the actor may see or modify d.
func (a Actor) CanAccess(d models.Device) bool {
	return a.Admin || (a.UserID != 0 && d.OwnerID == a.UserID)
}

// Notifier forwards "device changed" signals to every service instance.
// Without one, changes are published straight to the local feed.
type Notifier interface {
	Notify(ctx context.Context, deviceID string) error
}

// Service ties the repository to the change feed: every committed device
// mutation is announced exactly once, and announcements of one device leave
// in commit order.
type Service struct {
	repo     *Repo
	feed     *feed.Feed
	notifier Notifier
	locks    *deviceLocks
}

func NewService(repo *Repo, f *feed.Feed, notifier Notifier) *Service {
	return &Service{repo: repo, feed: f, notifier: notifier, locks: newDeviceLocks()}
}

func (s *Service) Repo() *Repo {
	return s.repo
}

// FetchDevice is the one-shot read used before the first notification.
func (s *Service) FetchDevice(ctx context.Context, id string) (models.Device, error) {
	return s.repo.FetchDevice(ctx, id)
}

// FetchFleet loads an owner's devices.
func (s *Service) FetchFleet(ctx context.Context, ownerID uint) ([]models.Device, error) {
	return s.repo.FetchFleet(ctx, ownerID)
}

// FetchAll loads every device, for admin viewing contexts.
func (s *Service) FetchAll(ctx context.Context) ([]models.Device, error) {
	return s.repo.ListAllDevices(ctx)
}

// Subscribe opens a change-notification stream.
func (s *Service) Subscribe(filter feed.Filter) *feed.Subscription {
	return s.feed.Subscribe(filter)
}

// DeviceFor loads a device on behalf of actor.
func (s *Service) DeviceFor(ctx context.Context, actor Actor, id string) (models.Device, error) {
	d, err := s.repo.FetchDevice(ctx, id)
	if err != nil {
		return models.Device{}, err
	}
	if !actor.CanAccess(d) {
		return models.Device{}, ErrForbidden
	}
	return d, nil
}

// DevicesFor lists the devices visible to actor.
func (s *Service) DevicesFor(ctx context.Context, actor Actor) ([]models.Device, error) {
	if actor.Admin {
		return s.repo.ListAllDevices(ctx)
	}
	return s.repo.FetchFleet(ctx, actor.UserID)
}

// LinkDevice attaches a physical tag to an account.
func (s *Service) LinkDevice(ctx context.Context, ownerID uint, name, serial string) (models.Device, error) {
	d := models.Device{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Name:      strings.TrimSpace(name),
		TagSerial: strings.TrimSpace(serial),
	}
	unlock := s.locks.lock(d.ID)
	defer unlock()

	if err := s.repo.CreateDevice(ctx, &d); err != nil {
		return models.Device{}, err
	}
	logrus.WithFields(logrus.Fields{
		"device_id":  d.ID,
		"owner_id":   ownerID,
		"tag_serial": d.TagSerial,
	}).Info("Device linked.")
	s.announce(ctx, d.ID)
	return d, nil
}

// UnlinkDevice soft-deletes a device; alert evaluation stops, history stays.
func (s *Service) UnlinkDevice(ctx context.Context, actor Actor, id string) error {
	if _, err := s.DeviceFor(ctx, actor, id); err != nil {
		return err
	}
	unlock := s.locks.lock(id)
	defer unlock()

	if err := s.repo.SoftDelete(ctx, id); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"device_id": id, "user_id": actor.UserID}).Info("Device unlinked.")
	s.announce(ctx, id)
	return nil
}

// ResolveSerial maps a tag serial to its device id.
func (s *Service) ResolveSerial(ctx context.Context, serial string) (string, error) {
	d, err := s.repo.FindBySerial(ctx, serial)
	if err != nil {
		return "", err
	}
	return d.ID, nil
}

// WriteAlertConfig persists an alert patch and announces the change. It is
// the only mutation path for alert fields.
func (s *Service) WriteAlertConfig(ctx context.Context, id string, patch models.AlertPatch) error {
	unlock := s.locks.lock(id)
	defer unlock()

	if err := s.repo.WriteAlertConfig(ctx, id, patch); err != nil {
		return err
	}
	s.announce(ctx, id)
	return nil
}

// UpdatePosition records the latest telemetry of a device and announces it.
// A fix older than the stored last communication returns ErrStalePosition
// and changes nothing.
func (s *Service) UpdatePosition(ctx context.Context, id string, pos geo.Point, address string, at time.Time) error {
	unlock := s.locks.lock(id)
	defer unlock()

	if err := s.repo.UpdateTelemetry(ctx, id, pos, address, at); err != nil {
		return err
	}
	s.announce(ctx, id)
	return nil
}

// AppendPositionSample stores a history entry.
func (s *Service) AppendPositionSample(ctx context.Context, sample *models.PositionSample) error {
	return s.repo.AppendPositionSample(ctx, sample)
}

// LastPositionSample returns the newest history entry of a device.
func (s *Service) LastPositionSample(ctx context.Context, id string) (models.PositionSample, bool, error) {
	return s.repo.LastPositionSample(ctx, id)
}

// History returns a device's position history on behalf of actor.
func (s *Service) History(ctx context.Context, actor Actor, id string, from, to time.Time, limit int) (History, error) {
	if _, err := s.DeviceFor(ctx, actor, id); err != nil {
		return History{}, err
	}
	return s.repo.ListHistory(ctx, id, from, to, limit)
}

// PublishChange reloads a device and publishes it to the local feed.
func (s *Service) PublishChange(ctx context.Context, id string) error {
	unlock := s.locks.lock(id)
	defer unlock()
	return s.publish(ctx, id)
}

// publish expects the device lock to be held.
func (s *Service) publish(ctx context.Context, id string) error {
	d, err := s.repo.fetchAny(ctx, id)
	if err != nil {
		return err
	}
	s.feed.Publish(d)
	return nil
}

// announce never fails the caller: the mutation is already committed. It
// runs under the device lock and outlives a cancelled caller.
func (s *Service) announce(ctx context.Context, id string) {
	ctx = context.WithoutCancel(ctx)
	if s.notifier != nil {
		err := s.notifier.Notify(ctx, id)
		if err == nil {
			return
		}
		logrus.WithError(err).WithField("device_id", id).Warn("Change notification failed, publishing locally.")
	}
	if err := s.publish(ctx, id); err != nil {
		logrus.WithError(err).WithField("device_id", id).Error("Failed to publish device change.")
	}
}
