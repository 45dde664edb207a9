// Package backend persists devices, alert configuration and position
// history, and announces every committed device change on the change feed.
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"tag_tracker/internal/geo"
	"tag_tracker/internal/models"
)

// Repo is the gorm-backed device store.
type Repo struct {
	db *gorm.DB
}

// Migrate creates or updates the tables the service needs.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&models.User{}, &models.Device{}, &models.PositionSample{})
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// DB exposes the handle for health checks.
func (r *Repo) DB() *gorm.DB {
	return r.db
}

// FetchDevice loads one linked device.
func (r *Repo) FetchDevice(ctx context.Context, id string) (models.Device, error) {
	var d models.Device
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Device{}, ErrDeviceNotFound
	}
	if err != nil {
		return models.Device{}, fmt.Errorf("fetch device %s: %w", id, err)
	}
	return d, nil
}

// fetchAny loads a device including unlinked ones, for change notifications.
func (r *Repo) fetchAny(ctx context.Context, id string) (models.Device, error) {
	var d models.Device
	err := r.db.WithContext(ctx).Unscoped().Where("id = ?", id).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Device{}, ErrDeviceNotFound
	}
	if err != nil {
		return models.Device{}, fmt.Errorf("fetch device %s: %w", id, err)
	}
	return d, nil
}

// FetchFleet loads every linked device of an owner.
func (r *Repo) FetchFleet(ctx context.Context, ownerID uint) ([]models.Device, error) {
	var devices []models.Device
	if err := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("id").Find(&devices).Error; err != nil {
		return nil, fmt.Errorf("fetch fleet of owner %d: %w", ownerID, err)
	}
	return devices, nil
}

// ListAllDevices loads every linked device.
func (r *Repo) ListAllDevices(ctx context.Context) ([]models.Device, error) {
	var devices []models.Device
	if err := r.db.WithContext(ctx).Order("id").Find(&devices).Error; err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return devices, nil
}

// FindBySerial resolves a tag serial to its linked device.
func (r *Repo) FindBySerial(ctx context.Context, serial string) (models.Device, error) {
	var d models.Device
	err := r.db.WithContext(ctx).Where("tag_serial = ?", serial).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Device{}, ErrDeviceNotFound
	}
	if err != nil {
		return models.Device{}, fmt.Errorf("find device by serial: %w", err)
	}
	return d, nil
}

// CreateDevice inserts a newly linked device.
func (r *Repo) CreateDevice(ctx context.Context, d *models.Device) error {
	err := r.db.WithContext(ctx).Create(d).Error
	if isUniqueViolation(err) {
		return ErrSerialInUse
	}
	return err
}

// SoftDelete unlinks a device. Its position samples are kept.
func (r *Repo) SoftDelete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Device{})
	if res.Error != nil {
		return fmt.Errorf("unlink device %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// WriteAlertConfig persists an alert patch. Only alert columns are written.
func (r *Repo) WriteAlertConfig(ctx context.Context, id string, patch models.AlertPatch) error {
	if patch.Empty() {
		return nil
	}
	var values models.Device
	patch.ApplyTo(&values)

	res := r.db.WithContext(ctx).Model(&models.Device{}).
		Where("id = ?", id).
		Select(patch.Columns()).
		Updates(&values)
	if res.Error != nil {
		return fmt.Errorf("write alert config of %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// UpdateTelemetry writes the last known position of a device unless a
// newer fix is already stored.
func (r *Repo) UpdateTelemetry(ctx context.Context, id string, pos geo.Point, address string, at time.Time) error {
	at = at.UTC()
	values := models.Device{Position: &pos, Address: address, LastCommunicationAt: &at}
	cols := []string{"position", "last_communication_at"}
	if address != "" {
		cols = append(cols, "address")
	}
	res := r.db.WithContext(ctx).Model(&models.Device{}).
		Where("id = ? AND (last_communication_at IS NULL OR last_communication_at <= ?)", id, at).
		Select(cols).
		Updates(&values)
	if res.Error != nil {
		return fmt.Errorf("update telemetry of %s: %w", id, res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var n int64
	if err := r.db.WithContext(ctx).Model(&models.Device{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return fmt.Errorf("update telemetry of %s: %w", id, err)
	}
	if n == 0 {
		return ErrDeviceNotFound
	}
	return ErrStalePosition
}

// AppendPositionSample stores one history entry.
func (r *Repo) AppendPositionSample(ctx context.Context, s *models.PositionSample) error {
	if s.ID != 0 {
		return fmt.Errorf("position samples are append-only, got existing id %d", s.ID)
	}
	return r.db.WithContext(ctx).Create(s).Error
}

// LastPositionSample returns the newest stored sample of a device by insert
// order.
func (r *Repo) LastPositionSample(ctx context.Context, deviceID string) (models.PositionSample, bool, error) {
	var s models.PositionSample
	err := r.db.WithContext(ctx).Where("device_id = ?", deviceID).Order("id desc").First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.PositionSample{}, false, nil
	}
	if err != nil {
		return models.PositionSample{}, false, fmt.Errorf("last sample of %s: %w", deviceID, err)
	}
	return s, true, nil
}

// History is a device's position history. Timed samples carry a
// device-reported timestamp and are ordered by it; Untimed samples lack one
// and are ordered by insert time. The two are never interleaved.
type History struct {
	Timed   []models.PositionSample `json:"timed"`
	Untimed []models.PositionSample `json:"untimed"`
}

// ListHistory returns samples in [from, to). Zero bounds are open.
func (r *Repo) ListHistory(ctx context.Context, deviceID string, from, to time.Time, limit int) (History, error) {
	if limit <= 0 {
		limit = 1000
	}
	if limit > 10000 {
		limit = 10000
	}

	var h History
	timed := r.db.WithContext(ctx).Where("device_id = ? AND reported_at IS NOT NULL", deviceID)
	if !from.IsZero() {
		timed = timed.Where("reported_at >= ?", from)
	}
	if !to.IsZero() {
		timed = timed.Where("reported_at < ?", to)
	}
	if err := timed.Order("reported_at asc, id asc").Limit(limit).Find(&h.Timed).Error; err != nil {
		return History{}, fmt.Errorf("list timed history of %s: %w", deviceID, err)
	}

	untimed := r.db.WithContext(ctx).Where("device_id = ? AND reported_at IS NULL", deviceID)
	if !from.IsZero() {
		untimed = untimed.Where("created_at >= ?", from)
	}
	if !to.IsZero() {
		untimed = untimed.Where("created_at < ?", to)
	}
	if err := untimed.Order("created_at asc, id asc").Limit(limit).Find(&h.Untimed).Error; err != nil {
		return History{}, fmt.Errorf("list untimed history of %s: %w", deviceID, err)
	}
	return h, nil
}

// CreateUser inserts a user account.
func (r *Repo) CreateUser(ctx context.Context, u *models.User) error {
	err := r.db.WithContext(ctx).Create(u).Error
	if isUniqueViolation(err) {
		return ErrEmailInUse
	}
	return err
}

// FindUserByEmail loads a user for login.
func (r *Repo) FindUserByEmail(ctx context.Context, email string) (models.User, error) {
	var u models.User
	err := r.db.WithContext(ctx).Where("email = ?", email).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.User{}, ErrUserNotFound
	}
	return u, err
}
