// Package devicestate holds the cached device records of one viewing
// context and reconciles optimistic alert-config edits with the change
// notifications the backend pushes later.
//
// A Store is not safe for concurrent use. It is owned by a single goroutine
// (see package watch) and every method runs to completion without blocking.
package devicestate

import (
	"errors"
	"sort"
	"time"

	"tag_tracker/internal/models"
)

var ErrUnknownDevice = errors.New("device not in view")

// Token identifies one outstanding optimistic patch.
type Token struct {
	ID       uint64
	DeviceID string
	epoch    uint64
}

type pendingPatch struct {
	token  Token
	fields []models.AlertField
	stamp  time.Time
	before models.Device
}

type entry struct {
	device            models.Device
	confirmedFence    models.FenceAlert
	confirmedMovement models.MovementAlert
}

// RemoteResult describes what ApplyRemoteUpdate did.
type RemoteResult struct {
	Device   models.Device
	Removed  bool
	Inserted bool
	// Deferred lists alert fields kept at their optimistic value because a
	// pending patch is newer than the notification.
	Deferred []models.AlertField
}

// Store is the in-memory view of the devices of one viewing context.
type Store struct {
	epoch   uint64
	nextID  uint64
	entries map[string]*entry
	pending map[uint64]*pendingPatch
}

func New() *Store {
	return &Store{
		entries: make(map[string]*entry),
		pending: make(map[uint64]*pendingPatch),
	}
}

// Reset replaces the whole view. Tokens issued before the reset become
// stale.
func (s *Store) Reset(devices []models.Device) {
	s.epoch++
	s.entries = make(map[string]*entry, len(devices))
	s.pending = make(map[uint64]*pendingPatch)
	for _, d := range devices {
		if d.Removed() {
			continue
		}
		s.entries[d.ID] = newEntry(d)
	}
}

func newEntry(d models.Device) *entry {
	d = d.Clone()
	return &entry{
		device:            d,
		confirmedFence:    d.FenceAlert.Clone(),
		confirmedMovement: d.MovementAlert.Clone(),
	}
}

// Get returns a copy of the cached record.
func (s *Store) Get(id string) (models.Device, bool) {
	e, ok := s.entries[id]
	if !ok {
		return models.Device{}, false
	}
	return e.device.Clone(), true
}

// Snapshot returns copies of all cached records ordered by id.
func (s *Store) Snapshot() []models.Device {
	out := make([]models.Device, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.device.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) Len() int {
	return len(s.entries)
}

// Pending reports whether any optimistic patch is outstanding for the
// device field.
func (s *Store) Pending(id string, field models.AlertField) bool {
	_, ok := s.pendingStamp(id, field)
	return ok
}

// ApplyRemoteUpdate applies a change notification. Telemetry fields always
// win. An alert field is kept at its optimistic value while a patch for it
// is outstanding, unless the notification carries a newer change stamp.
func (s *Store) ApplyRemoteUpdate(d models.Device) RemoteResult {
	if d.Removed() {
		s.Remove(d.ID)
		return RemoteResult{Device: d.Clone(), Removed: true}
	}

	e, ok := s.entries[d.ID]
	if !ok {
		e = newEntry(d)
		s.entries[d.ID] = e
		return RemoteResult{Device: e.device.Clone(), Inserted: true}
	}

	remote := d.Clone()
	e.confirmedFence = remote.FenceAlert.Clone()
	e.confirmedMovement = remote.MovementAlert.Clone()

	var deferred []models.AlertField
	if s.keepOptimistic(d.ID, models.FieldFence, remote.FenceAlert.ChangedAt) {
		remote.FenceAlert = e.device.FenceAlert
		deferred = append(deferred, models.FieldFence)
	}
	if s.keepOptimistic(d.ID, models.FieldMovement, remote.MovementAlert.ChangedAt) {
		remote.MovementAlert = e.device.MovementAlert
		deferred = append(deferred, models.FieldMovement)
	}
	e.device = remote

	return RemoteResult{Device: e.device.Clone(), Deferred: deferred}
}

func (s *Store) keepOptimistic(id string, field models.AlertField, remoteChangedAt *time.Time) bool {
	stamp, ok := s.pendingStamp(id, field)
	if !ok {
		return false
	}
	return remoteChangedAt == nil || !remoteChangedAt.After(stamp)
}

// pendingStamp returns the newest stamp of the patches covering the field.
func (s *Store) pendingStamp(id string, field models.AlertField) (time.Time, bool) {
	var newest time.Time
	found := false
	for _, p := range s.pending {
		if p.token.DeviceID != id {
			continue
		}
		for _, f := range p.fields {
			if f != field {
				continue
			}
			if !found || p.stamp.After(newest) {
				newest = p.stamp
			}
			found = true
		}
	}
	return newest, found
}

// Remove drops a device from the view together with its pending patches.
func (s *Store) Remove(id string) {
	delete(s.entries, id)
	for tid, p := range s.pending {
		if p.token.DeviceID == id {
			delete(s.pending, tid)
		}
	}
}

// ApplyOptimisticUpdate merges patch into the cached record before the
// backend confirms it and returns the token needed to confirm or roll it
// back.
func (s *Store) ApplyOptimisticUpdate(id string, patch models.AlertPatch) (Token, error) {
	e, ok := s.entries[id]
	if !ok {
		return Token{}, ErrUnknownDevice
	}

	s.nextID++
	tok := Token{ID: s.nextID, DeviceID: id, epoch: s.epoch}
	stamp := patch.ChangedAt()
	if stamp.IsZero() {
		stamp = time.Now()
	}
	s.pending[tok.ID] = &pendingPatch{
		token:  tok,
		fields: patch.Fields(),
		stamp:  stamp,
		before: e.device.Clone(),
	}
	patch.ApplyTo(&e.device)
	return tok, nil
}

func (s *Store) lookup(tok Token) (*pendingPatch, *entry, bool) {
	if tok.epoch != s.epoch {
		return nil, nil, false
	}
	p, ok := s.pending[tok.ID]
	if !ok {
		return nil, nil, false
	}
	e, ok := s.entries[tok.DeviceID]
	if !ok {
		delete(s.pending, tok.ID)
		return nil, nil, false
	}
	return p, e, true
}

// Rollback undoes an optimistic patch after its write failed. Each field of
// the patch returns to the last value the backend confirmed, unless a newer
// patch still covers it. With no notification in between this is exactly
// the pre-patch record. Stale or already resolved tokens are ignored.
func (s *Store) Rollback(tok Token) bool {
	p, e, ok := s.lookup(tok)
	if !ok {
		return false
	}
	delete(s.pending, tok.ID)

	for _, f := range p.fields {
		if _, covered := s.pendingStamp(tok.DeviceID, f); covered {
			continue
		}
		switch f {
		case models.FieldFence:
			e.device.FenceAlert = e.confirmedFence.Clone()
		case models.FieldMovement:
			e.device.MovementAlert = e.confirmedMovement.Clone()
		}
	}
	return true
}

// Before returns the record as it was when the patch was applied.
func (s *Store) Before(tok Token) (models.Device, bool) {
	p, _, ok := s.lookup(tok)
	if !ok {
		return models.Device{}, false
	}
	return p.before.Clone(), true
}

// Confirm marks an optimistic patch as persisted. Its values become the
// confirmed baseline for later rollbacks.
func (s *Store) Confirm(tok Token) bool {
	p, e, ok := s.lookup(tok)
	if !ok {
		return false
	}
	delete(s.pending, tok.ID)

	for _, f := range p.fields {
		if _, covered := s.pendingStamp(tok.DeviceID, f); covered {
			continue
		}
		switch f {
		case models.FieldFence:
			e.confirmedFence = e.device.FenceAlert.Clone()
		case models.FieldMovement:
			e.confirmedMovement = e.device.MovementAlert.Clone()
		}
	}
	return true
}
