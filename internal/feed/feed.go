// Package feed fans device change notifications out to subscribers. Each
// subscriber receives the notifications matching its filter in publish
// order over its own buffered channel.
package feed

import (
	"sync"

	"github.com/sirupsen/logrus"

	"tag_tracker/internal/models"
)

const defaultBuffer = 64

// Filter selects the devices a subscriber is interested in. A DeviceID
// selects one device, an OwnerID a fleet, All every device.
type Filter struct {
	DeviceID string
	OwnerID  uint
	All      bool
}

// Matches reports whether d passes the filter.
func (f Filter) Matches(d models.Device) bool {
	switch {
	case f.All:
		return true
	case f.DeviceID != "":
		return d.ID == f.DeviceID
	case f.OwnerID != 0:
		return d.OwnerID == f.OwnerID
	default:
		return false
	}
}

// Subscription is one registered subscriber.
type Subscription struct {
	feed    *Feed
	filter  Filter
	updates chan models.Device
	once    sync.Once
}

// Updates returns the notification channel. It is closed on Unsubscribe or
// when the feed evicts a subscriber that fell behind.
func (s *Subscription) Updates() <-chan models.Device {
	return s.updates
}

// Filter returns the filter the subscription was created with.
func (s *Subscription) Filter() Filter {
	return s.filter
}

// Unsubscribe releases the subscription. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.feed.remove(s)
}

// Feed manages subscriptions and broadcasts device updates.
type Feed struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	buffer int
}

// New creates a feed whose subscribers buffer up to buffer notifications.
func New(buffer int) *Feed {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Feed{
		subs:   make(map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// Subscribe registers a new subscriber.
func (f *Feed) Subscribe(filter Filter) *Subscription {
	s := &Subscription{
		feed:    f,
		filter:  filter,
		updates: make(chan models.Device, f.buffer),
	}
	f.mu.Lock()
	f.subs[s] = struct{}{}
	count := len(f.subs)
	f.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"device_id":     filter.DeviceID,
		"owner_id":      filter.OwnerID,
		"all":           filter.All,
		"subscriptions": count,
	}).Debug("Change feed subscriber registered.")
	return s
}

func (f *Feed) remove(s *Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeLocked(s)
}

func (f *Feed) removeLocked(s *Subscription) {
	if _, ok := f.subs[s]; !ok {
		return
	}
	delete(f.subs, s)
	s.once.Do(func() { close(s.updates) })
}

// Publish delivers d to every matching subscriber. A subscriber whose buffer
// is full is evicted: its channel is closed so its owner can resync instead
// of silently missing an update.
func (f *Feed) Publish(d models.Device) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for s := range f.subs {
		if !s.filter.Matches(d) {
			continue
		}
		select {
		case s.updates <- d.Clone():
		default:
			logrus.WithFields(logrus.Fields{
				"device_id": d.ID,
				"filter":    s.filter,
			}).Warn("Change feed subscriber fell behind, evicting.")
			f.removeLocked(s)
		}
	}
}

// Len returns the number of live subscriptions.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}
