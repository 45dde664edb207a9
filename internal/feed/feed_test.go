package feed

import (
	"testing"

	"tag_tracker/internal/models"
)

func TestFilterMatches(t *testing.T) {
	d := models.Device{ID: "a", OwnerID: 3}
	cases := []struct {
		f    Filter
		want bool
	}{
		{Filter{DeviceID: "a"}, true},
		{Filter{DeviceID: "b"}, false},
		{Filter{OwnerID: 3}, true},
		{Filter{OwnerID: 4}, false},
		{Filter{All: true}, true},
		{Filter{}, false},
	}
	for _, c := range cases {
		if got := c.f.Matches(d); got != c.want {
			t.Fatalf("%+v: expected %v, got %v", c.f, c.want, got)
		}
	}
}

func TestPublishDeliversInOrderToMatchingSubscribers(t *testing.T) {
	f := New(8)
	single := f.Subscribe(Filter{DeviceID: "a"})
	fleet := f.Subscribe(Filter{OwnerID: 1})
	other := f.Subscribe(Filter{OwnerID: 2})

	f.Publish(models.Device{ID: "a", OwnerID: 1, Name: "first"})
	f.Publish(models.Device{ID: "b", OwnerID: 1})
	f.Publish(models.Device{ID: "a", OwnerID: 1, Name: "second"})

	if got := (<-single.Updates()).Name; got != "first" {
		t.Fatalf("expected first, got %q", got)
	}
	if got := (<-single.Updates()).Name; got != "second" {
		t.Fatalf("expected second, got %q", got)
	}
	if n := len(fleet.Updates()); n != 3 {
		t.Fatalf("expected 3 fleet updates, got %d", n)
	}
	if n := len(other.Updates()); n != 0 {
		t.Fatalf("expected no updates for other owner, got %d", n)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	f := New(4)
	s := f.Subscribe(Filter{All: true})
	s.Unsubscribe()
	s.Unsubscribe()

	f.Publish(models.Device{ID: "a"})
	if _, ok := <-s.Updates(); ok {
		t.Fatalf("expected closed channel after unsubscribe")
	}
	if f.Len() != 0 {
		t.Fatalf("expected no subscriptions, got %d", f.Len())
	}
}

func TestSlowSubscriberEvicted(t *testing.T) {
	f := New(1)
	slow := f.Subscribe(Filter{All: true})
	f.Publish(models.Device{ID: "a"})
	f.Publish(models.Device{ID: "b"})

	if d, ok := <-slow.Updates(); !ok || d.ID != "a" {
		t.Fatalf("expected buffered update before close, got %+v %v", d, ok)
	}
	if _, ok := <-slow.Updates(); ok {
		t.Fatalf("expected evicted subscriber channel to be closed")
	}
	slow.Unsubscribe()
	if f.Len() != 0 {
		t.Fatalf("expected eviction to drop the subscription")
	}
}
