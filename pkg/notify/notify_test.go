package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corralproject/corral/pkg/types"
)

func receive(t *testing.T, sub Subscriber) *Notification {
	t.Helper()
	select {
	case n := <-sub:
		return n
	case <-time.After(time.Second):
		t.Fatal("no notification received")
		return nil
	}
}

// TestBrokerDelivery tests fan-out to every subscriber
func TestBrokerDelivery(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	first := broker.Subscribe()
	second := broker.Subscribe()
	assert.Equal(t, 2, broker.SubscriberCount())

	broker.Publish(&Notification{Type: LeaseCreated, LeaseID: "lease-1"})

	for _, sub := range []Subscriber{first, second} {
		n := receive(t, sub)
		assert.Equal(t, LeaseCreated, n.Type)
		assert.Equal(t, "lease-1", n.LeaseID)
		assert.False(t, n.At.IsZero())
	}

	broker.Unsubscribe(first)
	assert.Equal(t, 1, broker.SubscriberCount())
}

// TestBrokerSkipsFullSubscriber tests that a subscriber that never
// drains fills to its buffer and is skipped, without stalling delivery
// to one that keeps up
func TestBrokerSkipsFullSubscriber(t *testing.T) {
	broker := NewBroker()

	slow := broker.Subscribe()
	fast := broker.Subscribe()

	total := cap(slow) + 10
	received := 0
	for i := 0; i < total; i++ {
		broker.broadcast(&Notification{Type: LeaseUpdated, LeaseID: "lease-1"})
		select {
		case <-fast:
			received++
		default:
		}
	}

	// The draining subscriber saw every notification; the stalled one
	// filled to its buffer and the excess was dropped
	assert.Equal(t, total, received)
	assert.Equal(t, cap(slow), len(slow))
}

// TestFromLease tests the notification payload mapping
func TestFromLease(t *testing.T) {
	start := time.Date(2030, 6, 1, 9, 0, 0, 0, time.UTC)
	lease := &types.Lease{
		ID: "lease-1", Name: "experiment",
		UserID: "user-1", ProjectID: "project-1",
		StartDate: start, EndDate: start.Add(2 * time.Hour),
	}

	n := FromLease(EventPrefix+string(types.EventTypeStartLease), lease)
	require.NotNil(t, n)
	assert.Equal(t, "lease.event.start_lease", n.Type)
	assert.Equal(t, "lease-1", n.LeaseID)
	assert.Equal(t, "experiment", n.LeaseName)
	assert.Equal(t, "user-1", n.UserID)
	assert.Equal(t, "project-1", n.ProjectID)
	assert.True(t, n.StartDate.Equal(start))
}
