package notify

import (
	"sync"
	"time"

	"github.com/corralproject/corral/pkg/types"
)

// Lease notification types. Event successes publish "lease.event.<type>".
const (
	LeaseCreated = "lease.create"
	LeaseUpdated = "lease.update"
	LeaseDeleted = "lease.delete"

	EventPrefix = "lease.event."
)

// Notification is the fixed payload emitted to the notification sink
// after successful lease operations and event executions.
type Notification struct {
	Type      string
	LeaseID   string
	LeaseName string
	UserID    string
	ProjectID string
	StartDate time.Time
	EndDate   time.Time
	At        time.Time
}

// FromLease builds the notification payload for a lease
func FromLease(notificationType string, lease *types.Lease) *Notification {
	return &Notification{
		Type:      notificationType,
		LeaseID:   lease.ID,
		LeaseName: lease.Name,
		UserID:    lease.UserID,
		ProjectID: lease.ProjectID,
		StartDate: lease.StartDate,
		EndDate:   lease.EndDate,
	}
}

// Subscriber is a channel that receives notifications
type Subscriber chan *Notification

// Broker manages notification subscriptions and distribution
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	notifyCh    chan *Notification
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewBroker creates a new notification broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		notifyCh:    make(chan *Notification, 100), // Buffer up to 100 notifications
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50) // Buffer per subscriber
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes a notification to all subscribers
func (b *Broker) Publish(n *Notification) {
	if n.At.IsZero() {
		n.At = time.Now().UTC()
	}

	select {
	case b.notifyCh <- n:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case n := <-b.notifyCh:
			b.broadcast(n)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(n *Notification) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- n:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
