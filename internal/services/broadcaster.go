package services

import (
	"sync"

	"github.com/titlesync/backend/internal/models"
)

type EventType string

const (
	EventCreated EventType = "created"
	EventUpdated EventType = "updated"
	EventDeleted EventType = "deleted"
)

// Event tells observers that a job changed. Job is nil for deletions.
type Event struct {
	Type EventType   `json:"type"`
	ID   string      `json:"id"`
	Job  *models.Job `json:"job,omitempty"`
}

// Subscription receives events until it is unsubscribed.
type Subscription struct {
	C chan Event
}

// Broadcaster fans events out to every current subscriber. A subscriber
// whose buffer is full misses the event; Publish never blocks.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[*Subscription]struct{}
	buffer      int
}

func NewBroadcaster(buffer int) *Broadcaster {
	if buffer < 1 {
		buffer = 16
	}
	return &Broadcaster{
		subscribers: make(map[*Subscription]struct{}),
		buffer:      buffer,
	}
}

func (b *Broadcaster) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &Subscription{C: make(chan Event, b.buffer)}
	b.subscribers[sub] = struct{}{}
	return sub
}

// Unsubscribe removes sub and closes its channel. Repeated calls are no-ops.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	close(sub.C)
}

func (b *Broadcaster) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subscribers {
		select {
		case sub.C <- ev:
		default:
			// subscriber is behind, drop
		}
	}
}

func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
