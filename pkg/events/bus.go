// Package events delivers ordered progress notifications for a deploy or
// destroy operation. Events are ephemeral: late subscribers receive nothing
// from the past and consult the state store for the current overall state.
package events

import (
	"sync"
)

// Status is the phase of a pipeline step an event reports.
type Status string

const (
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// Event is one progress notification. Step numbers are 1-based and
// monotonically non-decreasing within one operation; TotalSteps is fixed
// before the operation starts.
type Event struct {
	Step       int    `json:"step"`
	TotalSteps int    `json:"total_steps"`
	Message    string `json:"message"`
	Status     Status `json:"status"`
}

// Terminal reports whether the event ends its operation.
func (e Event) Terminal() bool {
	return e.Status == StatusDone || e.Status == StatusError
}

const subscriberBuffer = 64

// Bus fans events out to subscribers in publish order. Delivery happens
// under one lock so no subscriber can observe step n+1 before step n; a
// subscriber that falls more than subscriberBuffer events behind loses
// events rather than stalling the pipeline.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a new observer. The returned cancel function must be
// called when the observer is done; the channel is closed by cancel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers an event to every current subscriber.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is not draining; drop rather than block the
			// pipeline. The state store remains authoritative.
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
