// Package events provides in-process fan-out of job state transitions.
package events

import (
	"sync"

	"github.com/google/uuid"
)

// Kind identifies a job lifecycle event.
type Kind string

const (
	JobCreated   Kind = "job:created"
	JobStarted   Kind = "job:started"
	JobProgress  Kind = "job:progress"
	JobCompleted Kind = "job:completed"
	JobError     Kind = "job:error"
)

// Event is one job state transition as delivered to subscribers.
type Event struct {
	Kind     Kind      `json:"kind"`
	JobID    uuid.UUID `json:"job_id"`
	FilePath string    `json:"file_path"`
	Status   string    `json:"status"`
	Progress int       `json:"progress,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// Handler receives events. Delivery is synchronous with Publish; handlers
// that may block should hand off to their own goroutine or channel.
type Handler func(Event)

// Broker is a mutex-guarded registry of subscribers.
type Broker struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]Handler
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[int]Handler)}
}

// Subscribe registers a handler and returns its subscription ID.
func (b *Broker) Subscribe(h Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.subs[b.nextID] = h
	return b.nextID
}

// Unsubscribe removes a subscription. Unknown IDs are ignored.
func (b *Broker) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Publish delivers the event to every subscriber on the caller's goroutine.
// The snapshot is taken under the lock so handlers may unsubscribe while
// being invoked.
func (b *Broker) Publish(e Event) {
	b.mu.Lock()
	handlers := make([]Handler, 0, len(b.subs))
	for _, h := range b.subs {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(e)
	}
}

// Len returns the number of active subscriptions.
func (b *Broker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
