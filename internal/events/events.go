// Package events is a one-way, best-effort notification channel.
//
// Publishers never learn whether anyone was listening: an event published
// with no subscribers is dropped. Subscribers must tolerate gaps and poll
// authoritative state (the manager's process list and log tail) when they
// need certainty.
package events

import (
	"sync"
	"time"

	"github.com/benaskins/devdeck/internal/relay"
)

// Kind names an event.
type Kind string

const (
	ProjectOutput   Kind = "project-output"
	ProjectError    Kind = "project-error"
	ProjectExit     Kind = "project-exit"
	ProjectReady    Kind = "project-ready"
	ProjectsChanged Kind = "projects-changed"
	TaskStatus      Kind = "task-status"
)

// Event is a single notification. Fields not relevant to the kind are zero.
type Event struct {
	Kind     Kind      `json:"kind"`
	Time     time.Time `json:"time"`
	PID      int       `json:"pid,omitempty"`
	Line     string    `json:"line,omitempty"`
	ExitCode *int      `json:"exit_code,omitempty"`
	Task     string    `json:"task,omitempty"`
	Message  string    `json:"message,omitempty"`
	Path     string    `json:"path,omitempty"`
}

// FromLine converts a relayed output line into its event.
func FromLine(l relay.Line) Event {
	kind := ProjectOutput
	if l.Kind == relay.Stderr {
		kind = ProjectError
	}
	return Event{Kind: kind, Time: time.Now(), PID: l.PID, Line: l.Text}
}

// Publisher accepts events for delivery.
type Publisher interface {
	Publish(Event)
}

// Discard drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}

// Bus fans events out to subscribers. Handlers run synchronously on the
// publishing goroutine, in subscription order.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   []subscription
}

type subscription struct {
	id int
	fn func(Event)
}

// NewBus returns a bus with no subscribers.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers fn and returns a function that removes it.
func (b *Bus) Subscribe(fn func(Event)) (cancel func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish delivers ev to every current subscriber.
func (b *Bus) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, s := range subs {
		s.fn(ev)
	}
}

// Subscribers returns the current subscriber count.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
