package events

import (
	"sync"
	"testing"

	"github.com/benaskins/devdeck/internal/relay"
)

func TestPublishWithoutSubscribersIsDropped(t *testing.T) {
	b := NewBus()
	// Must not block or panic.
	b.Publish(Event{Kind: ProjectOutput, PID: 1, Line: "lost"})
	if b.Subscribers() != 0 {
		t.Errorf("expected no subscribers")
	}
}

func TestSubscribersReceiveInOrder(t *testing.T) {
	b := NewBus()
	var order []string
	b.Subscribe(func(ev Event) { order = append(order, "first:"+ev.Line) })
	b.Subscribe(func(ev Event) { order = append(order, "second:"+ev.Line) })

	b.Publish(Event{Kind: ProjectOutput, Line: "x"})

	if len(order) != 2 || order[0] != "first:x" || order[1] != "second:x" {
		t.Errorf("unexpected delivery order: %v", order)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := NewBus()
	count := 0
	cancel := b.Subscribe(func(Event) { count++ })

	b.Publish(Event{Kind: TaskStatus})
	cancel()
	cancel() // idempotent
	b.Publish(Event{Kind: TaskStatus})

	if count != 1 {
		t.Errorf("expected 1 delivery, got %d", count)
	}
	if b.Subscribers() != 0 {
		t.Errorf("expected no subscribers after cancel, got %d", b.Subscribers())
	}
}

func TestUnsubscribeKeepsOthers(t *testing.T) {
	b := NewBus()
	var a, c int
	b.Subscribe(func(Event) { a++ })
	cancel := b.Subscribe(func(Event) {})
	b.Subscribe(func(Event) { c++ })

	cancel()
	b.Publish(Event{})

	if a != 1 || c != 1 {
		t.Errorf("expected remaining subscribers to receive, got a=%d c=%d", a, c)
	}
}

func TestPublishStampsTime(t *testing.T) {
	b := NewBus()
	var got Event
	b.Subscribe(func(ev Event) { got = ev })
	b.Publish(Event{Kind: ProjectExit})
	if got.Time.IsZero() {
		t.Error("expected Publish to stamp the event time")
	}
}

func TestFromLine(t *testing.T) {
	out := FromLine(relay.Line{PID: 4, Kind: relay.Stdout, Text: "hello"})
	if out.Kind != ProjectOutput || out.PID != 4 || out.Line != "hello" {
		t.Errorf("unexpected stdout event %+v", out)
	}
	errEv := FromLine(relay.Line{PID: 4, Kind: relay.Stderr, Text: "world"})
	if errEv.Kind != ProjectError {
		t.Errorf("expected project-error, got %s", errEv.Kind)
	}
}

func TestConcurrentPublishSubscribe(t *testing.T) {
	b := NewBus()
	var mu sync.Mutex
	received := 0

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cancel := b.Subscribe(func(Event) {
				mu.Lock()
				received++
				mu.Unlock()
			})
			for j := 0; j < 10; j++ {
				b.Publish(Event{Kind: ProjectOutput})
			}
			cancel()
		}()
	}
	wg.Wait()

	if b.Subscribers() != 0 {
		t.Errorf("expected all subscriptions cancelled, got %d", b.Subscribers())
	}
	if received < 100 {
		t.Errorf("each publisher should at least reach itself, got %d deliveries", received)
	}
}
