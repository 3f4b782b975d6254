package service

import "sync"

// Event reports that part of a session's state changed.
type Event struct {
	Session string
	Kind    string // a mapview.ChangeKind, or KindClosed
}

// KindClosed is published once a session is deleted.
const KindClosed = "closed"

// EventBus fans session events out to stream subscribers. Slow subscribers
// miss events instead of blocking publishers.
type EventBus struct {
	mu   sync.RWMutex
	subs map[chan Event]string // session filter, "" for all
}

func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[chan Event]string)}
}

// Publish delivers e to every subscriber of e.Session without blocking.
func (b *EventBus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch, session := range b.subs {
		if session != "" && session != e.Session {
			continue
		}
		select {
		case ch <- e:
		default:
			BusDropped.Inc()
		}
	}
}

// Subscribe returns a channel receiving the events of session, or of every
// session when session is empty.
func (b *EventBus) Subscribe(session string) chan Event {
	ch := make(chan Event, 32)
	b.mu.Lock()
	b.subs[ch] = session
	b.mu.Unlock()
	return ch
}

// Unsubscribe closes ch. Calling it twice is a no-op.
func (b *EventBus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; !ok {
		return
	}
	delete(b.subs, ch)
	close(ch)
}

// DefaultBus is used by sessions created without their own bus.
var DefaultBus = NewEventBus()
