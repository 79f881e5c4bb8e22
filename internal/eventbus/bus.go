// Package eventbus decouples the lifecycle core from observers (the
// sd_notify loop, tests) with a small in-process fanout.
package eventbus

import (
	"sync"
	"time"
)

// Well-known event kinds published by the supervisor core.
const (
	KindStateChange = "supervisor.state"
	KindJobStarted  = "job.started"
	KindJobFinished = "job.finished"
	KindJobSkipped  = "job.skipped"
	KindChildExit   = "child.exit"
)

// Event is a lightweight, in-memory signal.
//
// Contract: Publish never blocks, so subscribers use buffered channels
// and slow ones lose events. Data should be small.
type Event struct {
	Kind string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{}
}

// Emit is shorthand for publishing a kind+payload with the current time.
// A nil bus swallows the event.
func Emit(b Bus, kind string, data any) {
	if b == nil {
		return
	}
	b.Publish(Event{Kind: kind, Time: time.Now(), Data: data})
}

type subscriber struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

func (s *subscriber) deliver(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- e:
	default: // slow subscriber, drop
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

type memBus struct {
	mu   sync.RWMutex
	subs []*subscriber
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()
	for _, s := range subs {
		s.deliver(e)
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	sub := &subscriber{ch: make(chan Event, buffer)}

	b.mu.Lock()
	b.subs = append(append([]*subscriber(nil), b.subs...), sub)
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		next := make([]*subscriber, 0, len(b.subs))
		for _, s := range b.subs {
			if s != sub {
				next = append(next, s)
			}
		}
		b.subs = next
		b.mu.Unlock()
		sub.close()
	}
	return sub.ch, unsub
}
