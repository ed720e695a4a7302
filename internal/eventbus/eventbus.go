// Package eventbus is an in-process publish/subscribe hub for UI live
// updates — turn start/end, task changes, message arrival. Publishers
// (internal/dispatcher, internal/workflow, internal/router,
// internal/merge) call Bus.Publish; subscribers (the SSE façade, the
// status TUI) each own a bounded FIFO queue and drop the oldest event on
// overflow rather than block a publisher.
package eventbus

import (
	"sync"
	"time"
)

// Type is the event taxonomy. New members may be added; existing ones
// never change meaning.
type Type string

const (
	TurnStarted      Type = "turn_started"
	TurnEnded        Type = "turn_ended"
	TaskChanged      Type = "task_changed"
	MessageDelivered Type = "message_delivered"
	TeamsRefresh     Type = "teams_refresh"
	MergeStarted     Type = "merge_started"
	MergeSucceeded   Type = "merge_succeeded"
	MergeFailed      Type = "merge_failed"
	BossMessage      Type = "boss_message"
	RouteFailed      Type = "route_failed"
)

// Event is one published occurrence. Fields beyond Type/Timestamp are
// type-specific and populated only where relevant.
type Event struct {
	Type      Type
	Timestamp time.Time
	Team      string
	Agent     string
	TaskID    int64
	Sender    string
	Recipient string
	Error     string
}

// defaultQueueSize bounds each subscriber's FIFO. Overflowing publishes
// drop the oldest queued event rather than block.
const defaultQueueSize = 256

// Bus is the pub/sub hub. The zero value is not usable; use New.
type Bus struct {
	mu          sync.Mutex
	subscribers map[*Subscriber]struct{}
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subscribers: make(map[*Subscriber]struct{})}
}

// Subscriber is a bounded FIFO queue attached to one observer (an HTTP
// SSE connection, the status TUI).
type Subscriber struct {
	mu     sync.Mutex
	events []Event
	notify chan struct{}
	cap    int
}

// Subscribe registers a new subscriber and returns it. Call Unsubscribe
// when the observer disconnects.
func (b *Bus) Subscribe() *Subscriber {
	s := &Subscriber{
		notify: make(chan struct{}, 1),
		cap:    defaultQueueSize,
	}
	b.mu.Lock()
	b.subscribers[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Unsubscribe removes a subscriber from the bus.
func (b *Bus) Unsubscribe(s *Subscriber) {
	b.mu.Lock()
	delete(b.subscribers, s)
	b.mu.Unlock()
}

// Publish broadcasts an event to every current subscriber. Timestamp is
// set if the zero value was passed.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.Lock()
	subs := make([]*Subscriber, 0, len(b.subscribers))
	for s := range b.subscribers {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.push(e)
	}
}

func (s *Subscriber) push(e Event) {
	s.mu.Lock()
	s.events = append(s.events, e)
	if len(s.events) > s.cap {
		// Slow subscriber: drop the oldest queued event.
		s.events = s.events[len(s.events)-s.cap:]
	}
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Notify returns a channel that is signalled when an event is queued for
// this subscriber. Publish never blocks on it, so callers call Drain
// after each receive to collect every queued event.
func (s *Subscriber) Notify() <-chan struct{} {
	return s.notify
}

// Drain returns and clears all currently queued events, oldest first.
func (s *Subscriber) Drain() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.events
	s.events = nil
	return out
}
