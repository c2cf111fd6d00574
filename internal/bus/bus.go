// Package bus fans typed progress events out to subscribers keyed by
// project id. Each topic keeps a small recent-window for late joiners
// and a per-subscriber drop policy for slow consumers.
package bus

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/artifact-agent/pkg/ringlog"
)

// EventType tags a progress event variant.
type EventType string

const (
	EventStageStarted   EventType = "stage_started"
	EventStageCompleted EventType = "stage_completed"
	EventAgentLog       EventType = "agent_log"
	EventError          EventType = "error"
	EventEventsDropped  EventType = "events_dropped"
	EventTerminal       EventType = "terminal"
)

// Event is one entry in a project's progress stream. Sequence numbers
// strictly increase per project.
type Event struct {
	ProjectID string         `json:"project_id"`
	Sequence  uint64         `json:"sequence_number"`
	Timestamp time.Time      `json:"timestamp_iso"`
	Type      EventType      `json:"type"`
	Level     string         `json:"level,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

const (
	defaultRecentWindow = 64
	subscriberBuffer    = 128
)

// Bus is the progress fan-out. Safe for concurrent use.
type Bus struct {
	mu     sync.Mutex
	topics map[string]*topic
	window int
	logger zerolog.Logger
}

type topic struct {
	mu        sync.Mutex
	seq       uint64
	recent    *ringlog.Ring[Event]
	subs      map[int]*subscriber
	nextSubID int
	cancelled bool
	closed    bool
}

type subscriber struct {
	ch      chan Event
	dropped int
}

// New creates a bus with the default recent-window size.
func New(logger zerolog.Logger) *Bus {
	return &Bus{
		topics: make(map[string]*topic),
		window: defaultRecentWindow,
		logger: logger.With().Str("component", "bus").Logger(),
	}
}

func (b *Bus) topicFor(projectID string) *topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[projectID]
	if !ok {
		t = &topic{
			recent: ringlog.New[Event](b.window),
			subs:   make(map[int]*subscriber),
		}
		b.topics[projectID] = t
	}
	return t
}

// Publish appends an event to the project's stream and delivers it to
// live subscribers. Delivery is at-least-once for subscribers that keep
// up; slow subscribers lose their oldest events and receive a single
// events_dropped marker.
func (b *Bus) Publish(projectID string, typ EventType, level string, payload map[string]any) Event {
	t := b.topicFor(projectID)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return Event{}
	}

	// Flush per-subscriber drop markers first so each marker's sequence
	// precedes the event that follows it.
	for _, sub := range t.subs {
		if sub.dropped > 0 && len(sub.ch) < cap(sub.ch)-1 {
			t.seq++
			sub.ch <- Event{
				ProjectID: projectID,
				Sequence:  t.seq,
				Timestamp: time.Now().UTC(),
				Type:      EventEventsDropped,
				Level:     "warn",
				Payload:   map[string]any{"count": sub.dropped},
			}
			sub.dropped = 0
		}
	}

	t.seq++
	ev := Event{
		ProjectID: projectID,
		Sequence:  t.seq,
		Timestamp: time.Now().UTC(),
		Type:      typ,
		Level:     level,
		Payload:   payload,
	}

	t.recent.Append(ev)

	for _, sub := range t.subs {
		b.deliver(sub, ev)
	}
	return ev
}

// deliver pushes ev to one subscriber, discarding the subscriber's
// oldest buffered event when its channel is full. Called with the topic
// lock held.
func (b *Bus) deliver(sub *subscriber, ev Event) {
	select {
	case sub.ch <- ev:
	default:
		select {
		case <-sub.ch:
		default:
		}
		sub.dropped++
		select {
		case sub.ch <- ev:
		default:
			sub.dropped++
		}
	}
}

// Subscribe returns the recent-window replay followed by live events.
// The returned cancel function must be called to release the subscriber.
func (b *Bus) Subscribe(projectID string) (<-chan Event, func()) {
	t := b.topicFor(projectID)

	t.mu.Lock()
	defer t.mu.Unlock()

	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}
	for _, ev := range t.recent.Snapshot() {
		sub.ch <- ev
	}
	if t.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}

	id := t.nextSubID
	t.nextSubID++
	t.subs[id] = sub

	unsubscribe := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if _, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(sub.ch)
		}
	}
	return sub.ch, unsubscribe
}

// Cancel publishes the cancel control flag for a project. The
// orchestrator observes it at stage boundaries; in-flight LLM calls are
// not interrupted.
func (b *Bus) Cancel(projectID string) {
	t := b.topicFor(projectID)
	t.mu.Lock()
	t.cancelled = true
	t.mu.Unlock()
	b.logger.Info().Str("project_id", projectID).Msg("cancellation requested")
}

// Cancelled reports whether cancellation was requested for a project.
func (b *Bus) Cancelled(projectID string) bool {
	t := b.topicFor(projectID)
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// CloseTopic ends a project's stream after its terminal event.
// Subscriber channels are closed; late joiners still get the replay
// window followed by an immediate close.
func (b *Bus) CloseTopic(projectID string) {
	t := b.topicFor(projectID)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	for id, sub := range t.subs {
		delete(t.subs, id)
		close(sub.ch)
	}
}

// DropTopic removes all state for a deleted project.
func (b *Bus) DropTopic(projectID string) {
	b.mu.Lock()
	t, ok := b.topics[projectID]
	delete(b.topics, projectID)
	b.mu.Unlock()
	if !ok {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		for id, sub := range t.subs {
			delete(t.subs, id)
			close(sub.ch)
		}
	}
}
