// Package streaming carries ask pipeline events from the orchestrator to the
// transport handlers. Each request gets its own stream; events are fanned out
// to subscribers with a bounded replay ring so a subscriber attaching
// mid-request still sees the earlier step events.
package streaming

import (
	"encoding/json"
	"sync"
)

// EventType enumerates the stream event kinds, emitted in the order
// step* -> sources -> chunk* -> done|error.
type EventType string

const (
	EventStep    EventType = "step"
	EventSources EventType = "sources"
	EventChunk   EventType = "chunk"
	EventDone    EventType = "done"
	EventError   EventType = "error"
)

// Event is one stream frame
type Event struct {
	Type    EventType       `json:"type"`
	Seq     int             `json:"seq"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEvent marshals payload into an event frame. Marshal failures degrade to
// an empty payload rather than dropping the frame.
func NewEvent(t EventType, payload interface{}) Event {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = nil
	}
	return Event{Type: t, Payload: raw}
}

const replayRingSize = 64

// Stream is a single request's event fan-out
type Stream struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	seq    int
	ring   []Event // Last replayRingSize events for late subscribers
	closed bool
}

// NewStream creates an open stream.
func NewStream() *Stream {
	return &Stream{subs: make(map[int]chan Event)}
}

// Publish fans an event out to all subscribers and records it for replay.
// Slow subscribers have the oldest frame dropped rather than blocking the
// pipeline. Publishing to a closed stream is a no-op.
func (s *Stream) Publish(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.seq++
	ev.Seq = s.seq

	s.ring = append(s.ring, ev)
	if len(s.ring) > replayRingSize {
		s.ring = s.ring[1:]
	}

	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}

// Subscribe returns a channel of events, starting with a replay of everything
// published so far, and an unsubscribe function. The channel is closed when
// the stream closes or on unsubscribe.
func (s *Stream) Subscribe() (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Event, replayRingSize*2)
	for _, ev := range s.ring {
		ch <- ev
	}
	if s.closed {
		close(ch)
		return ch, func() {}
	}

	id := s.nextID
	s.nextID++
	s.subs[id] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Close ends the stream; subscriber channels are closed after the replay
// they already hold.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}
