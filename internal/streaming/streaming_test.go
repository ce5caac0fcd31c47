package streaming

import (
	"testing"
)

func TestPublishSubscribeOrder(t *testing.T) {
	s := NewStream()
	ch, cancel := s.Subscribe()
	defer cancel()

	s.Publish(NewEvent(EventStep, map[string]string{"stage": "expand"}))
	s.Publish(NewEvent(EventSources, []string{"a.pdf"}))
	s.Publish(NewEvent(EventChunk, map[string]string{"delta": "Use"}))
	s.Close()

	var types []EventType
	for ev := range ch {
		types = append(types, ev.Type)
	}
	want := []EventType{EventStep, EventSources, EventChunk}
	if len(types) != len(want) {
		t.Fatalf("Expected %v, got %v", want, types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("Event %d: expected %s, got %s", i, want[i], types[i])
		}
	}
}

func TestLateSubscriberGetsReplay(t *testing.T) {
	s := NewStream()
	s.Publish(NewEvent(EventStep, map[string]string{"stage": "search"}))
	s.Publish(NewEvent(EventSources, nil))

	ch, cancel := s.Subscribe()
	defer cancel()
	s.Close()

	var got []EventType
	for ev := range ch {
		got = append(got, ev.Type)
	}
	if len(got) != 2 || got[0] != EventStep || got[1] != EventSources {
		t.Errorf("Expected replayed step+sources, got %v", got)
	}
}

func TestSequenceNumbersMonotonic(t *testing.T) {
	s := NewStream()
	ch, cancel := s.Subscribe()
	defer cancel()

	for i := 0; i < 5; i++ {
		s.Publish(NewEvent(EventChunk, nil))
	}
	s.Close()

	last := 0
	for ev := range ch {
		if ev.Seq <= last {
			t.Errorf("Sequence not monotonic: %d after %d", ev.Seq, last)
		}
		last = ev.Seq
	}
	if last != 5 {
		t.Errorf("Expected 5 events, last seq %d", last)
	}
}

func TestPublishAfterCloseDropped(t *testing.T) {
	s := NewStream()
	s.Close()
	s.Publish(NewEvent(EventChunk, nil))

	ch, _ := s.Subscribe()
	if _, ok := <-ch; ok {
		t.Error("Expected closed empty channel for post-close subscriber")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	s := NewStream()
	ch, cancel := s.Subscribe()
	cancel()

	s.Publish(NewEvent(EventChunk, nil))
	if _, ok := <-ch; ok {
		t.Error("Expected no delivery after unsubscribe")
	}
	s.Close()
}
