package events

import "testing"

// recordingSink captures mirrored events.
type recordingSink struct {
	got []Event
}

// Emit stores the event.
func (s *recordingSink) Emit(event Event) {
	s.got = append(s.got, event)
}

// TestBusSince verifies incremental event reads by sequence.
func TestBusSince(t *testing.T) {
	bus := NewBus(3)
	bus.Publish(Event{Type: EventTypeStatus, Message: "1"})
	bus.Publish(Event{Type: EventTypeStatus, Message: "2"})
	bus.Publish(Event{Type: EventTypeStatus, Message: "3"})

	got := bus.Since(1)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Seq != 2 || got[1].Seq != 3 {
		t.Fatalf("unexpected seqs: %+v", got)
	}
}

// TestBusCapsHistory verifies buffer limit trimming behavior.
func TestBusCapsHistory(t *testing.T) {
	bus := NewBus(2)
	bus.Publish(Event{Message: "1"})
	bus.Publish(Event{Message: "2"})
	bus.Publish(Event{Message: "3"})

	got := bus.Since(0)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Message != "2" || got[1].Message != "3" {
		t.Fatalf("unexpected events: %+v", got)
	}
}

// TestBusAssignsTimestamps verifies publish stamps zero-valued timestamps.
func TestBusAssignsTimestamps(t *testing.T) {
	bus := NewBus(2)
	out := bus.Publish(Event{Message: "x"})
	if out.Timestamp.IsZero() {
		t.Fatal("expected a non-zero timestamp")
	}
	if out.Seq != 1 {
		t.Fatalf("seq = %d, want 1", out.Seq)
	}
}

// TestBusMirrorsToSinks verifies attached sinks see every later event.
func TestBusMirrorsToSinks(t *testing.T) {
	bus := NewBus(10)
	bus.Publish(Event{Message: "before"})

	sink := &recordingSink{}
	bus.AddSink(sink)
	bus.Publish(Event{Message: "after-1"})
	bus.Publish(Event{Message: "after-2"})

	if len(sink.got) != 2 {
		t.Fatalf("sink events = %d, want 2", len(sink.got))
	}
	if sink.got[0].Message != "after-1" || sink.got[1].Message != "after-2" {
		t.Fatalf("unexpected sink events: %+v", sink.got)
	}
}
