package workflow

import "testing"

func TestStream_OrderPreserved(t *testing.T) {
	s := NewStream()
	s.Put(Event{Name: "a"})
	s.Put(Event{Name: "b"})
	s.End()

	var names []string
	for e := range s.Events() {
		names = append(names, e.Name)
	}
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("unexpected order: %v", names)
	}
}

func TestStream_PutAfterEndDrops(t *testing.T) {
	s := NewStream()
	s.End()
	// Must not panic; detached producers outlive the request.
	s.Put(Event{Name: "late"})
	if _, ok := <-s.Events(); ok {
		t.Fatalf("expected closed channel with no events")
	}
}

func TestStream_EndIdempotent(t *testing.T) {
	s := NewStream()
	s.End()
	s.End()
	s.Abort()
}
