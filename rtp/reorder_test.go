package rtp

import "testing"

func TestReorderListOrdersBySequence(t *testing.T) {
	l := NewReorderList(false)
	l.InsertInOrder(5, Packet{Timestamp: 5})
	l.InsertInOrder(2, Packet{Timestamp: 2})
	l.InsertInOrder(8, Packet{Timestamp: 8})

	if l.Len() != 3 {
		t.Fatalf("expected len 3, got %d", l.Len())
	}
	_, key, ok := l.PeekListElement(0)
	if !ok || key != 2 {
		t.Fatalf("expected head key 2, got %d ok=%v", key, ok)
	}

	_, key, ok = l.PopFront()
	if !ok || key != 2 {
		t.Fatalf("expected pop key 2, got %d", key)
	}
	_, key, _ = l.PopFront()
	if key != 5 {
		t.Fatalf("expected pop key 5, got %d", key)
	}
}

func TestReorderListRejectsDuplicateByDefault(t *testing.T) {
	l := NewReorderList(false)
	if !l.InsertInOrder(1, Packet{}) {
		t.Fatalf("first insert should succeed")
	}
	if l.InsertInOrder(1, Packet{}) {
		t.Fatalf("duplicate insert should be rejected")
	}
	if l.Len() != 1 {
		t.Fatalf("expected len 1 after rejected duplicate, got %d", l.Len())
	}
}

func TestReorderListAllowsDuplicateWhenConfigured(t *testing.T) {
	l := NewReorderList(true)
	l.InsertInOrder(1, Packet{})
	if !l.InsertInOrder(1, Packet{}) {
		t.Fatalf("duplicate insert should be allowed")
	}
	if l.Len() != 2 {
		t.Fatalf("expected len 2, got %d", l.Len())
	}
}

func TestSequenceExtenderRollover(t *testing.T) {
	var ext SequenceExtender
	if got := ext.Extend(65533); got != 65533 {
		t.Fatalf("want 65533, got %d", got)
	}
	if got := ext.Extend(65535); got != 65535 {
		t.Fatalf("want 65535, got %d", got)
	}
	if got := ext.Extend(1); got != 65536+1 {
		t.Fatalf("want rollover to 65537, got %d", got)
	}
	if got := ext.Extend(2); got != 65536+2 {
		t.Fatalf("want 65538, got %d", got)
	}
}
