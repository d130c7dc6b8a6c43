package recvbuf

import "testing"

func TestRingContiguousEviction(t *testing.T) {
	r := NewRing(3)
	for seq := uint64(1); seq <= 5; seq++ {
		r.Insert(seq, []byte{byte(seq)})
	}
	low, high, ok := r.Bounds()
	if !ok {
		t.Fatal("expected non-empty bounds")
	}
	if low != 3 || high != 5 {
		t.Fatalf("Bounds() = (%d, %d), want (3, 5)", low, high)
	}
	if _, ok := r.Lookup(2); ok {
		t.Fatal("expected Lookup(2) miss after eviction")
	}
	for seq := uint64(3); seq <= 5; seq++ {
		v, ok := r.Lookup(seq)
		if !ok || v[0] != byte(seq) {
			t.Fatalf("Lookup(%d) = (%v, %v), want (%v, true)", seq, v, ok, []byte{byte(seq)})
		}
	}
}

func TestRingLookupRangePartialHit(t *testing.T) {
	r := NewRing(10)
	for seq := uint64(1); seq <= 5; seq++ {
		r.Insert(seq, []byte{byte(seq)})
	}
	got := r.LookupRange(3, 10)
	if len(got) != 3 {
		t.Fatalf("LookupRange(3, 10) returned %d entries, want 3", len(got))
	}
	for i, v := range got {
		want := byte(3 + i)
		if v[0] != want {
			t.Fatalf("entry %d = %v, want %v", i, v, want)
		}
	}
}

func TestRingLookupRangeBelowLowMisses(t *testing.T) {
	r := NewRing(2)
	for seq := uint64(1); seq <= 4; seq++ {
		r.Insert(seq, []byte{byte(seq)})
	}
	// low=3, high=4
	if got := r.LookupRange(1, 2); got != nil {
		t.Fatalf("LookupRange below Low = %v, want nil", got)
	}
}

func TestRingEmpty(t *testing.T) {
	r := NewRing(4)
	if _, _, ok := r.Bounds(); ok {
		t.Fatal("expected empty Bounds() ok=false")
	}
	if _, ok := r.Lookup(1); ok {
		t.Fatal("expected Lookup miss on empty ring")
	}
	if got := r.LookupRange(1, 1); got != nil {
		t.Fatalf("LookupRange on empty ring = %v, want nil", got)
	}
}
