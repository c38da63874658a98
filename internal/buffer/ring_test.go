package buffer

import "testing"

func TestRingOverwritesOldest(t *testing.T) {
	ring := NewRing[int](3)
	for i := 1; i <= 5; i++ {
		ring.Add(i)
	}

	got := ring.List()
	want := []int{3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if ring.Len() != 3 || ring.Cap() != 3 {
		t.Fatalf("unexpected len/cap %d/%d", ring.Len(), ring.Cap())
	}
}

func TestRingZeroSize(t *testing.T) {
	ring := NewRing[string](0)
	ring.Add("a")
	ring.Add("b")
	if got := ring.List(); len(got) != 1 || got[0] != "b" {
		t.Fatalf("expected [b], got %v", got)
	}
}
