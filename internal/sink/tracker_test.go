package sink

import "testing"

func TestTrackerCeiling(t *testing.T) {
	tr := newInFlightTracker[string](2)

	if !tr.CanAcquire() {
		t.Fatal("fresh tracker should allow acquire")
	}
	b1 := tr.Register(sizedStrings("a"), 1)
	b2 := tr.Register(sizedStrings("b"), 1)
	if tr.CanAcquire() {
		t.Fatal("tracker at ceiling should refuse acquire")
	}
	if tr.Count() != 2 {
		t.Fatalf("Count = %d, want 2", tr.Count())
	}

	tr.Release(b1.seq)
	if !tr.CanAcquire() {
		t.Fatal("release should free a slot")
	}
	tr.Release(b2.seq)
	if tr.Count() != 0 {
		t.Fatalf("Count = %d, want 0", tr.Count())
	}
}

func TestTrackerOutOfOrderRelease(t *testing.T) {
	tr := newInFlightTracker[string](3)
	b1 := tr.Register(sizedStrings("a"), 1)
	b2 := tr.Register(sizedStrings("b"), 1)
	b3 := tr.Register(sizedStrings("c"), 1)

	tr.Release(b2.seq)

	entries := tr.Entries()
	if len(entries) != 2 || entries[0].entry != "a" || entries[1].entry != "c" {
		t.Fatalf("entries after releasing middle batch = %v, want [a c]", entries)
	}

	tr.Release(b3.seq)
	tr.Release(b1.seq)
	if got := tr.Entries(); len(got) != 0 {
		t.Fatalf("entries after full release = %v, want empty", got)
	}
}

func TestTrackerEntriesSubmissionOrder(t *testing.T) {
	tr := newInFlightTracker[string](4)
	tr.Register(sizedStrings("a", "b"), 2)
	tr.Register(sizedStrings("c"), 1)
	tr.Register(sizedStrings("d", "e"), 2)

	want := []string{"a", "b", "c", "d", "e"}
	got := tr.Entries()
	if len(got) != len(want) {
		t.Fatalf("entries = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].entry != want[i] {
			t.Fatalf("entries[%d] = %q, want %q", i, got[i].entry, want[i])
		}
	}
}

func TestTrackerPanicsOnUnknownRelease(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("Release of unknown seq should panic")
		}
	}()
	tr := newInFlightTracker[string](1)
	tr.Release(42)
}

func TestTrackerBatchIDsAreUnique(t *testing.T) {
	tr := newInFlightTracker[string](2)
	b1 := tr.Register(sizedStrings("a"), 1)
	b2 := tr.Register(sizedStrings("b"), 1)
	if b1.id == "" || b1.id == b2.id {
		t.Fatalf("batch ids %q and %q should be distinct and non-empty", b1.id, b2.id)
	}
}
