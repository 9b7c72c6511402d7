package sink

import "testing"

func TestRateTunerDefaults(t *testing.T) {
	rt := newRateTuner(100, 0, 0)
	if rt.increaseStep != defaultIncreaseStep {
		t.Errorf("increaseStep = %d, want %d", rt.increaseStep, defaultIncreaseStep)
	}
	if rt.decreaseFactor != defaultDecreaseFactor {
		t.Errorf("decreaseFactor = %g, want %g", rt.decreaseFactor, defaultDecreaseFactor)
	}
	if rt.Target() != 100 {
		t.Errorf("initial Target = %d, want maxBatchSize 100", rt.Target())
	}
}

func TestRateTunerDecreaseIsMultiplicative(t *testing.T) {
	rt := newRateTuner(100, 10, 0.5)
	rt.OnFailure()
	if rt.Target() != 50 {
		t.Fatalf("Target after one failure = %d, want 50", rt.Target())
	}
	rt.OnFailure()
	if rt.Target() != 25 {
		t.Fatalf("Target after two failures = %d, want 25", rt.Target())
	}
}

func TestRateTunerIncreaseIsAdditiveAndMonotonic(t *testing.T) {
	rt := newRateTuner(100, 10, 0.5)
	rt.OnFailure() // 50
	prev := rt.Target()
	for i := 0; i < 10; i++ {
		rt.OnSuccess(prev)
		if rt.Target() < prev {
			t.Fatalf("Target decreased on success: %d -> %d", prev, rt.Target())
		}
		prev = rt.Target()
	}
	if prev != 100 {
		t.Fatalf("Target after success run = %d, want back at ceiling 100", prev)
	}
}

func TestRateTunerStaysInBounds(t *testing.T) {
	rt := newRateTuner(8, 3, 0.5)

	// Never below 1, even after many failures.
	for i := 0; i < 20; i++ {
		rt.OnFailure()
		if got := rt.Target(); got < 1 || got > 8 {
			t.Fatalf("Target = %d out of [1, 8]", got)
		}
	}
	if rt.Target() != 1 {
		t.Fatalf("Target floor = %d, want 1", rt.Target())
	}

	// Never above maxBatchSize, even after many successes.
	for i := 0; i < 20; i++ {
		rt.OnSuccess(1)
		if got := rt.Target(); got < 1 || got > 8 {
			t.Fatalf("Target = %d out of [1, 8]", got)
		}
	}
	if rt.Target() != 8 {
		t.Fatalf("Target ceiling = %d, want 8", rt.Target())
	}
}

func TestRateTunerReset(t *testing.T) {
	rt := newRateTuner(64, 10, 0.5)
	rt.OnFailure()
	rt.OnFailure()
	rt.Reset()
	if rt.Target() != 64 {
		t.Fatalf("Target after Reset = %d, want 64", rt.Target())
	}
}
