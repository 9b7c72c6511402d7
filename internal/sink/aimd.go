package sink

import (
	"github.com/sinkforge/sinkforge/internal/logging"
)

// Defaults for the AIMD controller.
const (
	defaultIncreaseStep   = 10
	defaultDecreaseFactor = 0.5
)

// rateTuner implements AIMD (Additive Increase / Multiplicative Decrease)
// congestion control over the batch size in entries. Every successful
// completion grows the target by a fixed step; every failed completion
// shrinks it by a multiplicative factor. The target stays within
// [1, maxBatchSize] and acts as an additional upper bound on batch size next
// to the configured ceiling.
//
// The tuner is ephemeral per writer instance: it is never snapshotted and
// resets to maxBatchSize on restore, since congestion state observed before
// a restart says nothing about the destination's condition after it.
//
// Owned exclusively by the writer's event loop.
type rateTuner struct {
	target         int
	maxBatchSize   int
	increaseStep   int
	decreaseFactor float64

	adjustmentsUp   int64
	adjustmentsDown int64
}

func newRateTuner(maxBatchSize, increaseStep int, decreaseFactor float64) *rateTuner {
	if increaseStep <= 0 {
		increaseStep = defaultIncreaseStep
	}
	if decreaseFactor <= 0 || decreaseFactor >= 1.0 {
		decreaseFactor = defaultDecreaseFactor
	}
	return &rateTuner{
		target:         maxBatchSize,
		maxBatchSize:   maxBatchSize,
		increaseStep:   increaseStep,
		decreaseFactor: decreaseFactor,
	}
}

// Target returns the current target batch size in entries.
func (rt *rateTuner) Target() int {
	return rt.target
}

// OnSuccess records a fully successful submission: additive increase,
// bounded above by maxBatchSize.
func (rt *rateTuner) OnSuccess(batchSize int) {
	next := rt.target + rt.increaseStep
	if next > rt.maxBatchSize {
		next = rt.maxBatchSize
	}
	if next != rt.target {
		rt.target = next
		rt.adjustmentsUp++
		aimdTargetEntries.Set(float64(next))
		aimdAdjustmentsTotal.WithLabelValues("up").Inc()
	}
}

// OnFailure records a submission with failed entries: multiplicative
// decrease, bounded below by 1.
func (rt *rateTuner) OnFailure() {
	next := int(float64(rt.target) * rt.decreaseFactor)
	if next < 1 {
		next = 1
	}
	if next != rt.target {
		old := rt.target
		rt.target = next
		rt.adjustmentsDown++
		aimdTargetEntries.Set(float64(next))
		aimdAdjustmentsTotal.WithLabelValues("down").Inc()

		logging.Info("rate tuner: decreased target batch size", logging.F(
			"old_entries", old,
			"new_entries", next,
		))
	}
}

// Reset restores the target to the configured ceiling. Called on restore.
func (rt *rateTuner) Reset() {
	rt.target = rt.maxBatchSize
	aimdTargetEntries.Set(float64(rt.target))
}
