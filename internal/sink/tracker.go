package sink

import "github.com/google/uuid"

// inFlightBatch is a batch handed to the destination whose completion has
// not arrived yet.
type inFlightBatch[E any] struct {
	seq     uint64
	id      string // uuid, for log correlation only
	entries []sized[E]
	bytes   int64
}

// inFlightTracker counts outstanding asynchronous submissions and keeps the
// ordered registry of in-flight batches so a snapshot can capture them in
// original submission order. Completions may arrive out of submission order;
// each completion releases exactly one slot.
//
// Owned exclusively by the writer's event loop.
type inFlightTracker[E any] struct {
	limit   int
	nextSeq uint64
	order   []uint64
	batches map[uint64]*inFlightBatch[E]
}

func newInFlightTracker[E any](limit int) *inFlightTracker[E] {
	return &inFlightTracker[E]{
		limit:   limit,
		batches: make(map[uint64]*inFlightBatch[E], limit),
	}
}

// Count returns the number of outstanding batches.
func (t *inFlightTracker[E]) Count() int {
	return len(t.order)
}

// CanAcquire reports whether a new submission may proceed.
func (t *inFlightTracker[E]) CanAcquire() bool {
	return len(t.order) < t.limit
}

// Register acquires a slot for a batch about to be submitted. The caller
// must have checked CanAcquire first.
func (t *inFlightTracker[E]) Register(entries []sized[E], bytes int64) *inFlightBatch[E] {
	if !t.CanAcquire() {
		panic("sink: in-flight ceiling exceeded")
	}
	t.nextSeq++
	b := &inFlightBatch[E]{
		seq:     t.nextSeq,
		id:      uuid.NewString(),
		entries: entries,
		bytes:   bytes,
	}
	t.order = append(t.order, b.seq)
	t.batches[b.seq] = b
	return b
}

// Release removes a completed batch and frees its slot. Called exactly once
// per registered batch, in whatever order completions arrive.
func (t *inFlightTracker[E]) Release(seq uint64) *inFlightBatch[E] {
	b, ok := t.batches[seq]
	if !ok {
		panic("sink: completion for unknown in-flight batch")
	}
	delete(t.batches, seq)
	for i, s := range t.order {
		if s == seq {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return b
}

// Entries returns all in-flight entries in original submission order, for
// snapshotting.
func (t *inFlightTracker[E]) Entries() []sized[E] {
	var out []sized[E]
	for _, seq := range t.order {
		out = append(out, t.batches[seq].entries...)
	}
	return out
}
