package sink

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sinkforge/sinkforge/internal/logging"
)

// Destination is the capability interface a concrete sink implements. The
// core is generic over the opaque entry type E and knows nothing about the
// destination's transport or client.
type Destination[E any] interface {
	// Submit hands a batch to the destination asynchronously and must call
	// done exactly once with the subset of batch that should be retried
	// (empty or nil = full success). Submit must not block the caller for
	// unbounded time; the actual I/O is expected to run on the
	// destination's own goroutines. Entries that can never succeed must be
	// dropped by the destination (with its own logging/policy) rather than
	// reported as failed, or they will be requeued forever.
	Submit(ctx context.Context, batch []E, done func(failed []E))

	// SizeOf reports the byte size of an entry. Pure and deterministic: it
	// is used both for max-record-size rejection and buffer byte tracking.
	SizeOf(e E) int64
}

// Config holds the writer configuration.
type Config struct {
	// MaxBatchSize caps the number of entries per submission call.
	MaxBatchSize int
	// MaxInFlightRequests caps concurrent outstanding submission calls.
	MaxInFlightRequests int
	// MaxBufferedRequests caps the buffered entry count; producers block
	// once it is reached.
	MaxBufferedRequests int
	// FlushOnBufferSizeBytes triggers a flush once the buffered total byte
	// size reaches this threshold.
	FlushOnBufferSizeBytes int64
	// MaxTimeInBuffer is the time-based flush interval.
	MaxTimeInBuffer time.Duration
	// MaxRecordSizeBytes is the hard per-entry size ceiling; larger entries
	// are rejected at Write with RecordTooLargeError.
	MaxRecordSizeBytes int64

	// AIMDIncreaseStep is the additive batch-size increase per successful
	// submission (default: 10).
	AIMDIncreaseStep int
	// AIMDDecreaseFactor is the multiplicative batch-size decrease on
	// failure, in (0, 1) (default: 0.5).
	AIMDDecreaseFactor float64
}

// DefaultConfig returns a default writer configuration.
func DefaultConfig() Config {
	return Config{
		MaxBatchSize:           512,
		MaxInFlightRequests:    16,
		MaxBufferedRequests:    10000,
		FlushOnBufferSizeBytes: 1024 * 1024, // 1MB
		MaxTimeInBuffer:        5 * time.Second,
		MaxRecordSizeBytes:     1024 * 1024, // 1MB
		AIMDIncreaseStep:       defaultIncreaseStep,
		AIMDDecreaseFactor:     defaultDecreaseFactor,
	}
}

// withDefaults fills zero values with defaults.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = def.MaxBatchSize
	}
	if c.MaxInFlightRequests <= 0 {
		c.MaxInFlightRequests = def.MaxInFlightRequests
	}
	if c.MaxBufferedRequests <= 0 {
		c.MaxBufferedRequests = def.MaxBufferedRequests
	}
	if c.FlushOnBufferSizeBytes <= 0 {
		c.FlushOnBufferSizeBytes = def.FlushOnBufferSizeBytes
	}
	if c.MaxTimeInBuffer <= 0 {
		c.MaxTimeInBuffer = def.MaxTimeInBuffer
	}
	if c.MaxRecordSizeBytes <= 0 {
		c.MaxRecordSizeBytes = def.MaxRecordSizeBytes
	}
	if c.AIMDIncreaseStep <= 0 {
		c.AIMDIncreaseStep = def.AIMDIncreaseStep
	}
	if c.AIMDDecreaseFactor <= 0 || c.AIMDDecreaseFactor >= 1.0 {
		c.AIMDDecreaseFactor = def.AIMDDecreaseFactor
	}
	return c
}

// writeReq is a producer enqueue request flowing into the event loop.
type writeReq[E any] struct {
	entry E
	size  int64
	reply chan error
}

// completion is an async submission result flowing back into the event loop.
type completion[E any] struct {
	seq     uint64
	failed  []E
	elapsed time.Duration
}

// Writer is an asynchronous batching sink writer. It accumulates entries in
// a bounded buffer and submits batches to a Destination, honoring
// at-least-once delivery, producer backpressure, and AIMD batch sizing.
//
// All mutable state (buffer, in-flight tracker, rate tuner) is owned by a
// single event loop goroutine started by Start. Producer writes, timer
// fires, async completions, explicit flushes and snapshot requests all enter
// the loop as messages; nothing else touches the state.
type Writer[E any] struct {
	cfg  Config
	dest Destination[E]

	writeCh chan writeReq[E]
	compCh  chan completion[E]
	flushCh chan chan struct{}
	snapCh  chan chan []E

	closeOnce sync.Once
	closeCh   chan struct{}
	doneCh    chan struct{}
	started   atomic.Bool
	closed    atomic.Bool

	// Event-loop-owned state. Accessed outside the loop only before Start.
	buf          *requestBuffer[E]
	tracker      *inFlightTracker[E]
	tuner        *rateTuner
	flushPending bool
	restored     bool
}

// New creates a new Writer for the given destination. Zero config values
// are replaced with defaults.
func New[E any](cfg Config, dest Destination[E]) *Writer[E] {
	cfg = cfg.withDefaults()
	return &Writer[E]{
		cfg:     cfg,
		dest:    dest,
		writeCh: make(chan writeReq[E]),
		// Buffered to the in-flight ceiling so destination callbacks never
		// block delivering completions.
		compCh:  make(chan completion[E], cfg.MaxInFlightRequests),
		flushCh: make(chan chan struct{}),
		snapCh:  make(chan chan []E),
		closeCh: make(chan struct{}),
		doneCh:  make(chan struct{}),
		buf:     newRequestBuffer[E](cfg.MaxBufferedRequests),
		tracker: newInFlightTracker[E](cfg.MaxInFlightRequests),
		tuner:   newRateTuner(cfg.MaxBatchSize, cfg.AIMDIncreaseStep, cfg.AIMDDecreaseFactor),
	}
}

// Restore re-populates the buffer from a prior snapshot. It must be called
// at most once, before Start; everything in the sequence is treated as
// not-yet-confirmed and buffered for resubmission, which is what yields
// at-least-once rather than exactly-once delivery. The rate tuner is not
// restored: congestion state is ephemeral.
func (w *Writer[E]) Restore(entries []E) error {
	if w.started.Load() {
		return &RestoreError{Reason: "writer already started", Err: ErrAlreadyStarted}
	}
	if w.restored {
		return &RestoreError{Reason: "snapshot already restored"}
	}
	for _, e := range entries {
		size := w.dest.SizeOf(e)
		if size > w.cfg.MaxRecordSizeBytes {
			return &RestoreError{
				Reason: "snapshot entry exceeds max record size",
				Err:    &RecordTooLargeError{Size: size, Limit: w.cfg.MaxRecordSizeBytes},
			}
		}
		w.buf.Append(e, size)
	}
	w.restored = true
	w.tuner.Reset()
	w.updateGauges()
	logging.Info("sink writer restored from snapshot", logging.F(
		"entries", len(entries),
		"bytes", w.buf.TotalBytes(),
	))
	return nil
}

// Start runs the event loop until ctx is canceled or Close is called. It is
// typically invoked as `go w.Start(ctx)`.
func (w *Writer[E]) Start(ctx context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	defer close(w.doneCh)

	ticker := time.NewTicker(w.cfg.MaxTimeInBuffer)
	defer ticker.Stop()

	var waiters []writeReq[E]

	for {
		select {
		case <-ctx.Done():
			w.shutdown(waiters)
			return

		case <-w.closeCh:
			w.shutdown(waiters)
			return

		case req := <-w.writeCh:
			if w.buf.Len() >= w.cfg.MaxBufferedRequests {
				// Backpressure: park the producer until takeBatch frees
				// space. The loop keeps servicing timers and completions.
				waiters = append(waiters, req)
				continue
			}
			w.accept(req)
			if w.sizeTriggered() {
				w.flush(ctx, "size")
				waiters = w.admitWaiters(ctx, waiters)
			}

		case c := <-w.compCh:
			w.complete(c)
			if w.flushPending || w.sizeTriggered() {
				w.flush(ctx, "completion")
			}
			waiters = w.admitWaiters(ctx, waiters)

		case <-ticker.C:
			if w.buf.Len() > 0 {
				w.flush(ctx, "time")
				waiters = w.admitWaiters(ctx, waiters)
			}

		case done := <-w.flushCh:
			w.flush(ctx, "explicit")
			waiters = w.admitWaiters(ctx, waiters)
			close(done)

		case reply := <-w.snapCh:
			// Best-effort drain before capturing state, so the snapshot is
			// as small as the in-flight ceiling allows.
			w.flush(ctx, "explicit")
			reply <- w.snapshotEntries()
			waiters = w.admitWaiters(ctx, waiters)
		}
	}
}

// Write enqueues a destination-ready entry, blocking while the buffer is at
// MaxBufferedRequests. An entry larger than MaxRecordSizeBytes
// is rejected synchronously with RecordTooLargeError and never buffered.
//
// If ctx is canceled while the write is blocked on backpressure, the entry
// may still be admitted and delivered later; at-least-once semantics permit
// this.
func (w *Writer[E]) Write(ctx context.Context, e E) error {
	if w.closed.Load() {
		return ErrWriterClosed
	}
	size := w.dest.SizeOf(e)
	if size > w.cfg.MaxRecordSizeBytes {
		recordsRejectedTotal.Inc()
		return &RecordTooLargeError{Size: size, Limit: w.cfg.MaxRecordSizeBytes}
	}
	req := writeReq[E]{entry: e, size: size, reply: make(chan error, 1)}
	select {
	case w.writeCh <- req:
	case <-w.doneCh:
		return ErrWriterClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush triggers an explicit flush attempt and waits for it to complete.
// Used at checkpoint boundaries; entries that cannot be submitted because
// the in-flight ceiling is reached simply stay buffered.
func (w *Writer[E]) Flush(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case w.flushCh <- done:
	case <-w.doneCh:
		return ErrWriterClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot captures a checkpoint-consistent view of unconfirmed entries:
// the ordered concatenation of in-flight entries (submission order) followed
// by buffered entries. A best-effort flush runs first.
//
// Before Start and after Close the state is quiescent and captured directly;
// in between the request is serialized through the event loop.
func (w *Writer[E]) Snapshot(ctx context.Context) ([]E, error) {
	if !w.started.Load() {
		return w.snapshotEntries(), nil
	}
	reply := make(chan []E, 1)
	select {
	case w.snapCh <- reply:
	case <-w.doneCh:
		// Loop exited; whatever the final drain could not deliver remains.
		return w.snapshotEntries(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case entries := <-reply:
		return entries, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the writer: no further writes are accepted, the flush timer
// stops, and a final best-effort drain submits what it can and waits for
// outstanding completions. Close blocks until the event loop has exited.
func (w *Writer[E]) Close() {
	w.closeOnce.Do(func() {
		w.closed.Store(true)
		close(w.closeCh)
	})
	if w.started.Load() {
		<-w.doneCh
	}
}

// Wait blocks until the event loop has exited.
func (w *Writer[E]) Wait() {
	<-w.doneCh
}

// accept appends an admitted entry and unblocks its producer.
func (w *Writer[E]) accept(req writeReq[E]) {
	w.buf.Append(req.entry, req.size)
	w.updateGauges()
	req.reply <- nil
}

func (w *Writer[E]) sizeTriggered() bool {
	return w.buf.TotalBytes() >= w.cfg.FlushOnBufferSizeBytes
}

// flush submits batches while the buffer is non-empty and an in-flight slot
// is available. Batch size is min(maxBatchSize, AIMD target, buffer length).
// When the in-flight ceiling stops the attempt, the flush is marked pending
// and resumes on the next completion.
func (w *Writer[E]) flush(ctx context.Context, trigger string) {
	flushesTotal.WithLabelValues(trigger).Inc()
	for w.buf.Len() > 0 && w.tracker.CanAcquire() {
		n := min(w.cfg.MaxBatchSize, w.tuner.Target(), w.buf.Len())
		batch, bytes := w.buf.TakeBatch(n)
		b := w.tracker.Register(batch, bytes)
		w.updateGauges()

		// Attempt counters: retried entries are counted once per attempt.
		recordsOutTotal.Add(float64(len(batch)))
		bytesOutTotal.Add(float64(bytes))

		entries := make([]E, len(batch))
		for i, se := range batch {
			entries[i] = se.entry
		}
		seq := b.seq
		start := time.Now()
		w.dest.Submit(ctx, entries, func(failed []E) {
			w.compCh <- completion[E]{seq: seq, failed: failed, elapsed: time.Since(start)}
		})
	}
	w.flushPending = w.buf.Len() > 0
}

// complete processes one async submission result: releases the in-flight
// slot, updates the rate tuner, and requeues failed entries at the buffer
// head so they are retried ahead of newer data.
func (w *Writer[E]) complete(c completion[E]) {
	b := w.tracker.Release(c.seq)
	sendTimeSeconds.Set(c.elapsed.Seconds())

	if len(c.failed) == 0 {
		w.tuner.OnSuccess(len(b.entries))
	} else {
		requeue := make([]sized[E], len(c.failed))
		for i, e := range c.failed {
			requeue[i] = sized[E]{entry: e, size: w.dest.SizeOf(e)}
		}
		w.buf.RequeueFront(requeue)
		recordsRequeuedTotal.Add(float64(len(c.failed)))
		w.tuner.OnFailure()
		logging.Warn("submission reported failed entries, requeued for retry", logging.F(
			"batch_id", b.id,
			"batch_size", len(b.entries),
			"failed", len(c.failed),
		))
	}
	w.updateGauges()
}

// admitWaiters moves parked producers into freed buffer space, FIFO, and
// flushes again whenever admission re-arms the size trigger.
func (w *Writer[E]) admitWaiters(ctx context.Context, waiters []writeReq[E]) []writeReq[E] {
	for {
		i := 0
		for ; i < len(waiters) && w.buf.Len() < w.cfg.MaxBufferedRequests; i++ {
			w.accept(waiters[i])
		}
		waiters = waiters[i:]
		if !w.sizeTriggered() || !w.tracker.CanAcquire() {
			return waiters
		}
		w.flush(ctx, "size")
		if len(waiters) == 0 {
			return waiters
		}
	}
}

// snapshotEntries returns in-flight entries (submission order) followed by
// buffered entries.
func (w *Writer[E]) snapshotEntries() []E {
	inFlight := w.tracker.Entries()
	buffered := w.buf.Entries()
	out := make([]E, 0, len(inFlight)+len(buffered))
	for _, se := range inFlight {
		out = append(out, se.entry)
	}
	for _, se := range buffered {
		out = append(out, se.entry)
	}
	return out
}

// shutdown performs the final best-effort drain: parked producers are
// refused, then batches are flushed and completions awaited until the
// writer is empty or a full round makes no forward progress (everything
// kept failing).
func (w *Writer[E]) shutdown(waiters []writeReq[E]) {
	w.closed.Store(true)
	for _, req := range waiters {
		req.reply <- ErrWriterClosed
	}

	prevRemaining := -1
	for w.tracker.Count() > 0 || w.buf.Len() > 0 {
		remaining := w.buf.Len() + len(w.tracker.Entries())
		if remaining == prevRemaining {
			logging.Warn("final drain made no progress, giving up", logging.F(
				"remaining_entries", remaining,
			))
			break
		}
		prevRemaining = remaining

		w.flush(context.Background(), "explicit")
		for w.tracker.Count() > 0 {
			w.complete(<-w.compCh)
		}
	}
	if w.buf.Len() > 0 {
		logging.Warn("sink writer closed with undrained entries", logging.F(
			"entries", w.buf.Len(),
			"bytes", w.buf.TotalBytes(),
		))
	}
}

func (w *Writer[E]) updateGauges() {
	bufferEntries.Set(float64(w.buf.Len()))
	bufferBytes.Set(float64(w.buf.TotalBytes()))
	inFlightRequests.Set(float64(w.tracker.Count()))
}
