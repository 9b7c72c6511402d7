package sink

// requestBuffer is the ordered, size-tracked holding area for entries
// awaiting submission. New arrivals append at the tail; retried entries are
// reinserted at the head so they are resubmitted ahead of newer data.
//
// The buffer is owned exclusively by the writer's event loop and is not safe
// for concurrent use.
type requestBuffer[E any] struct {
	entries    []sized[E]
	totalBytes int64
}

// sized pairs an entry with its byte size so SizeOf is computed exactly once
// per entry, at ingestion.
type sized[E any] struct {
	entry E
	size  int64
}

func newRequestBuffer[E any](capHint int) *requestBuffer[E] {
	return &requestBuffer[E]{entries: make([]sized[E], 0, capHint)}
}

// Len returns the number of buffered entries.
func (b *requestBuffer[E]) Len() int {
	return len(b.entries)
}

// TotalBytes returns the running total of buffered entry sizes.
func (b *requestBuffer[E]) TotalBytes() int64 {
	return b.totalBytes
}

// Append adds an entry at the tail. Capacity enforcement happens in the
// event loop before Append is called.
func (b *requestBuffer[E]) Append(e E, size int64) {
	b.entries = append(b.entries, sized[E]{entry: e, size: size})
	b.totalBytes += size
}

// RequeueFront reinserts entries at the head, preserving their relative
// order. Used exclusively by the retry path: it never blocks and never
// rejects, since a retry must not be lost to a capacity error.
func (b *requestBuffer[E]) RequeueFront(entries []sized[E]) {
	if len(entries) == 0 {
		return
	}
	merged := make([]sized[E], 0, len(entries)+len(b.entries))
	merged = append(merged, entries...)
	merged = append(merged, b.entries...)
	b.entries = merged
	for _, se := range entries {
		b.totalBytes += se.size
	}
}

// TakeBatch removes up to maxCount entries from the head and returns them
// with their summed byte size.
func (b *requestBuffer[E]) TakeBatch(maxCount int) ([]sized[E], int64) {
	if maxCount <= 0 || len(b.entries) == 0 {
		return nil, 0
	}
	n := maxCount
	if n > len(b.entries) {
		n = len(b.entries)
	}
	batch := make([]sized[E], n)
	copy(batch, b.entries[:n])
	b.entries = b.entries[n:]

	var bytes int64
	for _, se := range batch {
		bytes += se.size
	}
	b.totalBytes -= bytes
	if len(b.entries) == 0 {
		// Reset the backing array so the slice does not pin taken entries.
		b.entries = nil
		if b.totalBytes != 0 {
			panic("sink: buffer byte accounting corrupted")
		}
	}
	return batch, bytes
}

// Entries returns the buffered entries in order, for snapshotting.
func (b *requestBuffer[E]) Entries() []sized[E] {
	out := make([]sized[E], len(b.entries))
	copy(out, b.entries)
	return out
}
