package sink

import (
	"context"
	"time"
)

// WriteContext carries per-write context into element conversion.
type WriteContext struct {
	// Timestamp is the wall time at which the element entered the sink.
	Timestamp time.Time
}

// Converter turns one input element into a destination-ready entry. It must
// be pure: no side effects, same output for the same input.
type Converter[In, E any] func(in In, wctx WriteContext) (E, error)

// Sink pairs an element converter with a writer, giving producers an
// element-typed front end. All delivery semantics live in the Writer.
type Sink[In, E any] struct {
	conv   Converter[In, E]
	writer *Writer[E]
}

// NewSink wraps a writer with an element converter.
func NewSink[In, E any](conv Converter[In, E], w *Writer[E]) *Sink[In, E] {
	return &Sink[In, E]{conv: conv, writer: w}
}

// Write converts the element and enqueues the resulting entry, blocking
// under backpressure. Conversion errors are returned as-is and nothing is
// buffered.
func (s *Sink[In, E]) Write(ctx context.Context, in In) error {
	e, err := s.conv(in, WriteContext{Timestamp: time.Now()})
	if err != nil {
		return err
	}
	return s.writer.Write(ctx, e)
}

// Writer returns the underlying writer, for flush/snapshot/close control.
func (s *Sink[In, E]) Writer() *Writer[E] {
	return s.writer
}
