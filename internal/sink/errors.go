package sink

import (
	"errors"
	"fmt"
)

var (
	// ErrWriterClosed is returned by Write and Flush after Close has been called.
	ErrWriterClosed = errors.New("sink writer is closed")

	// ErrAlreadyStarted is returned by Restore when the event loop is running.
	ErrAlreadyStarted = errors.New("sink writer is already started")
)

// RecordTooLargeError is returned synchronously from Write when a single
// entry exceeds MaxRecordSizeBytes. The entry is never buffered and never
// retried: a structurally-oversized entry cannot succeed on resubmission.
type RecordTooLargeError struct {
	// Size is the entry size reported by the destination's SizeOf.
	Size int64
	// Limit is the configured MaxRecordSizeBytes.
	Limit int64
}

// Error implements the error interface.
func (e *RecordTooLargeError) Error() string {
	return fmt.Sprintf("record size %d exceeds max record size %d", e.Size, e.Limit)
}

// RestoreError indicates malformed or incompatible snapshot content at
// startup. It is fatal: the writer does not start.
type RestoreError struct {
	// Reason describes what was wrong with the snapshot.
	Reason string
	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *RestoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("snapshot restore failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("snapshot restore failed: %s", e.Reason)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *RestoreError) Unwrap() error {
	return e.Err
}
