// Package snapshot persists sink writer state between runs. A snapshot file
// is a magic/version header followed by a zstd-compressed stream of
// CRC-checked, length-prefixed entry frames, written atomically via a temp
// file rename.
package snapshot

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/sinkforge/sinkforge/internal/sink"
)

const (
	magic   = 0x534E4653 // "SNFS"
	version = 1

	// maxEntryBytes guards against reading a corrupted length prefix as a
	// multi-gigabyte allocation.
	maxEntryBytes = 64 * 1024 * 1024
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// Codec converts entries to and from their serialized snapshot form. Each
// destination ships a codec for its own entry type.
type Codec[E any] interface {
	MarshalEntry(e E) ([]byte, error)
	UnmarshalEntry(data []byte) (E, error)
}

// Save writes entries to path, preserving order. The file is written to a
// temp file in the same directory and renamed into place, so a crash never
// leaves a half-written snapshot at path.
func Save[E any](path string, entries []E, codec Codec[E]) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create snapshot temp file: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	bw := bufio.NewWriter(tmp)

	var header [12]byte
	binary.LittleEndian.PutUint32(header[0:4], magic)
	binary.LittleEndian.PutUint32(header[4:8], version)
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(entries)))
	if _, err := bw.Write(header[:]); err != nil {
		return fmt.Errorf("write snapshot header: %w", err)
	}

	zw, err := zstd.NewWriter(bw)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	var frame [8]byte
	for _, e := range entries {
		data, err := codec.MarshalEntry(e)
		if err != nil {
			zw.Close()
			return fmt.Errorf("marshal snapshot entry: %w", err)
		}
		binary.LittleEndian.PutUint32(frame[0:4], uint32(len(data)))
		binary.LittleEndian.PutUint32(frame[4:8], crc32.Checksum(data, crcTable))
		if _, err := zw.Write(frame[:]); err != nil {
			zw.Close()
			return fmt.Errorf("write snapshot frame: %w", err)
		}
		if _, err := zw.Write(data); err != nil {
			zw.Close()
			return fmt.Errorf("write snapshot entry: %w", err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zstd writer: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename snapshot into place: %w", err)
	}
	return nil
}

// Load reads entries from path in their original order. Malformed or
// incompatible content yields a *sink.RestoreError: the caller must treat it
// as fatal and not start the writer.
func Load[E any](path string, codec Codec[E]) ([]E, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	br := bufio.NewReader(f)

	var header [12]byte
	if _, err := io.ReadFull(br, header[:]); err != nil {
		return nil, &sink.RestoreError{Reason: "truncated snapshot header", Err: err}
	}
	if got := binary.LittleEndian.Uint32(header[0:4]); got != magic {
		return nil, &sink.RestoreError{Reason: fmt.Sprintf("bad snapshot magic 0x%08x", got)}
	}
	if got := binary.LittleEndian.Uint32(header[4:8]); got != version {
		return nil, &sink.RestoreError{Reason: fmt.Sprintf("unsupported snapshot version %d", got)}
	}
	count := binary.LittleEndian.Uint32(header[8:12])

	zr, err := zstd.NewReader(br)
	if err != nil {
		return nil, &sink.RestoreError{Reason: "corrupt snapshot compression", Err: err}
	}
	defer zr.Close()

	entries := make([]E, 0, count)
	var frame [8]byte
	for i := uint32(0); i < count; i++ {
		if _, err := io.ReadFull(zr, frame[:]); err != nil {
			return nil, &sink.RestoreError{Reason: "truncated snapshot frame", Err: err}
		}
		length := binary.LittleEndian.Uint32(frame[0:4])
		sum := binary.LittleEndian.Uint32(frame[4:8])
		if length > maxEntryBytes {
			return nil, &sink.RestoreError{Reason: fmt.Sprintf("snapshot entry length %d exceeds limit", length)}
		}
		data := make([]byte, length)
		if _, err := io.ReadFull(zr, data); err != nil {
			return nil, &sink.RestoreError{Reason: "truncated snapshot entry", Err: err}
		}
		if crc32.Checksum(data, crcTable) != sum {
			return nil, &sink.RestoreError{Reason: "snapshot entry checksum mismatch"}
		}
		e, err := codec.UnmarshalEntry(data)
		if err != nil {
			return nil, &sink.RestoreError{Reason: "unmarshal snapshot entry", Err: err}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Exists reports whether a snapshot file is present at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
