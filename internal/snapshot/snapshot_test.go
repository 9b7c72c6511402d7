package snapshot

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sinkforge/sinkforge/internal/sink"
)

// stringCodec round-trips plain string entries.
type stringCodec struct{}

func (stringCodec) MarshalEntry(e string) ([]byte, error)    { return []byte(e), nil }
func (stringCodec) UnmarshalEntry(data []byte) (string, error) { return string(data), nil }

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.snapshot")
	entries := []string{"alpha", "beta", "", "gamma"}

	if err := Save(path, entries, stringCodec{}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, err := Load(path, stringCodec{})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(got) != len(entries) {
		t.Fatalf("loaded %d entries, want %d", len(got), len(entries))
	}
	for i := range entries {
		if got[i] != entries[i] {
			t.Fatalf("entry %d = %q, want %q", i, got[i], entries[i])
		}
	}
}

func TestSaveEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.snapshot")
	if err := Save(path, nil, stringCodec{}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, err := Load(path, stringCodec{})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("loaded %d entries, want 0", len(got))
	}
}

func TestSaveOverwritesAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.snapshot")
	if err := Save(path, []string{"old"}, stringCodec{}); err != nil {
		t.Fatalf("first Save failed: %v", err)
	}
	if err := Save(path, []string{"new-a", "new-b"}, stringCodec{}); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}
	got, err := Load(path, stringCodec{})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(got) != 2 || got[0] != "new-a" || got[1] != "new-b" {
		t.Fatalf("loaded %v, want [new-a new-b]", got)
	}

	// No temp files left behind.
	matches, _ := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp-*"))
	if len(matches) != 0 {
		t.Fatalf("leftover temp files: %v", matches)
	}
}

func TestLoadRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bogus.snapshot")
	if err := os.WriteFile(path, []byte("this is not a snapshot at all"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path, stringCodec{})
	var re *sink.RestoreError
	if !errors.As(err, &re) {
		t.Fatalf("Load = %v, want RestoreError", err)
	}
}

func TestLoadRejectsTruncated(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.snapshot")
	if err := Save(path, []string{"alpha", "beta"}, stringCodec{}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	truncated := filepath.Join(dir, "truncated.snapshot")
	if err := os.WriteFile(truncated, data[:len(data)-4], 0o644); err != nil {
		t.Fatal(err)
	}
	_, err = Load(truncated, stringCodec{})
	var re *sink.RestoreError
	if !errors.As(err, &re) {
		t.Fatalf("Load of truncated file = %v, want RestoreError", err)
	}
}

func TestLoadRejectsCorruptedPayload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.snapshot")
	if err := Save(path, []string{"alpha", "beta", "gamma"}, stringCodec{}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	// Flip a byte inside the compressed payload, past the 12-byte header.
	data[14] ^= 0xFF
	corrupted := filepath.Join(dir, "corrupted.snapshot")
	if err := os.WriteFile(corrupted, data, 0o644); err != nil {
		t.Fatal(err)
	}
	_, err = Load(corrupted, stringCodec{})
	var re *sink.RestoreError
	if !errors.As(err, &re) {
		t.Fatalf("Load of corrupted file = %v, want RestoreError", err)
	}
}

func TestLoadMissingFileIsNotRestoreError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.snapshot"), stringCodec{})
	if err == nil {
		t.Fatal("Load of missing file should fail")
	}
	var re *sink.RestoreError
	if errors.As(err, &re) {
		t.Fatalf("missing file should surface as plain I/O error, got RestoreError: %v", err)
	}
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.snapshot")
	if Exists(path) {
		t.Fatal("Exists should be false before Save")
	}
	if err := Save(path, []string{"x"}, stringCodec{}); err != nil {
		t.Fatal(err)
	}
	if !Exists(path) {
		t.Fatal("Exists should be true after Save")
	}
}
