package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"
)

func capture(t *testing.T, fn func()) Entry {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)

	fn()

	var entry Entry
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("log line is not valid JSON: %v (%q)", err, buf.String())
	}
	return entry
}

func TestInfoProducesJSONLine(t *testing.T) {
	entry := capture(t, func() {
		Info("writer started", F("destination", "kafka", "batch_size", 512))
	})
	if entry.Level != "INFO" {
		t.Errorf("level = %q, want INFO", entry.Level)
	}
	if entry.Message != "writer started" {
		t.Errorf("msg = %q", entry.Message)
	}
	if entry.Attributes["destination"] != "kafka" {
		t.Errorf("attrs = %v, want destination=kafka", entry.Attributes)
	}
	// JSON numbers decode as float64.
	if entry.Attributes["batch_size"] != float64(512) {
		t.Errorf("attrs = %v, want batch_size=512", entry.Attributes)
	}
	if entry.Timestamp == "" {
		t.Error("ts should be set")
	}
}

func TestWarnAndErrorLevels(t *testing.T) {
	if e := capture(t, func() { Warn("slow flush") }); e.Level != "WARN" {
		t.Errorf("level = %q, want WARN", e.Level)
	}
	if e := capture(t, func() { Error("submit failed") }); e.Level != "ERROR" {
		t.Errorf("level = %q, want ERROR", e.Level)
	}
}

func TestResourceAttachedToEveryLine(t *testing.T) {
	SetResource(map[string]string{"service": "sinkforge"})
	defer SetResource(nil)

	entry := capture(t, func() { Info("hello") })
	if entry.Resource["service"] != "sinkforge" {
		t.Fatalf("resource = %v, want service=sinkforge", entry.Resource)
	}
}

func TestFSkipsNonStringKeys(t *testing.T) {
	attrs := F("ok", 1, 42, "dropped", "trailing")
	if len(attrs) != 1 || attrs["ok"] != 1 {
		t.Fatalf("F = %v, want only ok=1", attrs)
	}
}

func TestFEmpty(t *testing.T) {
	if attrs := F(); len(attrs) != 0 {
		t.Fatalf("F() = %v, want empty", attrs)
	}
}
