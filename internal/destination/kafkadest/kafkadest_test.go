package kafkadest

import (
	"bytes"
	"testing"
)

func TestCodecRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		rec  Record
	}{
		{"key and value", Record{Key: []byte("user-42"), Value: []byte(`{"n":1}`)}},
		{"nil key", Record{Value: []byte("payload")}},
		{"nil value", Record{Key: []byte("tombstone")}},
		{"empty record", Record{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := Codec{}.MarshalEntry(tc.rec)
			if err != nil {
				t.Fatalf("MarshalEntry failed: %v", err)
			}
			got, err := Codec{}.UnmarshalEntry(data)
			if err != nil {
				t.Fatalf("UnmarshalEntry failed: %v", err)
			}
			if !bytes.Equal(got.Key, tc.rec.Key) || !bytes.Equal(got.Value, tc.rec.Value) {
				t.Fatalf("round trip = %+v, want %+v", got, tc.rec)
			}
		})
	}
}

func TestCodecRejectsShortFrame(t *testing.T) {
	if _, err := (Codec{}).UnmarshalEntry([]byte{1, 2}); err == nil {
		t.Fatal("short frame should fail")
	}
}

func TestCodecRejectsOversizedKeyLength(t *testing.T) {
	// keylen says 100 but only 2 bytes follow.
	data := []byte{100, 0, 0, 0, 'a', 'b'}
	if _, err := (Codec{}).UnmarshalEntry(data); err == nil {
		t.Fatal("key length past frame end should fail")
	}
}

func TestSizeOf(t *testing.T) {
	d := &Destination{topic: "t"}
	r := Record{Key: []byte("ab"), Value: []byte("cdef")}
	if got := d.SizeOf(r); got != 6 {
		t.Fatalf("SizeOf = %d, want 6", got)
	}
}
