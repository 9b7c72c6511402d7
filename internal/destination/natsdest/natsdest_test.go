package natsdest

import (
	"bytes"
	"testing"
)

func TestCodecRoundTrip(t *testing.T) {
	in := Msg{Subject: "events.clicks", Data: []byte(`{"n":1}`)}
	data, err := Codec{}.MarshalEntry(in)
	if err != nil {
		t.Fatalf("MarshalEntry failed: %v", err)
	}
	got, err := Codec{}.UnmarshalEntry(data)
	if err != nil {
		t.Fatalf("UnmarshalEntry failed: %v", err)
	}
	if got.Subject != in.Subject || !bytes.Equal(got.Data, in.Data) {
		t.Fatalf("round trip = %+v, want %+v", got, in)
	}
}

func TestCodecRejectsGarbage(t *testing.T) {
	if _, err := (Codec{}).UnmarshalEntry([]byte("not json")); err == nil {
		t.Fatal("garbage should fail")
	}
}

func TestSizeOf(t *testing.T) {
	d := &Destination{}
	m := Msg{Subject: "abc", Data: []byte("defg")}
	if got := d.SizeOf(m); got != 7 {
		t.Fatalf("SizeOf = %d, want 7", got)
	}
}
