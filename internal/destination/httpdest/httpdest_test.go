package httpdest

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sinkforge/sinkforge/internal/logging"
)

func init() {
	logging.SetOutput(io.Discard)
}

func batch(ids ...string) []Event {
	out := make([]Event, len(ids))
	for i, id := range ids {
		out[i] = Event{ID: id, Payload: json.RawMessage(`{"n":1}`)}
	}
	return out
}

func submit(t *testing.T, d *Destination, b []Event) []Event {
	t.Helper()
	ch := make(chan []Event, 1)
	d.Submit(context.Background(), b, func(failed []Event) { ch <- failed })
	select {
	case failed := <-ch:
		return failed
	case <-time.After(5 * time.Second):
		t.Fatal("done callback never fired")
		return nil
	}
}

func TestSubmitSuccessReportsNoFailures(t *testing.T) {
	var gotLines []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sc := bufio.NewScanner(r.Body)
		for sc.Scan() {
			gotLines = append(gotLines, sc.Text())
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := New(Config{Endpoint: srv.URL})
	failed := submit(t, d, batch("a", "b"))
	if len(failed) != 0 {
		t.Fatalf("failed = %v, want none", failed)
	}
	if len(gotLines) != 2 || !strings.Contains(gotLines[0], `"id":"a"`) {
		t.Fatalf("server saw lines %v", gotLines)
	}
}

func TestSubmitPartialFailureReturnsNamedSubset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"failed":["b"]}`))
	}))
	defer srv.Close()

	d := New(Config{Endpoint: srv.URL})
	failed := submit(t, d, batch("a", "b", "c"))
	if len(failed) != 1 || failed[0].ID != "b" {
		t.Fatalf("failed = %v, want [b]", failed)
	}
}

func TestSubmitServerErrorFailsWholeBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := New(Config{Endpoint: srv.URL})
	b := batch("a", "b")
	failed := submit(t, d, b)
	if len(failed) != len(b) {
		t.Fatalf("failed = %v, want whole batch", failed)
	}
}

func TestSubmitRateLimitFailsWholeBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	d := New(Config{Endpoint: srv.URL})
	failed := submit(t, d, batch("a"))
	if len(failed) != 1 {
		t.Fatalf("failed = %v, want whole batch", failed)
	}
}

func TestSubmitClientErrorDropsBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	d := New(Config{Endpoint: srv.URL})
	failed := submit(t, d, batch("a", "b"))
	if len(failed) != 0 {
		t.Fatalf("failed = %v, want drop (none reported for retry)", failed)
	}
}

func TestSubmitNetworkErrorFailsWholeBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // unreachable endpoint

	d := New(Config{Endpoint: srv.URL, Timeout: time.Second})
	failed := submit(t, d, batch("a"))
	if len(failed) != 1 {
		t.Fatalf("failed = %v, want whole batch", failed)
	}
}

func TestSizeOfCountsNewline(t *testing.T) {
	d := New(Config{Endpoint: "http://unused"})
	e := Event{ID: "x", Payload: json.RawMessage(`{}`)}
	data, _ := json.Marshal(e)
	if got := d.SizeOf(e); got != int64(len(data))+1 {
		t.Fatalf("SizeOf = %d, want %d", got, len(data)+1)
	}
}

func TestCodecRoundTrip(t *testing.T) {
	in := Event{ID: "evt-1", Payload: json.RawMessage(`{"k":"v"}`)}
	data, err := Codec{}.MarshalEntry(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := Codec{}.UnmarshalEntry(data)
	if err != nil {
		t.Fatal(err)
	}
	if out.ID != in.ID || string(out.Payload) != string(in.Payload) {
		t.Fatalf("round trip = %+v, want %+v", out, in)
	}
}
