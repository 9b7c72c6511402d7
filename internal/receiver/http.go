// Package receiver accepts NDJSON elements over HTTP and feeds them into
// the sink. Backpressure from a full sink buffer surfaces here as slow
// request handling.
package receiver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sinkforge/sinkforge/internal/logging"
	"github.com/sinkforge/sinkforge/internal/sink"
)

var (
	linesReceivedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sinkforge_receiver_lines_total",
		Help: "Total NDJSON lines accepted by the receiver",
	})

	linesRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sinkforge_receiver_rejected_total",
		Help: "Total NDJSON lines rejected by the receiver, by reason",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(linesReceivedTotal)
	prometheus.MustRegister(linesRejectedTotal)

	linesReceivedTotal.Add(0)
	linesRejectedTotal.WithLabelValues("too_large").Add(0)
	linesRejectedTotal.WithLabelValues("convert").Add(0)
	linesRejectedTotal.WithLabelValues("closed").Add(0)
}

// LineWriter consumes one raw element line. Implemented by sink.Sink via a
// thin adapter in the daemon.
type LineWriter interface {
	WriteLine(ctx context.Context, line []byte) error
}

// maxLineBytes bounds a single NDJSON line; lines beyond the sink's own
// record ceiling get rejected there anyway.
const maxLineBytes = 16 * 1024 * 1024

// HTTP is the NDJSON ingest server.
type HTTP struct {
	server *http.Server
	sink   LineWriter
	addr   string
}

// NewHTTP creates an NDJSON HTTP receiver.
func NewHTTP(addr string, lw LineWriter) *HTTP {
	r := &HTTP{sink: lw, addr: addr}

	mux := http.NewServeMux()
	mux.HandleFunc("/ingest", r.handleIngest)

	r.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return r
}

// Start runs the server until Shutdown.
func (r *HTTP) Start() error {
	logging.Info("NDJSON receiver listening", logging.F("addr", r.addr))
	if err := r.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (r *HTTP) Shutdown(ctx context.Context) error {
	return r.server.Shutdown(ctx)
}

// handleIngest streams NDJSON lines from the request body into the sink.
// One oversized line fails only that line; a closed sink fails the request.
func (r *HTTP) handleIngest(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	defer req.Body.Close()

	scanner := bufio.NewScanner(req.Body)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	accepted, rejected := 0, 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		err := r.sink.WriteLine(req.Context(), line)
		switch {
		case err == nil:
			accepted++
			linesReceivedTotal.Inc()
		case errors.Is(err, sink.ErrWriterClosed):
			linesRejectedTotal.WithLabelValues("closed").Inc()
			http.Error(w, "sink is shutting down", http.StatusServiceUnavailable)
			return
		default:
			var tooLarge *sink.RecordTooLargeError
			if errors.As(err, &tooLarge) {
				rejected++
				linesRejectedTotal.WithLabelValues("too_large").Inc()
				continue
			}
			if req.Context().Err() != nil {
				return
			}
			rejected++
			linesRejectedTotal.WithLabelValues("convert").Inc()
		}
	}
	if err := scanner.Err(); err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	status := http.StatusOK
	if rejected > 0 && accepted == 0 {
		status = http.StatusBadRequest
	}
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"accepted":%d,"rejected":%d}`+"\n", accepted, rejected)
}
