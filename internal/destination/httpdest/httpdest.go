// Package httpdest submits entries to a generic HTTP ingestion endpoint as
// NDJSON batches.
package httpdest

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sinkforge/sinkforge/internal/logging"
)

var (
	httpSubmitErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sinkforge_http_submit_errors_total",
		Help: "Total HTTP submission errors by kind",
	}, []string{"kind"})

	httpDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sinkforge_http_dropped_total",
		Help: "Total entries dropped on non-retryable HTTP responses",
	})
)

func init() {
	prometheus.MustRegister(httpSubmitErrorsTotal)
	prometheus.MustRegister(httpDroppedTotal)

	httpSubmitErrorsTotal.WithLabelValues("network").Add(0)
	httpSubmitErrorsTotal.WithLabelValues("server").Add(0)
	httpSubmitErrorsTotal.WithLabelValues("client").Add(0)
	httpDroppedTotal.Add(0)
}

// Event is one destination-ready entry: an opaque JSON payload with an id
// the endpoint can use for per-entry failure reporting.
type Event struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// Config holds the HTTP destination configuration.
type Config struct {
	// Endpoint is the ingestion URL batches are POSTed to.
	Endpoint string
	// Timeout is the per-request timeout (default: 30s).
	Timeout time.Duration
}

// response is the endpoint's per-batch result: ids of entries to retry.
type response struct {
	Failed []string `json:"failed"`
}

// Destination implements sink.Destination[Event] over HTTP.
type Destination struct {
	client   *resty.Client
	endpoint string
}

// New creates an HTTP destination.
func New(cfg Config) *Destination {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/x-ndjson").
		SetRetryCount(0) // retry policy belongs to the sink writer
	return &Destination{client: client, endpoint: cfg.Endpoint}
}

// SizeOf reports the NDJSON-encoded size of an event, newline included.
func (d *Destination) SizeOf(e Event) int64 {
	data, err := json.Marshal(e)
	if err != nil {
		return 0
	}
	return int64(len(data)) + 1
}

// Submit POSTs the batch as NDJSON and reports the subset to retry. Server
// errors, rate limiting and network failures fail the whole batch; other
// client errors drop the batch (resubmitting a structurally-rejected payload
// cannot succeed); a 2xx response may name individual entries to retry by id.
func (d *Destination) Submit(ctx context.Context, batch []Event, done func(failed []Event)) {
	body := make([]byte, 0, 1024)
	for _, e := range batch {
		line, err := json.Marshal(e)
		if err != nil {
			// Unmarshalable events cannot ever be sent; drop them here.
			logging.Error("http destination: dropping unmarshalable event", logging.F(
				"event_id", e.ID,
				"error", err.Error(),
			))
			httpDroppedTotal.Inc()
			continue
		}
		body = append(body, line...)
		body = append(body, '\n')
	}

	go func() {
		resp, err := d.client.R().
			SetContext(ctx).
			SetBody(body).
			Post(d.endpoint)
		if err != nil {
			httpSubmitErrorsTotal.WithLabelValues("network").Inc()
			done(batch)
			return
		}

		code := resp.StatusCode()
		switch {
		case code >= 200 && code < 300:
			var r response
			if err := json.Unmarshal(resp.Body(), &r); err != nil || len(r.Failed) == 0 {
				done(nil)
				return
			}
			retry := make(map[string]bool, len(r.Failed))
			for _, id := range r.Failed {
				retry[id] = true
			}
			var failed []Event
			for _, e := range batch {
				if retry[e.ID] {
					failed = append(failed, e)
				}
			}
			done(failed)

		case code == http.StatusTooManyRequests || code >= 500:
			httpSubmitErrorsTotal.WithLabelValues("server").Inc()
			done(batch)

		default:
			// Non-retryable client error: reporting these as failed would
			// requeue them forever, so drop with a logged error instead.
			httpSubmitErrorsTotal.WithLabelValues("client").Inc()
			httpDroppedTotal.Add(float64(len(batch)))
			logging.Error("http destination: dropping batch on non-retryable response", logging.F(
				"status", code,
				"batch_size", len(batch),
				"body", string(resp.Body()),
			))
			done(nil)
		}
	}()
}

// Codec serializes events for snapshot persistence.
type Codec struct{}

// MarshalEntry implements snapshot.Codec.
func (Codec) MarshalEntry(e Event) ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEntry implements snapshot.Codec.
func (Codec) UnmarshalEntry(data []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(data, &e)
	return e, err
}
