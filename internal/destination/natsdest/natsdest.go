// Package natsdest submits entries to a NATS subject.
package natsdest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sinkforge/sinkforge/internal/logging"
)

var natsPublishErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "sinkforge_nats_publish_errors_total",
	Help: "Total failed NATS publish rounds",
})

func init() {
	prometheus.MustRegister(natsPublishErrorsTotal)
	natsPublishErrorsTotal.Add(0)
}

// Msg is one destination-ready NATS message.
type Msg struct {
	Subject string `json:"subject"`
	Data    []byte `json:"data"`
}

// Config holds the NATS destination configuration.
type Config struct {
	// URL is the NATS server URL.
	URL string
	// DefaultSubject is used for messages without a subject of their own.
	DefaultSubject string
	// FlushTimeout bounds the post-publish flush round trip (default: 10s).
	FlushTimeout time.Duration
}

// Destination implements sink.Destination[Msg] over a NATS connection.
type Destination struct {
	conn           *nats.Conn
	defaultSubject string
	flushTimeout   time.Duration
}

// New connects to NATS and creates a destination.
func New(cfg Config) (*Destination, error) {
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 10 * time.Second
	}
	conn, err := nats.Connect(cfg.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Destination{
		conn:           conn,
		defaultSubject: cfg.DefaultSubject,
		flushTimeout:   cfg.FlushTimeout,
	}, nil
}

// SizeOf reports the message payload size plus subject overhead.
func (d *Destination) SizeOf(m Msg) int64 {
	return int64(len(m.Subject) + len(m.Data))
}

// Submit publishes the batch and flushes the connection. Publishes only
// buffer locally, so the flush round trip is the actual delivery signal; on
// any error the whole batch is reported failed (publish order within the
// batch cannot be torn apart reliably).
func (d *Destination) Submit(ctx context.Context, batch []Msg, done func(failed []Msg)) {
	go func() {
		for _, m := range batch {
			subject := m.Subject
			if subject == "" {
				subject = d.defaultSubject
			}
			if err := d.conn.Publish(subject, m.Data); err != nil {
				natsPublishErrorsTotal.Inc()
				logging.Warn("nats destination: publish failed", logging.F(
					"subject", subject,
					"error", err.Error(),
				))
				done(batch)
				return
			}
		}
		if err := d.conn.FlushTimeout(d.flushTimeout); err != nil {
			natsPublishErrorsTotal.Inc()
			done(batch)
			return
		}
		done(nil)
	}()
}

// Close drains and closes the NATS connection.
func (d *Destination) Close() {
	_ = d.conn.Drain()
}

// Codec serializes messages for snapshot persistence.
type Codec struct{}

// MarshalEntry implements snapshot.Codec.
func (Codec) MarshalEntry(m Msg) ([]byte, error) {
	return json.Marshal(m)
}

// UnmarshalEntry implements snapshot.Codec.
func (Codec) UnmarshalEntry(data []byte) (Msg, error) {
	var m Msg
	err := json.Unmarshal(data, &m)
	return m, err
}
