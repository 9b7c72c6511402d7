// Package pgdest submits entries to a Postgres table via pgx batch inserts.
package pgdest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sinkforge/sinkforge/internal/logging"
)

var pgInsertErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "sinkforge_pg_insert_errors_total",
	Help: "Total per-row Postgres insert errors",
})

func init() {
	prometheus.MustRegister(pgInsertErrorsTotal)
	pgInsertErrorsTotal.Add(0)
}

// Row is one destination-ready table row.
type Row struct {
	ID        string          `json:"id"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"ts"`
}

// Config holds the Postgres destination configuration.
type Config struct {
	// DSN is the pgx connection string.
	DSN string
	// Table is the target table; it must have (id text, payload jsonb,
	// ts timestamptz) columns.
	Table string
}

// Destination implements sink.Destination[Row] over a pgx pool.
type Destination struct {
	pool      *pgxpool.Pool
	insertSQL string
}

// New creates a Postgres destination and verifies connectivity.
func New(ctx context.Context, cfg Config) (*Destination, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Destination{
		pool: pool,
		insertSQL: fmt.Sprintf(
			"INSERT INTO %s (id, payload, ts) VALUES ($1, $2, $3) ON CONFLICT (id) DO NOTHING",
			pgx.Identifier{cfg.Table}.Sanitize(),
		),
	}, nil
}

// SizeOf reports the row payload size plus id overhead.
func (d *Destination) SizeOf(r Row) int64 {
	return int64(len(r.ID) + len(r.Payload))
}

// Submit queues one INSERT per row into a pgx batch and reports per-row
// failures. ON CONFLICT DO NOTHING makes resubmission after a restore
// harmless at the table level even though the sink itself is at-least-once.
func (d *Destination) Submit(ctx context.Context, batch []Row, done func(failed []Row)) {
	go func() {
		b := &pgx.Batch{}
		for _, r := range batch {
			b.Queue(d.insertSQL, r.ID, r.Payload, r.Timestamp)
		}
		br := d.pool.SendBatch(ctx, b)

		failedIdx := make([]bool, len(batch))
		for i := range batch {
			if _, err := br.Exec(); err != nil {
				pgInsertErrorsTotal.Inc()
				failedIdx[i] = true
			}
		}
		if err := br.Close(); err != nil {
			// Connection-level failure: everything unconfirmed is retried.
			logging.Warn("postgres destination: batch close failed", logging.F(
				"error", err.Error(),
				"batch_size", len(batch),
			))
			done(batch)
			return
		}
		var failed []Row
		for i, bad := range failedIdx {
			if bad {
				failed = append(failed, batch[i])
			}
		}
		done(failed)
	}()
}

// Close releases the pgx pool.
func (d *Destination) Close() {
	d.pool.Close()
}

// Codec serializes rows for snapshot persistence.
type Codec struct{}

// MarshalEntry implements snapshot.Codec.
func (Codec) MarshalEntry(r Row) ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalEntry implements snapshot.Codec.
func (Codec) UnmarshalEntry(data []byte) (Row, error) {
	var r Row
	err := json.Unmarshal(data, &r)
	return r, err
}
