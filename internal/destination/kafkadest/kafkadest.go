// Package kafkadest submits entries to a Kafka topic via franz-go.
package kafkadest

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/twmb/franz-go/pkg/kgo"
)

var kafkaProduceErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "sinkforge_kafka_produce_errors_total",
	Help: "Total per-record Kafka produce errors",
})

func init() {
	prometheus.MustRegister(kafkaProduceErrorsTotal)
	kafkaProduceErrorsTotal.Add(0)
}

// Record is one destination-ready Kafka record.
type Record struct {
	Key   []byte
	Value []byte
}

// Config holds the Kafka destination configuration.
type Config struct {
	// Brokers is the list of seed brokers.
	Brokers []string
	// Topic is the topic all records are produced to.
	Topic string
}

// Destination implements sink.Destination[Record] over a Kafka producer.
type Destination struct {
	client *kgo.Client
	topic  string
}

// New creates a Kafka destination. Records are produced with the client's
// own batching disabled from the sink's point of view: the sink writer
// decides batch boundaries, franz-go only handles the wire protocol.
func New(cfg Config) (*Destination, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Destination{client: client, topic: cfg.Topic}, nil
}

// SizeOf reports the record payload size.
func (d *Destination) SizeOf(r Record) int64 {
	return int64(len(r.Key) + len(r.Value))
}

// Submit produces every record asynchronously and aggregates per-record
// results into one completion. Failed records are reported in their original
// batch order so the writer's head-of-line retry ordering holds.
func (d *Destination) Submit(ctx context.Context, batch []Record, done func(failed []Record)) {
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		failedIdx = make([]bool, len(batch))
	)
	wg.Add(len(batch))
	for i, r := range batch {
		rec := &kgo.Record{Topic: d.topic, Key: r.Key, Value: r.Value}
		i := i
		d.client.Produce(ctx, rec, func(_ *kgo.Record, err error) {
			if err != nil {
				kafkaProduceErrorsTotal.Inc()
				mu.Lock()
				failedIdx[i] = true
				mu.Unlock()
			}
			wg.Done()
		})
	}
	go func() {
		wg.Wait()
		var failed []Record
		for i, bad := range failedIdx {
			if bad {
				failed = append(failed, batch[i])
			}
		}
		done(failed)
	}()
}

// Close releases the underlying Kafka client.
func (d *Destination) Close() {
	d.client.Close()
}

// Codec serializes records for snapshot persistence as
// keylen(u32) | key | value.
type Codec struct{}

// MarshalEntry implements snapshot.Codec.
func (Codec) MarshalEntry(r Record) ([]byte, error) {
	out := make([]byte, 4+len(r.Key)+len(r.Value))
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(r.Key)))
	copy(out[4:], r.Key)
	copy(out[4+len(r.Key):], r.Value)
	return out, nil
}

// UnmarshalEntry implements snapshot.Codec.
func (Codec) UnmarshalEntry(data []byte) (Record, error) {
	if len(data) < 4 {
		return Record{}, fmt.Errorf("kafka record frame too short: %d bytes", len(data))
	}
	keyLen := binary.LittleEndian.Uint32(data[0:4])
	if int(keyLen) > len(data)-4 {
		return Record{}, fmt.Errorf("kafka record key length %d exceeds frame", keyLen)
	}
	rest := data[4:]
	r := Record{
		Key:   append([]byte(nil), rest[:keyLen]...),
		Value: append([]byte(nil), rest[keyLen:]...),
	}
	if len(r.Key) == 0 {
		r.Key = nil
	}
	if len(r.Value) == 0 {
		r.Value = nil
	}
	return r, nil
}
