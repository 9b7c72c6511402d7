package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/sinkforge/sinkforge/internal/config"
	"github.com/sinkforge/sinkforge/internal/destination/httpdest"
	"github.com/sinkforge/sinkforge/internal/destination/kafkadest"
	"github.com/sinkforge/sinkforge/internal/destination/natsdest"
	"github.com/sinkforge/sinkforge/internal/destination/pgdest"
	"github.com/sinkforge/sinkforge/internal/logging"
	"github.com/sinkforge/sinkforge/internal/receiver"
	"github.com/sinkforge/sinkforge/internal/sink"
	"github.com/sinkforge/sinkforge/internal/snapshot"
)

func main() {
	cfg := config.ParseFlags()

	if cfg.ShowHelp {
		config.PrintUsage()
		os.Exit(0)
	}
	if cfg.ShowVersion {
		config.PrintVersion()
		os.Exit(0)
	}
	if err := cfg.Validate(); err != nil {
		logging.Fatal("invalid configuration", logging.F("error", err.Error()))
	}

	logging.SetResource(map[string]string{"service.name": "sinkforge"})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	writerCfg := sink.Config{
		MaxBatchSize:           cfg.MaxBatchSize,
		MaxInFlightRequests:    cfg.MaxInFlightRequests,
		MaxBufferedRequests:    cfg.MaxBufferedRequests,
		FlushOnBufferSizeBytes: cfg.FlushOnBufferSizeBytes,
		MaxTimeInBuffer:        cfg.MaxTimeInBuffer,
		MaxRecordSizeBytes:     cfg.MaxRecordSizeBytes,
		AIMDIncreaseStep:       cfg.AIMDIncreaseStep,
		AIMDDecreaseFactor:     cfg.AIMDDecreaseFactor,
	}

	var err error
	switch cfg.Destination {
	case "http":
		dest := httpdest.New(httpdest.Config{
			Endpoint: cfg.HTTPEndpoint,
			Timeout:  cfg.HTTPTimeout,
		})
		err = run(ctx, cfg, writerCfg, dest, httpdest.Codec{}, convertHTTP)

	case "kafka":
		var dest *kafkadest.Destination
		dest, err = kafkadest.New(kafkadest.Config{
			Brokers: cfg.KafkaBrokerList(),
			Topic:   cfg.KafkaTopic,
		})
		if err == nil {
			defer dest.Close()
			err = run(ctx, cfg, writerCfg, dest, kafkadest.Codec{}, convertKafka)
		}

	case "nats":
		var dest *natsdest.Destination
		dest, err = natsdest.New(natsdest.Config{
			URL:            cfg.NATSURL,
			DefaultSubject: cfg.NATSSubject,
		})
		if err == nil {
			defer dest.Close()
			err = run(ctx, cfg, writerCfg, dest, natsdest.Codec{}, convertNATS(cfg.NATSSubject))
		}

	case "postgres":
		var dest *pgdest.Destination
		dest, err = pgdest.New(ctx, pgdest.Config{
			DSN:   cfg.PostgresDSN,
			Table: cfg.PostgresTable,
		})
		if err == nil {
			defer dest.Close()
			err = run(ctx, cfg, writerCfg, dest, pgdest.Codec{}, convertPostgres)
		}
	}
	if err != nil {
		logging.Fatal("sinkforge exited with error", logging.F("error", err.Error()))
	}
	logging.Info("sinkforge stopped")
}

// lineSink adapts the element-typed sink to the receiver's line interface.
type lineSink[E any] struct {
	s *sink.Sink[[]byte, E]
}

func (ls lineSink[E]) WriteLine(ctx context.Context, line []byte) error {
	// The receiver's scanner reuses its buffer between lines.
	return ls.s.Write(ctx, append([]byte(nil), line...))
}

// run wires one destination type end to end: restore, writer, receiver,
// metrics server, and snapshot-on-shutdown.
func run[E any](
	ctx context.Context,
	cfg config.Config,
	writerCfg sink.Config,
	dest sink.Destination[E],
	codec snapshot.Codec[E],
	conv sink.Converter[[]byte, E],
) error {
	w := sink.New(writerCfg, dest)

	if cfg.SnapshotPath != "" && snapshot.Exists(cfg.SnapshotPath) {
		entries, err := snapshot.Load(cfg.SnapshotPath, codec)
		if err != nil {
			return err
		}
		if err := w.Restore(entries); err != nil {
			return err
		}
	}
	go w.Start(ctx)

	recv := receiver.NewHTTP(cfg.ListenAddr, lineSink[E]{s: sink.NewSink(conv, w)})

	statsMux := http.NewServeMux()
	statsMux.Handle("/metrics", promhttp.Handler())
	statsMux.HandleFunc("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok\n"))
	})
	statsServer := &http.Server{
		Addr:              cfg.StatsAddr,
		Handler:           statsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logging.Info("sinkforge starting", logging.F(
		"destination", cfg.Destination,
		"listen_addr", cfg.ListenAddr,
		"stats_addr", cfg.StatsAddr,
	))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(recv.Start)
	g.Go(func() error {
		if err := statsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = recv.Shutdown(shutdownCtx)
		_ = statsServer.Shutdown(shutdownCtx)
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	// Receivers are down; drain what we can, then snapshot the leftovers.
	w.Close()
	return saveShutdownSnapshot(w, cfg.SnapshotPath, codec)
}

// saveShutdownSnapshot persists entries the final drain could not deliver.
// A fully-drained writer removes any stale snapshot so the next start is
// clean.
func saveShutdownSnapshot[E any](w *sink.Writer[E], path string, codec snapshot.Codec[E]) error {
	if path == "" {
		return nil
	}
	entries, err := w.Snapshot(context.Background())
	if err != nil {
		return fmt.Errorf("capture shutdown snapshot: %w", err)
	}
	if len(entries) == 0 {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove stale snapshot: %w", err)
		}
		return nil
	}
	if err := snapshot.Save(path, entries, codec); err != nil {
		return fmt.Errorf("save shutdown snapshot: %w", err)
	}
	logging.Info("saved shutdown snapshot", logging.F(
		"path", path,
		"entries", len(entries),
	))
	return nil
}

// elementID derives a stable id from an element payload, so conversion
// stays pure and re-converted elements map to the same id.
func elementID(line []byte) string {
	sum := sha256.Sum256(line)
	return hex.EncodeToString(sum[:16])
}

func convertHTTP(line []byte, _ sink.WriteContext) (httpdest.Event, error) {
	if !json.Valid(line) {
		return httpdest.Event{}, fmt.Errorf("element is not valid JSON")
	}
	return httpdest.Event{ID: elementID(line), Payload: json.RawMessage(line)}, nil
}

func convertKafka(line []byte, _ sink.WriteContext) (kafkadest.Record, error) {
	var probe struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return kafkadest.Record{}, fmt.Errorf("element is not valid JSON: %w", err)
	}
	var key []byte
	if probe.Key != "" {
		key = []byte(probe.Key)
	}
	return kafkadest.Record{Key: key, Value: line}, nil
}

func convertNATS(defaultSubject string) sink.Converter[[]byte, natsdest.Msg] {
	return func(line []byte, _ sink.WriteContext) (natsdest.Msg, error) {
		var probe struct {
			Subject string `json:"subject"`
		}
		if err := json.Unmarshal(line, &probe); err != nil {
			return natsdest.Msg{}, fmt.Errorf("element is not valid JSON: %w", err)
		}
		subject := probe.Subject
		if subject == "" {
			subject = defaultSubject
		}
		return natsdest.Msg{Subject: subject, Data: line}, nil
	}
}

func convertPostgres(line []byte, wctx sink.WriteContext) (pgdest.Row, error) {
	if !json.Valid(line) {
		return pgdest.Row{}, fmt.Errorf("element is not valid JSON")
	}
	return pgdest.Row{
		ID:        elementID(line),
		Payload:   json.RawMessage(line),
		Timestamp: wctx.Timestamp,
	}, nil
}
