package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"
)

// version is set at build time via ldflags.
var version = "dev"

// Config holds the daemon configuration.
type Config struct {
	// Receiver settings
	ListenAddr string
	StatsAddr  string

	// Destination selection: http, kafka, nats or postgres.
	Destination string

	// HTTP destination settings
	HTTPEndpoint string
	HTTPTimeout  time.Duration

	// Kafka destination settings
	KafkaBrokers string // comma-separated
	KafkaTopic   string

	// NATS destination settings
	NATSURL     string
	NATSSubject string

	// Postgres destination settings
	PostgresDSN   string
	PostgresTable string

	// Sink writer settings
	MaxBatchSize           int
	MaxInFlightRequests    int
	MaxBufferedRequests    int
	FlushOnBufferSizeBytes int64
	MaxTimeInBuffer        time.Duration
	MaxRecordSizeBytes     int64
	AIMDIncreaseStep       int
	AIMDDecreaseFactor     float64

	// Snapshot settings
	SnapshotPath string

	ShowHelp    bool
	ShowVersion bool
}

// Default returns the default daemon configuration.
func Default() Config {
	return Config{
		ListenAddr:             ":8080",
		StatsAddr:              ":9090",
		Destination:            "http",
		HTTPEndpoint:           "http://localhost:9000/ingest",
		HTTPTimeout:            30 * time.Second,
		KafkaBrokers:           "localhost:9092",
		KafkaTopic:             "sinkforge",
		NATSURL:                "nats://localhost:4222",
		NATSSubject:            "sinkforge.events",
		PostgresTable:          "sinkforge_events",
		MaxBatchSize:           512,
		MaxInFlightRequests:    16,
		MaxBufferedRequests:    10000,
		FlushOnBufferSizeBytes: 1024 * 1024,
		MaxTimeInBuffer:        5 * time.Second,
		MaxRecordSizeBytes:     1024 * 1024,
		AIMDIncreaseStep:       10,
		AIMDDecreaseFactor:     0.5,
		SnapshotPath:           "./sinkforge.snapshot",
	}
}

// ParseFlags parses command-line flags, optionally layered over a YAML
// config file given via -config. Flags win over the file.
func ParseFlags() Config {
	cfg := Default()

	configFile := flag.String("config", "", "Path to YAML config file")

	flag.StringVar(&cfg.ListenAddr, "listen-addr", cfg.ListenAddr, "NDJSON ingest listen address")
	flag.StringVar(&cfg.StatsAddr, "stats-addr", cfg.StatsAddr, "Metrics/health listen address")
	flag.StringVar(&cfg.Destination, "destination", cfg.Destination, "Destination type: http, kafka, nats, postgres")

	flag.StringVar(&cfg.HTTPEndpoint, "http-endpoint", cfg.HTTPEndpoint, "HTTP destination ingest URL")
	flag.DurationVar(&cfg.HTTPTimeout, "http-timeout", cfg.HTTPTimeout, "HTTP destination request timeout")
	flag.StringVar(&cfg.KafkaBrokers, "kafka-brokers", cfg.KafkaBrokers, "Kafka seed brokers (comma-separated)")
	flag.StringVar(&cfg.KafkaTopic, "kafka-topic", cfg.KafkaTopic, "Kafka destination topic")
	flag.StringVar(&cfg.NATSURL, "nats-url", cfg.NATSURL, "NATS server URL")
	flag.StringVar(&cfg.NATSSubject, "nats-subject", cfg.NATSSubject, "NATS destination subject")
	flag.StringVar(&cfg.PostgresDSN, "postgres-dsn", cfg.PostgresDSN, "Postgres connection string")
	flag.StringVar(&cfg.PostgresTable, "postgres-table", cfg.PostgresTable, "Postgres destination table")

	flag.IntVar(&cfg.MaxBatchSize, "max-batch-size", cfg.MaxBatchSize, "Max entries per submission call")
	flag.IntVar(&cfg.MaxInFlightRequests, "max-in-flight-requests", cfg.MaxInFlightRequests, "Max concurrent outstanding submissions")
	flag.IntVar(&cfg.MaxBufferedRequests, "max-buffered-requests", cfg.MaxBufferedRequests, "Max buffered entries before producers block")
	flag.Int64Var(&cfg.FlushOnBufferSizeBytes, "flush-on-buffer-size-bytes", cfg.FlushOnBufferSizeBytes, "Buffered byte size that triggers a flush")
	flag.DurationVar(&cfg.MaxTimeInBuffer, "max-time-in-buffer", cfg.MaxTimeInBuffer, "Time-based flush interval")
	flag.Int64Var(&cfg.MaxRecordSizeBytes, "max-record-size-bytes", cfg.MaxRecordSizeBytes, "Hard per-entry size ceiling")
	flag.IntVar(&cfg.AIMDIncreaseStep, "aimd-increase-step", cfg.AIMDIncreaseStep, "AIMD additive batch-size increase per success")
	flag.Float64Var(&cfg.AIMDDecreaseFactor, "aimd-decrease-factor", cfg.AIMDDecreaseFactor, "AIMD multiplicative batch-size decrease on failure")

	flag.StringVar(&cfg.SnapshotPath, "snapshot-path", cfg.SnapshotPath, "Snapshot file path ('' disables snapshots)")

	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show usage")
	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version")

	flag.Parse()

	if *configFile != "" {
		fileCfg, err := LoadYAML(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config file %s: %v\n", *configFile, err)
			os.Exit(1)
		}
		cfg = mergeFlagsOverFile(cfg, fileCfg)
	}
	return cfg
}

// mergeFlagsOverFile starts from the file config and re-applies every flag
// the user set explicitly on the command line.
func mergeFlagsOverFile(flagCfg, fileCfg Config) Config {
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	merged := fileCfg
	apply := func(name string, fn func()) {
		if set[name] {
			fn()
		}
	}
	apply("listen-addr", func() { merged.ListenAddr = flagCfg.ListenAddr })
	apply("stats-addr", func() { merged.StatsAddr = flagCfg.StatsAddr })
	apply("destination", func() { merged.Destination = flagCfg.Destination })
	apply("http-endpoint", func() { merged.HTTPEndpoint = flagCfg.HTTPEndpoint })
	apply("http-timeout", func() { merged.HTTPTimeout = flagCfg.HTTPTimeout })
	apply("kafka-brokers", func() { merged.KafkaBrokers = flagCfg.KafkaBrokers })
	apply("kafka-topic", func() { merged.KafkaTopic = flagCfg.KafkaTopic })
	apply("nats-url", func() { merged.NATSURL = flagCfg.NATSURL })
	apply("nats-subject", func() { merged.NATSSubject = flagCfg.NATSSubject })
	apply("postgres-dsn", func() { merged.PostgresDSN = flagCfg.PostgresDSN })
	apply("postgres-table", func() { merged.PostgresTable = flagCfg.PostgresTable })
	apply("max-batch-size", func() { merged.MaxBatchSize = flagCfg.MaxBatchSize })
	apply("max-in-flight-requests", func() { merged.MaxInFlightRequests = flagCfg.MaxInFlightRequests })
	apply("max-buffered-requests", func() { merged.MaxBufferedRequests = flagCfg.MaxBufferedRequests })
	apply("flush-on-buffer-size-bytes", func() { merged.FlushOnBufferSizeBytes = flagCfg.FlushOnBufferSizeBytes })
	apply("max-time-in-buffer", func() { merged.MaxTimeInBuffer = flagCfg.MaxTimeInBuffer })
	apply("max-record-size-bytes", func() { merged.MaxRecordSizeBytes = flagCfg.MaxRecordSizeBytes })
	apply("aimd-increase-step", func() { merged.AIMDIncreaseStep = flagCfg.AIMDIncreaseStep })
	apply("aimd-decrease-factor", func() { merged.AIMDDecreaseFactor = flagCfg.AIMDDecreaseFactor })
	apply("snapshot-path", func() { merged.SnapshotPath = flagCfg.SnapshotPath })
	return merged
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	switch c.Destination {
	case "http", "kafka", "nats", "postgres":
	default:
		return fmt.Errorf("unknown destination %q (want http, kafka, nats or postgres)", c.Destination)
	}
	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("max-batch-size must be positive, got %d", c.MaxBatchSize)
	}
	if c.MaxInFlightRequests <= 0 {
		return fmt.Errorf("max-in-flight-requests must be positive, got %d", c.MaxInFlightRequests)
	}
	if c.MaxBufferedRequests < c.MaxBatchSize {
		return fmt.Errorf("max-buffered-requests (%d) must be at least max-batch-size (%d)",
			c.MaxBufferedRequests, c.MaxBatchSize)
	}
	if c.MaxTimeInBuffer <= 0 {
		return fmt.Errorf("max-time-in-buffer must be positive, got %s", c.MaxTimeInBuffer)
	}
	if c.MaxRecordSizeBytes <= 0 {
		return fmt.Errorf("max-record-size-bytes must be positive, got %d", c.MaxRecordSizeBytes)
	}
	if c.AIMDDecreaseFactor <= 0 || c.AIMDDecreaseFactor >= 1.0 {
		return fmt.Errorf("aimd-decrease-factor must be in (0, 1), got %g", c.AIMDDecreaseFactor)
	}
	if c.Destination == "postgres" && c.PostgresDSN == "" {
		return fmt.Errorf("postgres destination requires -postgres-dsn")
	}
	return nil
}

// KafkaBrokerList splits the comma-separated broker list.
func (c Config) KafkaBrokerList() []string {
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// PrintUsage prints flag usage.
func PrintUsage() {
	fmt.Fprintf(os.Stderr, "Usage of sinkforge:\n")
	flag.PrintDefaults()
}

// PrintVersion prints the build version.
func PrintVersion() {
	fmt.Printf("sinkforge %s\n", version)
}
