package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration for YAML decoding of values like "5s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// YAMLConfig is the YAML configuration file structure.
type YAMLConfig struct {
	Receiver struct {
		ListenAddr string `yaml:"listen_addr"`
		StatsAddr  string `yaml:"stats_addr"`
	} `yaml:"receiver"`

	Destination struct {
		Type string `yaml:"type"`

		HTTP struct {
			Endpoint string   `yaml:"endpoint"`
			Timeout  Duration `yaml:"timeout"`
		} `yaml:"http"`

		Kafka struct {
			Brokers string `yaml:"brokers"`
			Topic   string `yaml:"topic"`
		} `yaml:"kafka"`

		NATS struct {
			URL     string `yaml:"url"`
			Subject string `yaml:"subject"`
		} `yaml:"nats"`

		Postgres struct {
			DSN   string `yaml:"dsn"`
			Table string `yaml:"table"`
		} `yaml:"postgres"`
	} `yaml:"destination"`

	Sink struct {
		MaxBatchSize           int      `yaml:"max_batch_size"`
		MaxInFlightRequests    int      `yaml:"max_in_flight_requests"`
		MaxBufferedRequests    int      `yaml:"max_buffered_requests"`
		FlushOnBufferSizeBytes int64    `yaml:"flush_on_buffer_size_bytes"`
		MaxTimeInBuffer        Duration `yaml:"max_time_in_buffer"`
		MaxRecordSizeBytes     int64    `yaml:"max_record_size_bytes"`
		AIMDIncreaseStep       int      `yaml:"aimd_increase_step"`
		AIMDDecreaseFactor     float64  `yaml:"aimd_decrease_factor"`
	} `yaml:"sink"`

	Snapshot struct {
		Path string `yaml:"path"`
	} `yaml:"snapshot"`
}

// LoadYAML reads a YAML config file and overlays it on the defaults.
func LoadYAML(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	var yc YAMLConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}

	if yc.Receiver.ListenAddr != "" {
		cfg.ListenAddr = yc.Receiver.ListenAddr
	}
	if yc.Receiver.StatsAddr != "" {
		cfg.StatsAddr = yc.Receiver.StatsAddr
	}
	if yc.Destination.Type != "" {
		cfg.Destination = yc.Destination.Type
	}
	if yc.Destination.HTTP.Endpoint != "" {
		cfg.HTTPEndpoint = yc.Destination.HTTP.Endpoint
	}
	if yc.Destination.HTTP.Timeout != 0 {
		cfg.HTTPTimeout = time.Duration(yc.Destination.HTTP.Timeout)
	}
	if yc.Destination.Kafka.Brokers != "" {
		cfg.KafkaBrokers = yc.Destination.Kafka.Brokers
	}
	if yc.Destination.Kafka.Topic != "" {
		cfg.KafkaTopic = yc.Destination.Kafka.Topic
	}
	if yc.Destination.NATS.URL != "" {
		cfg.NATSURL = yc.Destination.NATS.URL
	}
	if yc.Destination.NATS.Subject != "" {
		cfg.NATSSubject = yc.Destination.NATS.Subject
	}
	if yc.Destination.Postgres.DSN != "" {
		cfg.PostgresDSN = yc.Destination.Postgres.DSN
	}
	if yc.Destination.Postgres.Table != "" {
		cfg.PostgresTable = yc.Destination.Postgres.Table
	}
	if yc.Sink.MaxBatchSize != 0 {
		cfg.MaxBatchSize = yc.Sink.MaxBatchSize
	}
	if yc.Sink.MaxInFlightRequests != 0 {
		cfg.MaxInFlightRequests = yc.Sink.MaxInFlightRequests
	}
	if yc.Sink.MaxBufferedRequests != 0 {
		cfg.MaxBufferedRequests = yc.Sink.MaxBufferedRequests
	}
	if yc.Sink.FlushOnBufferSizeBytes != 0 {
		cfg.FlushOnBufferSizeBytes = yc.Sink.FlushOnBufferSizeBytes
	}
	if yc.Sink.MaxTimeInBuffer != 0 {
		cfg.MaxTimeInBuffer = time.Duration(yc.Sink.MaxTimeInBuffer)
	}
	if yc.Sink.MaxRecordSizeBytes != 0 {
		cfg.MaxRecordSizeBytes = yc.Sink.MaxRecordSizeBytes
	}
	if yc.Sink.AIMDIncreaseStep != 0 {
		cfg.AIMDIncreaseStep = yc.Sink.AIMDIncreaseStep
	}
	if yc.Sink.AIMDDecreaseFactor != 0 {
		cfg.AIMDDecreaseFactor = yc.Sink.AIMDDecreaseFactor
	}
	if yc.Snapshot.Path != "" {
		cfg.SnapshotPath = yc.Snapshot.Path
	}
	return cfg, nil
}
