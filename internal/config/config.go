// internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/YaganovValera/time-producer/pkg/backoff"
	"github.com/YaganovValera/time-producer/pkg/configloader"
)

// EnvPrefix — префикс переменных окружения (TIMEPRODUCER_KAFKA_TOPIC и т.п.).
const EnvPrefix = "TIMEPRODUCER"

// Драйверы sink.
const (
	DriverSarama      = "sarama"
	DriverKafkaGo     = "kafka-go"
	DriverRedisStream = "redis-stream"
)

// -----------------------------------------------------------------------------
// Структуры
// -----------------------------------------------------------------------------

// Config — все настройки сервиса.
type Config struct {
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`

	Producer    ProducerConfig    `mapstructure:"producer"`
	Sink        SinkConfig        `mapstructure:"sink"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	RedisStream RedisStreamConfig `mapstructure:"redis_stream"`
	Checkpoint  CheckpointConfig  `mapstructure:"checkpoint"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	HTTP        HTTPConfig        `mapstructure:"http"`
}

// ProducerConfig — темп и повторы цикла публикации.
type ProducerConfig struct {
	Interval     time.Duration  `mapstructure:"interval"`
	RetryCeiling int            `mapstructure:"retry_ceiling"`
	MaxEvents    uint64         `mapstructure:"max_events"`
	KeyPrefix    string         `mapstructure:"key_prefix"`
	Backoff      backoff.Config `mapstructure:"backoff"`
}

type SinkConfig struct {
	Driver string `mapstructure:"driver"`
}

// KafkaConfig используется драйверами sarama и kafka-go.
type KafkaConfig struct {
	Brokers                []string       `mapstructure:"brokers"`
	Topic                  string         `mapstructure:"topic"`
	ClientID               string         `mapstructure:"client_id"`
	Acks                   string         `mapstructure:"acks"`
	Timeout                time.Duration  `mapstructure:"timeout"`
	Compression            string         `mapstructure:"compression"`
	FlushFrequency         time.Duration  `mapstructure:"flush_frequency"`
	FlushMessages          int            `mapstructure:"flush_messages"`
	AllowAutoTopicCreation bool           `mapstructure:"allow_auto_topic_creation"`
	ConnectBackoff         backoff.Config `mapstructure:"connect_backoff"`
}

// RedisStreamConfig — драйвер redis-stream; топик берётся из kafka.topic.
type RedisStreamConfig struct {
	Addr     []string       `mapstructure:"addr"`
	Username string         `mapstructure:"username"`
	Password string         `mapstructure:"password"`
	DB       int            `mapstructure:"db"`
	MaxLen   int64          `mapstructure:"max_len"`
	Backoff  backoff.Config `mapstructure:"backoff"`
}

type CheckpointConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	RedisURL string         `mapstructure:"redis_url"`
	Key      string         `mapstructure:"key"`
	Backoff  backoff.Config `mapstructure:"backoff"`
}

type TelemetryConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	OTLPEndpoint string  `mapstructure:"otel_endpoint"`
	Protocol     string  `mapstructure:"protocol"`
	Insecure     bool    `mapstructure:"insecure"`
	SamplerRatio float64 `mapstructure:"sampler_ratio"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	DevMode bool   `mapstructure:"dev_mode"`
}

// HTTPConfig — сервер /metrics, /healthz, /readyz.
type HTTPConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MetricsPath     string        `mapstructure:"metrics_path"`
	HealthzPath     string        `mapstructure:"healthz_path"`
	ReadyzPath      string        `mapstructure:"readyz_path"`
}

// -----------------------------------------------------------------------------
// Loader
// -----------------------------------------------------------------------------

// Defaults воспроизводят исходный скрипт: три локальных брокера, топик
// timestamps, одно событие в секунду.
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		"service_name":    "time-producer",
		"service_version": "v1.0.0",

		"producer.interval":                     "1s",
		"producer.retry_ceiling":                5,
		"producer.max_events":                   0,
		"producer.key_prefix":                   "",
		"producer.backoff.initial_interval":     "200ms",
		"producer.backoff.randomization_factor": 0.2,
		"producer.backoff.multiplier":           2.0,
		"producer.backoff.max_interval":         "10s",

		"sink.driver": DriverSarama,

		"kafka.brokers":                              []string{"localhost:9093", "localhost:9094", "localhost:9095"},
		"kafka.topic":                                "timestamps",
		"kafka.client_id":                            "time-producer",
		"kafka.acks":                                 "all",
		"kafka.timeout":                              "10s",
		"kafka.compression":                          "none",
		"kafka.flush_frequency":                      "0s",
		"kafka.flush_messages":                       0,
		"kafka.allow_auto_topic_creation":            true,
		"kafka.connect_backoff.initial_interval":     "500ms",
		"kafka.connect_backoff.randomization_factor": 0.5,
		"kafka.connect_backoff.max_interval":         "10s",
		"kafka.connect_backoff.max_elapsed_time":     "1m",

		"redis_stream.addr":                         []string{"localhost:6379"},
		"redis_stream.username":                     "",
		"redis_stream.password":                     "",
		"redis_stream.db":                           0,
		"redis_stream.max_len":                      0,
		"redis_stream.backoff.initial_interval":     "500ms",
		"redis_stream.backoff.randomization_factor": 0.5,
		"redis_stream.backoff.max_interval":         "10s",
		"redis_stream.backoff.max_elapsed_time":     "1m",

		"checkpoint.enabled":                      false,
		"checkpoint.redis_url":                    "redis://localhost:6379/0",
		"checkpoint.key":                          "time-producer:checkpoint",
		"checkpoint.backoff.initial_interval":     "500ms",
		"checkpoint.backoff.randomization_factor": 0.5,
		"checkpoint.backoff.max_interval":         "5s",
		"checkpoint.backoff.max_elapsed_time":     "30s",

		"telemetry.enabled":       false,
		"telemetry.otel_endpoint": "localhost:4317",
		"telemetry.protocol":      "grpc",
		"telemetry.insecure":      true,
		"telemetry.sampler_ratio": 1.0,

		"logging.level":    "info",
		"logging.dev_mode": false,

		"http.port":             8080,
		"http.read_timeout":     "10s",
		"http.write_timeout":    "15s",
		"http.idle_timeout":     "60s",
		"http.shutdown_timeout": "5s",
		"http.metrics_path":     "/metrics",
		"http.healthz_path":     "/healthz",
		"http.readyz_path":      "/readyz",
	}
}

// Load загружает и валидирует конфиг. Если path пустой — только ENV и defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := configloader.Load(path, EnvPrefix, Defaults(), &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// -----------------------------------------------------------------------------
// Validation
// -----------------------------------------------------------------------------

func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required")
	}
	if c.ServiceVersion == "" {
		return fmt.Errorf("service_version is required")
	}

	// Producer
	if c.Producer.Interval <= 0 {
		return fmt.Errorf("producer.interval must be > 0")
	}
	if c.Producer.RetryCeiling < 0 {
		return fmt.Errorf("producer.retry_ceiling must be ≥ 0")
	}
	if err := c.Producer.Backoff.Validate(); err != nil {
		return fmt.Errorf("producer.backoff: %w", err)
	}

	// Sink
	c.Sink.Driver = strings.ToLower(c.Sink.Driver)
	switch c.Sink.Driver {
	case DriverSarama, DriverKafkaGo:
		if err := c.validateKafka(); err != nil {
			return err
		}
	case DriverRedisStream:
		if len(c.RedisStream.Addr) == 0 {
			return fmt.Errorf("redis_stream.addr is required")
		}
		if c.RedisStream.MaxLen < 0 {
			return fmt.Errorf("redis_stream.max_len must be ≥ 0")
		}
	default:
		return fmt.Errorf("sink.driver must be one of [%s, %s, %s]",
			DriverSarama, DriverKafkaGo, DriverRedisStream)
	}
	if c.Kafka.Topic == "" {
		return fmt.Errorf("kafka.topic is required")
	}

	// Checkpoint
	if c.Checkpoint.Enabled && c.Checkpoint.RedisURL == "" {
		return fmt.Errorf("checkpoint.redis_url is required when checkpoint is enabled")
	}

	// Telemetry
	if c.Telemetry.Enabled {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otel_endpoint is required")
		}
		switch strings.ToLower(c.Telemetry.Protocol) {
		case "grpc", "http":
		default:
			return fmt.Errorf("telemetry.protocol must be one of [grpc, http]")
		}
	}
	if c.Telemetry.SamplerRatio < 0 || c.Telemetry.SamplerRatio > 1 {
		return fmt.Errorf("telemetry.sampler_ratio must be in [0,1]")
	}

	// Logging
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error]")
	}

	return validateHTTP(&c.HTTP)
}

func (c *Config) validateKafka() error {
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required")
	}
	switch strings.ToLower(c.Kafka.Acks) {
	case "all", "leader", "none":
	default:
		return fmt.Errorf("kafka.acks must be one of [all, leader, none]")
	}
	switch strings.ToLower(c.Kafka.Compression) {
	case "none", "gzip", "snappy", "lz4", "zstd":
	default:
		return fmt.Errorf("kafka.compression must be one of [none, gzip, snappy, lz4, zstd]")
	}
	if c.Kafka.Timeout <= 0 {
		return fmt.Errorf("kafka.timeout must be > 0")
	}
	return nil
}

func validateHTTP(h *HTTPConfig) error {
	if h.Port <= 0 || h.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535")
	}
	durations := map[string]time.Duration{
		"http.read_timeout":     h.ReadTimeout,
		"http.write_timeout":    h.WriteTimeout,
		"http.idle_timeout":     h.IdleTimeout,
		"http.shutdown_timeout": h.ShutdownTimeout,
	}
	for k, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be > 0", k)
		}
	}
	paths := map[string]string{
		"http.metrics_path": h.MetricsPath,
		"http.healthz_path": h.HealthzPath,
		"http.readyz_path":  h.ReadyzPath,
	}
	for k, p := range paths {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("%s must start with '/'", k)
		}
	}
	return nil
}
