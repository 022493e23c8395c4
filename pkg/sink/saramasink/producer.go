// pkg/sink/saramasink/producer.go
package saramasink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/dnwe/otelsarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/YaganovValera/time-producer/pkg/backoff"
	"github.com/YaganovValera/time-producer/pkg/logger"
	"github.com/YaganovValera/time-producer/pkg/sink"
)

// -----------------------------------------------------------------------------
// Service label
// -----------------------------------------------------------------------------

var serviceLabel = "unknown"

// SetServiceLabel вызывается один раз при старте сервиса.
func SetServiceLabel(name string) { serviceLabel = name }

// -----------------------------------------------------------------------------
// Prometheus-метрики
// -----------------------------------------------------------------------------

var producerMetrics = struct {
	ConnectAttempts *prometheus.CounterVec
	ConnectErrors   *prometheus.CounterVec
	PublishSuccess  *prometheus.CounterVec
	PublishErrors   *prometheus.CounterVec
	PublishLatency  *prometheus.HistogramVec
	PingSuccess     *prometheus.CounterVec
	PingErrors      *prometheus.CounterVec
}{
	ConnectAttempts: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "time_producer", Subsystem: "sarama", Name: "connect_attempts_total",
			Help: "Kafka producer connect attempts",
		},
		[]string{"service"},
	),
	ConnectErrors: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "time_producer", Subsystem: "sarama", Name: "connect_errors_total",
			Help: "Kafka producer connect errors",
		},
		[]string{"service"},
	),
	PublishSuccess: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "time_producer", Subsystem: "sarama", Name: "publish_success_total",
			Help: "Successful publishes",
		},
		[]string{"service"},
	),
	PublishErrors: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "time_producer", Subsystem: "sarama", Name: "publish_errors_total",
			Help: "Publish errors by class",
		},
		[]string{"service", "class"},
	),
	PublishLatency: promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "time_producer", Subsystem: "sarama", Name: "publish_latency_seconds",
			Help:    "Publish latency (seconds)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service"},
	),
	PingSuccess: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "time_producer", Subsystem: "sarama", Name: "ping_success_total",
			Help: "Successful pings",
		},
		[]string{"service"},
	),
	PingErrors: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "time_producer", Subsystem: "sarama", Name: "ping_errors_total",
			Help: "Ping errors",
		},
		[]string{"service"},
	),
}

var tracer = otel.Tracer("sink/sarama")

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config groups all tunables for a Kafka Sync-producer.
//
// Zero values are replaced with sane defaults by applyDefaults().
type Config struct {
	// Brokers — список адресов Kafka-брокеров.
	Brokers []string

	// ClientID передаётся брокеру в каждом запросе.
	ClientID string

	// Version — версия протокола Kafka ("" → дефолт sarama).
	Version string

	// RequiredAcks определяет стратегию подтверждения брокеров:
	//   "all" (дефолт) | "leader" | "none".
	RequiredAcks string

	// Timeout — максимальное время ожидания ack от кластера.
	Timeout time.Duration

	// Compression указывает алгоритм сжатия:
	//   "none" (дефолт), "gzip", "snappy", "lz4", "zstd".
	Compression string

	// FlushFrequency — периодическое «смывание» буфера продьюсера.
	// Ноль → disable.
	FlushFrequency time.Duration

	// FlushMessages — пороговое кол-во сообщений для смыва.
	// Ноль → disable.
	FlushMessages int

	// Backoff описывает стратегию ретраев подключения (не отправки:
	// повтор отправки — забота вызывающего).
	Backoff backoff.Config
}

// applyDefaults заполняет zero-поля безопасными дефолтами.
func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.RequiredAcks == "" {
		c.RequiredAcks = "all"
	}
	if c.Compression == "" {
		c.Compression = "none"
	}
	if c.ClientID == "" {
		c.ClientID = "time-producer"
	}
}

// validate выполняет быстрые sanity-checks.
func (c Config) validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("kafka producer: brokers required")
	}
	return nil
}

// -----------------------------------------------------------------------------
// Private helpers
// -----------------------------------------------------------------------------

func buildSaramaConfig(c Config) (*sarama.Config, error) {
	sc := sarama.NewConfig()
	sc.ClientID = c.ClientID

	if c.Version != "" {
		v, err := sarama.ParseKafkaVersion(c.Version)
		if err != nil {
			return nil, fmt.Errorf("kafka producer: invalid Version %q: %w", c.Version, err)
		}
		sc.Version = v
	}

	// RequiredAcks
	switch strings.ToLower(c.RequiredAcks) {
	case "all":
		sc.Producer.RequiredAcks = sarama.WaitForAll
		// идемпотентность доступна только при acks=all
		sc.Producer.Idempotent = true
		sc.Net.MaxOpenRequests = 1
	case "leader":
		sc.Producer.RequiredAcks = sarama.WaitForLocal
	case "none":
		sc.Producer.RequiredAcks = sarama.NoResponse
	default:
		return nil, fmt.Errorf("kafka producer: invalid RequiredAcks %q", c.RequiredAcks)
	}

	// Producer common settings
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.Timeout = c.Timeout
	sc.Producer.Partitioner = sarama.NewHashPartitioner

	// Flush params
	if c.FlushFrequency > 0 {
		sc.Producer.Flush.Frequency = c.FlushFrequency
	}
	if c.FlushMessages > 0 {
		sc.Producer.Flush.Messages = c.FlushMessages
	}

	// Compression
	switch strings.ToLower(c.Compression) {
	case "none":
		sc.Producer.Compression = sarama.CompressionNone
	case "gzip":
		sc.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		sc.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		sc.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		sc.Producer.Compression = sarama.CompressionZSTD
	default:
		return nil, fmt.Errorf("kafka producer: invalid Compression %q", c.Compression)
	}

	return sc, nil
}

// fatalErrors — ответы брокера, повтор которых ничего не изменит.
var fatalErrors = []sarama.KError{
	sarama.ErrInvalidMessage,
	sarama.ErrMessageSizeTooLarge,
	sarama.ErrInvalidTopic,
	sarama.ErrMessageSetSizeTooLarge,
	sarama.ErrInvalidRequiredAcks,
	sarama.ErrTopicAuthorizationFailed,
	sarama.ErrClusterAuthorizationFailed,
	sarama.ErrSASLAuthenticationFailed,
	sarama.ErrUnsupportedVersion,
	sarama.ErrPolicyViolation,
}

// classify помечает невосстановимые ошибки sink.Permanent; остальные
// (сеть, выбор лидера, таймауты, нет брокеров) остаются retryable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sarama.ErrClosedClient) || errors.Is(err, sarama.ErrShuttingDown) {
		return sink.Permanent(err)
	}
	var cfgErr sarama.ConfigurationError
	if errors.As(err, &cfgErr) {
		return sink.Permanent(err)
	}
	var kerr sarama.KError
	if errors.As(err, &kerr) {
		for _, f := range fatalErrors {
			if kerr == f {
				return sink.Permanent(err)
			}
		}
	}
	return err
}

func toSaramaMessage(rec sink.Record) *sarama.ProducerMessage {
	msg := &sarama.ProducerMessage{
		Topic:     rec.Topic,
		Value:     sarama.ByteEncoder(rec.Value),
		Timestamp: rec.Timestamp,
	}
	if rec.Key != nil {
		msg.Key = sarama.ByteEncoder(rec.Key)
	}
	if len(rec.Headers) > 0 {
		msg.Headers = make([]sarama.RecordHeader, 0, len(rec.Headers))
		for _, h := range rec.Headers {
			msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(h.Key), Value: h.Value})
		}
	}
	return msg
}

// -----------------------------------------------------------------------------
// Producer implementation
// -----------------------------------------------------------------------------

// metadataClient — часть sarama.Client, нужная для Ping/Close.
type metadataClient interface {
	RefreshMetadata(topics ...string) error
	Close() error
}

// Producer — sink.Sink поверх sarama.SyncProducer.
type Producer struct {
	mu     sync.RWMutex
	closed bool
	prod   sarama.SyncProducer
	client metadataClient
	logger *logger.Logger
}

var _ sink.Sink = (*Producer)(nil)

// New создаёт SyncProducer c ретраями подключения.
func New(ctx context.Context, cfg Config, log *logger.Logger) (*Producer, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log = log.Named("kafka-producer")

	sc, err := buildSaramaConfig(cfg)
	if err != nil {
		return nil, err
	}

	var (
		client   sarama.Client
		syncProd sarama.SyncProducer
	)
	connect := func(ctx context.Context) error {
		producerMetrics.ConnectAttempts.WithLabelValues(serviceLabel).Inc()
		c, err := sarama.NewClient(cfg.Brokers, sc)
		if err != nil {
			producerMetrics.ConnectErrors.WithLabelValues(serviceLabel).Inc()
			var cfgErr sarama.ConfigurationError
			if errors.As(err, &cfgErr) {
				return backoff.Permanent(err)
			}
			return err
		}
		p, err := sarama.NewSyncProducerFromClient(c)
		if err != nil {
			producerMetrics.ConnectErrors.WithLabelValues(serviceLabel).Inc()
			_ = c.Close()
			return err
		}
		client, syncProd = c, p
		return nil
	}

	ctxConn, span := tracer.Start(ctx, "Connect",
		trace.WithAttributes(attribute.StringSlice("brokers", cfg.Brokers)))
	if err := backoff.Execute(ctxConn, cfg.Backoff, log, connect); err != nil {
		span.RecordError(err)
		span.End()
		log.Error("kafka producer connect failed", zap.Error(err))
		return nil, fmt.Errorf("kafka producer: connect: %w", err)
	}
	span.End()

	log.Info("kafka producer ready",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("acks", cfg.RequiredAcks),
		zap.String("compression", cfg.Compression),
	)
	return newProducer(otelsarama.WrapSyncProducer(sc, syncProd), client, log), nil
}

func newProducer(prod sarama.SyncProducer, client metadataClient, log *logger.Logger) *Producer {
	return &Producer{prod: prod, client: client, logger: log}
}

// Publish отправляет запись одной попыткой и ждёт ack.
func (k *Producer) Publish(ctx context.Context, rec sink.Record) error {
	_, span := tracer.Start(ctx, "Publish", trace.WithAttributes(
		attribute.String("topic", rec.Topic),
		attribute.String("key", string(rec.Key)),
	))
	defer span.End()

	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.closed {
		return sink.ErrClosed
	}

	start := time.Now()
	partition, offset, err := k.prod.SendMessage(toSaramaMessage(rec))
	latency := time.Since(start)
	producerMetrics.PublishLatency.WithLabelValues(serviceLabel).Observe(latency.Seconds())

	if err != nil {
		err = classify(err)
		class := "retryable"
		if sink.IsPermanent(err) {
			class = "permanent"
		}
		producerMetrics.PublishErrors.WithLabelValues(serviceLabel, class).Inc()
		span.RecordError(err)
		k.logger.Warn("publish failed",
			zap.String("topic", rec.Topic),
			zap.String("class", class),
			zap.Error(err),
		)
		return fmt.Errorf("kafka producer: send: %w", err)
	}

	producerMetrics.PublishSuccess.WithLabelValues(serviceLabel).Inc()
	span.SetAttributes(attribute.Int64("partition", int64(partition)), attribute.Int64("offset", offset))
	k.logger.Debug("publish succeeded",
		zap.String("topic", rec.Topic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
		zap.Float64("latency_s", latency.Seconds()),
	)
	return nil
}

// Ping обновляет метаданные клиента, проверяя доступность кластера.
func (k *Producer) Ping(ctx context.Context) error {
	_, span := tracer.Start(ctx, "Ping")
	defer span.End()

	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.closed {
		return sink.ErrClosed
	}

	if err := k.client.RefreshMetadata(); err != nil {
		producerMetrics.PingErrors.WithLabelValues(serviceLabel).Inc()
		span.RecordError(err)
		return fmt.Errorf("kafka producer: ping: %w", err)
	}
	producerMetrics.PingSuccess.WithLabelValues(serviceLabel).Inc()
	return nil
}

// Close корректно закрывает продьюсер и клиент. Повторный вызов — no-op.
func (k *Producer) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil
	}
	k.closed = true

	if err := k.prod.Close(); err != nil {
		k.logger.Error("producer close failed", zap.Error(err))
		return err
	}
	if err := k.client.Close(); err != nil && !errors.Is(err, sarama.ErrClosedClient) {
		k.logger.Error("client close failed", zap.Error(err))
		return err
	}
	k.logger.Info("kafka producer closed")
	return nil
}
