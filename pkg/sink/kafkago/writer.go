// pkg/sink/kafkago/writer.go
package kafkago

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/YaganovValera/time-producer/pkg/logger"
	"github.com/YaganovValera/time-producer/pkg/sink"
)

var tracer = otel.Tracer("sink/kafkago")

// Config — параметры kafka-go Writer.
type Config struct {
	Brokers                []string
	RequiredAcks           string        // "all" (дефолт) | "leader" | "none"
	Compression            string        // "none" (дефолт) | "gzip" | "snappy" | "lz4" | "zstd"
	WriteTimeout           time.Duration // ожидание ack
	AllowAutoTopicCreation bool
}

func (c *Config) applyDefaults() {
	if c.RequiredAcks == "" {
		c.RequiredAcks = "all"
	}
	if c.Compression == "" {
		c.Compression = "none"
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
}

func (c Config) validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("kafka-go writer: brokers required")
	}
	return nil
}

func parseAcks(s string) (kafka.RequiredAcks, error) {
	switch strings.ToLower(s) {
	case "all":
		return kafka.RequireAll, nil
	case "leader":
		return kafka.RequireOne, nil
	case "none":
		return kafka.RequireNone, nil
	default:
		return 0, fmt.Errorf("kafka-go writer: invalid RequiredAcks %q", s)
	}
}

func parseCompression(s string) (kafka.Compression, error) {
	switch strings.ToLower(s) {
	case "none":
		return 0, nil
	case "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	default:
		return 0, fmt.Errorf("kafka-go writer: invalid Compression %q", s)
	}
}

// messageWriter — часть *kafka.Writer, которую использует Writer.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// metadataFetcher — часть *kafka.Client для Ping.
type metadataFetcher interface {
	Metadata(ctx context.Context, req *kafka.MetadataRequest) (*kafka.MetadataResponse, error)
}

// Writer — sink.Sink поверх segmentio/kafka-go.
type Writer struct {
	mu     sync.RWMutex
	closed bool
	w      messageWriter
	meta   metadataFetcher
	log    *logger.Logger
}

var _ sink.Sink = (*Writer)(nil)

// New создаёт Writer. Соединения kafka-go открываются лениво, при первой записи.
func New(cfg Config, log *logger.Logger) (*Writer, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	acks, err := parseAcks(cfg.RequiredAcks)
	if err != nil {
		return nil, err
	}
	comp, err := parseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}

	addr := kafka.TCP(cfg.Brokers...)
	w := &kafka.Writer{
		Addr:                   addr,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           acks,
		Compression:            comp,
		WriteTimeout:           cfg.WriteTimeout,
		BatchSize:              1,
		MaxAttempts:            1,
		AllowAutoTopicCreation: cfg.AllowAutoTopicCreation,
	}
	client := &kafka.Client{Addr: addr, Timeout: cfg.WriteTimeout}

	log = log.Named("kafka-go-writer")
	log.Info("kafka-go writer ready", zap.Strings("brokers", cfg.Brokers))
	return &Writer{w: w, meta: client, log: log}, nil
}

// classify: kafka.Error с Temporary() == false — невосстановимая ошибка брокера.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var we kafka.WriteErrors
	if errors.As(err, &we) {
		for _, e := range we {
			if e != nil && isFatal(e) {
				return sink.Permanent(err)
			}
		}
		return err
	}
	if isFatal(err) {
		return sink.Permanent(err)
	}
	return err
}

func isFatal(err error) bool {
	var kerr kafka.Error
	return errors.As(err, &kerr) && !kerr.Temporary()
}

// Publish пишет одну запись (одна попытка, BatchSize=1).
func (w *Writer) Publish(ctx context.Context, rec sink.Record) error {
	ctx, span := tracer.Start(ctx, "Publish", trace.WithAttributes(
		attribute.String("topic", rec.Topic),
		attribute.String("key", string(rec.Key)),
	))
	defer span.End()

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return sink.ErrClosed
	}

	msg := kafka.Message{
		Topic: rec.Topic,
		Key:   rec.Key,
		Value: rec.Value,
		Time:  rec.Timestamp,
	}
	for _, h := range rec.Headers {
		msg.Headers = append(msg.Headers, kafka.Header{Key: h.Key, Value: h.Value})
	}

	if err := w.w.WriteMessages(ctx, msg); err != nil {
		err = classify(err)
		span.RecordError(err)
		w.log.Warn("publish failed",
			zap.String("topic", rec.Topic),
			zap.Bool("permanent", sink.IsPermanent(err)),
			zap.Error(err),
		)
		return fmt.Errorf("kafka-go writer: write: %w", err)
	}
	return nil
}

// Ping запрашивает метаданные кластера.
func (w *Writer) Ping(ctx context.Context) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return sink.ErrClosed
	}
	if _, err := w.meta.Metadata(ctx, &kafka.MetadataRequest{}); err != nil {
		return fmt.Errorf("kafka-go writer: ping: %w", err)
	}
	return nil
}

// Close закрывает writer; повторный вызов — no-op.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.w.Close(); err != nil {
		w.log.Error("writer close failed", zap.Error(err))
		return err
	}
	w.log.Info("kafka-go writer closed")
	return nil
}
