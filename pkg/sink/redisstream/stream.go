// pkg/sink/redisstream/stream.go
package redisstream

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/redis/rueidis"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/YaganovValera/time-producer/pkg/backoff"
	"github.com/YaganovValera/time-producer/pkg/logger"
	"github.com/YaganovValera/time-producer/pkg/sink"
)

var tracer = otel.Tracer("sink/redisstream")

// Поля записи в стриме.
const (
	FieldKey       = "key"
	FieldValue     = "value"
	FieldTimestamp = "ts"
)

// Config — параметры подключения к Redis.
type Config struct {
	Addrs    []string
	Username string
	Password string
	DB       int
	// MaxLen > 0 → XADD MAXLEN ~ MaxLen (приблизительная обрезка стрима).
	MaxLen  int64
	Backoff backoff.Config
}

func (c Config) validate() error {
	if len(c.Addrs) == 0 {
		return fmt.Errorf("redis stream: addrs required")
	}
	if c.MaxLen < 0 {
		return fmt.Errorf("redis stream: max_len must be ≥ 0")
	}
	return nil
}

// Stream — sink.Sink: каждая запись уходит в XADD <topic>.
type Stream struct {
	mu     sync.RWMutex
	closed bool
	client rueidis.Client
	maxLen int64
	log    *logger.Logger
}

var _ sink.Sink = (*Stream)(nil)

// New подключается к Redis с ретраями.
func New(ctx context.Context, cfg Config, log *logger.Logger) (*Stream, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log = log.Named("redis-stream")

	var client rueidis.Client
	connect := func(ctx context.Context) error {
		c, err := rueidis.NewClient(rueidis.ClientOption{
			InitAddress:  cfg.Addrs,
			Username:     cfg.Username,
			Password:     cfg.Password,
			SelectDB:     cfg.DB,
			DisableCache: true, // клиентский кэш для XADD не нужен и требует RESP3
		})
		if err != nil {
			return err
		}
		client = c
		return nil
	}
	if err := backoff.Execute(ctx, cfg.Backoff, log, connect); err != nil {
		return nil, fmt.Errorf("redis stream: connect: %w", err)
	}

	log.Info("redis stream sink ready", zap.Strings("addrs", cfg.Addrs), zap.Int64("max_len", cfg.MaxLen))
	return &Stream{client: client, maxLen: cfg.MaxLen, log: log}, nil
}

// streamFields раскладывает запись в пары поле/значение XADD.
// Заголовки идут после ключа, значения и времени с префиксом "h:".
func streamFields(rec sink.Record) []string {
	fields := make([]string, 0, 6+2*len(rec.Headers))
	fields = append(fields,
		FieldKey, string(rec.Key),
		FieldValue, string(rec.Value),
		FieldTimestamp, strconv.FormatInt(rec.Timestamp.UnixMilli(), 10),
	)
	for _, h := range rec.Headers {
		fields = append(fields, "h:"+h.Key, string(h.Value))
	}
	return fields
}

func (s *Stream) xadd(rec sink.Record) rueidis.Completed {
	fields := streamFields(rec)
	b := s.client.B()
	if s.maxLen > 0 {
		fv := b.Xadd().Key(rec.Topic).Maxlen().Almost().Threshold(strconv.FormatInt(s.maxLen, 10)).Id("*").FieldValue()
		for i := 0; i+1 < len(fields); i += 2 {
			fv = fv.FieldValue(fields[i], fields[i+1])
		}
		return fv.Build()
	}
	fv := b.Xadd().Key(rec.Topic).Id("*").FieldValue()
	for i := 0; i+1 < len(fields); i += 2 {
		fv = fv.FieldValue(fields[i], fields[i+1])
	}
	return fv.Build()
}

// permanentPrefixes — ответы Redis, которые не исправятся повтором.
// Прочие ERR (например, "max number of clients reached") остаются retryable.
var permanentPrefixes = []string{
	"WRONGTYPE",
	"NOAUTH",
	"WRONGPASS",
	"NOPERM",
	"ERR syntax error",
	"ERR The ID specified in XADD",
	"ERR Invalid stream ID",
	"ERR wrong number of arguments",
	"ERR unknown command",
	"ERR value is not an integer",
	"ERR invalid DB index",
	"ERR DB index is out of range",
}

func isPermanentReply(msg string) bool {
	for _, p := range permanentPrefixes {
		if strings.HasPrefix(msg, p) {
			return true
		}
	}
	return false
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, rueidis.ErrClosing) {
		return sink.Permanent(err)
	}
	if rerr, ok := rueidis.IsRedisErr(err); ok && isPermanentReply(rerr.Error()) {
		return sink.Permanent(err)
	}
	return err
}

// Publish выполняет XADD; ответ сервера — подтверждение записи.
func (s *Stream) Publish(ctx context.Context, rec sink.Record) error {
	ctx, span := tracer.Start(ctx, "Publish", trace.WithAttributes(
		attribute.String("stream", rec.Topic),
		attribute.String("key", string(rec.Key)),
	))
	defer span.End()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return sink.ErrClosed
	}

	id, err := s.client.Do(ctx, s.xadd(rec)).ToString()
	if err != nil {
		err = classify(err)
		span.RecordError(err)
		s.log.Warn("xadd failed",
			zap.String("stream", rec.Topic),
			zap.Bool("permanent", sink.IsPermanent(err)),
			zap.Error(err),
		)
		return fmt.Errorf("redis stream: xadd: %w", err)
	}
	span.SetAttributes(attribute.String("entry_id", id))
	s.log.Debug("xadd succeeded", zap.String("stream", rec.Topic), zap.String("id", id))
	return nil
}

// Ping отправляет PING.
func (s *Stream) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return sink.ErrClosed
	}
	if err := s.client.Do(ctx, s.client.B().Ping().Build()).Error(); err != nil {
		return fmt.Errorf("redis stream: ping: %w", err)
	}
	return nil
}

// Close закрывает клиента; повторный вызов — no-op.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.client.Close()
	s.log.Info("redis stream sink closed")
	return nil
}
