// internal/checkpoint/redis.go
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/YaganovValera/time-producer/internal/metrics"
	"github.com/YaganovValera/time-producer/pkg/backoff"
	"github.com/YaganovValera/time-producer/pkg/logger"
	"github.com/YaganovValera/time-producer/pkg/telemetry"
)

// RedisConfig — параметры подключения.
type RedisConfig struct {
	URL     string // redis://host:6379/0
	Key     string
	Backoff backoff.Config
}

func (c *RedisConfig) applyDefaults() {
	if c.Key == "" {
		c.Key = "time-producer:checkpoint"
	}
}

func (c RedisConfig) validate() error {
	if c.URL == "" {
		return errors.New("checkpoint: redis URL required")
	}
	return nil
}

type kv interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// Redis хранит checkpoint строкой в одном ключе.
type Redis struct {
	client kv
	key    string
	tracer trace.Tracer
	log    *logger.Logger
}

// NewRedis подключается к Redis, проверяя соединение с retry.
func NewRedis(ctx context.Context, cfg RedisConfig, log *logger.Logger) (*Redis, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log = log.Named("checkpoint")

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: parse URL: %w", err)
	}
	client := redis.NewClient(opts)

	op := func(ctx context.Context) error { return client.Ping(ctx).Err() }
	if err := backoff.Execute(ctx, cfg.Backoff, log, op); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("checkpoint: redis connect: %w", err)
	}
	log.Info("checkpoint: connected", zap.String("addr", opts.Addr), zap.String("key", cfg.Key))

	return newRedis(client, cfg.Key, log), nil
}

func newRedis(client kv, key string, log *logger.Logger) *Redis {
	return &Redis{
		client: client,
		key:    key,
		tracer: telemetry.Tracer("time-producer/checkpoint"),
		log:    log,
	}
}

func (r *Redis) Load(ctx context.Context) (uint64, bool, error) {
	ctx, span := r.tracer.Start(ctx, "Checkpoint.Load", trace.WithAttributes(attribute.String("key", r.key)))
	defer span.End()

	raw, err := r.client.Get(ctx, r.key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		metrics.CheckpointErrors.WithLabelValues("load").Inc()
		span.RecordError(err)
		return 0, false, fmt.Errorf("checkpoint: GET %s: %w", r.key, err)
	}
	seq, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		metrics.CheckpointErrors.WithLabelValues("load").Inc()
		return 0, false, fmt.Errorf("checkpoint: corrupt value %q: %w", raw, err)
	}
	return seq, true, nil
}

func (r *Redis) Save(ctx context.Context, seq uint64) error {
	ctx, span := r.tracer.Start(ctx, "Checkpoint.Save", trace.WithAttributes(attribute.String("key", r.key)))
	defer span.End()

	if err := r.client.Set(ctx, r.key, strconv.FormatUint(seq, 10), 0).Err(); err != nil {
		metrics.CheckpointErrors.WithLabelValues("save").Inc()
		span.RecordError(err)
		return fmt.Errorf("checkpoint: SET %s: %w", r.key, err)
	}
	return nil
}

func (r *Redis) Close() error { return r.client.Close() }
