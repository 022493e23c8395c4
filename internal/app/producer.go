// internal/app/producer.go
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/YaganovValera/time-producer/internal/checkpoint"
	"github.com/YaganovValera/time-producer/internal/config"
	"github.com/YaganovValera/time-producer/internal/event"
	"github.com/YaganovValera/time-producer/internal/metrics"
	"github.com/YaganovValera/time-producer/internal/pacing"
	"github.com/YaganovValera/time-producer/internal/publisher"
	"github.com/YaganovValera/time-producer/pkg/backoff"
	"github.com/YaganovValera/time-producer/pkg/httpserver"
	"github.com/YaganovValera/time-producer/pkg/logger"
	"github.com/YaganovValera/time-producer/pkg/sink"
	"github.com/YaganovValera/time-producer/pkg/sink/kafkago"
	"github.com/YaganovValera/time-producer/pkg/sink/redisstream"
	"github.com/YaganovValera/time-producer/pkg/sink/saramasink"
	"github.com/YaganovValera/time-producer/pkg/telemetry"
)

// Run поднимает sink, checkpoint, HTTP-сервер и цикл публикации.
// Возвращает nil при остановке по сигналу или по max_events.
func Run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	backoff.SetServiceLabel(cfg.ServiceName)
	saramasink.SetServiceLabel(cfg.ServiceName)
	metrics.Register(nil)

	// Трассировка
	shutdownTracer, err := telemetry.InitTracer(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		Endpoint:       cfg.Telemetry.OTLPEndpoint,
		Protocol:       cfg.Telemetry.Protocol,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.ServiceVersion,
		Insecure:       cfg.Telemetry.Insecure,
		SamplerRatio:   cfg.Telemetry.SamplerRatio,
	}, log)
	if err != nil {
		return startupErr(ctx, log, "init tracer", err)
	}
	defer shutdownSafe(ctx, "telemetry", func() error { return shutdownTracer(context.Background()) }, log)

	// Sink
	snk, err := NewSink(ctx, cfg, log)
	if err != nil {
		return startupErr(ctx, log, "sink init", err)
	}
	defer shutdownSafe(ctx, "sink", snk.Close, log)

	// Checkpoint
	store, err := newCheckpoint(ctx, cfg, log)
	if err != nil {
		return startupErr(ctx, log, "checkpoint init", err)
	}
	defer shutdownSafe(ctx, "checkpoint", store.Close, log)

	start, err := checkpoint.NextStart(ctx, store)
	if err != nil {
		// без checkpoint продолжаем с нуля: ключи повторятся, доставка не пострадает
		log.Warn("checkpoint load failed, starting from zero", zap.Error(err))
		start = 0
	}

	gen := event.NewGenerator(event.WithStart(start), event.WithKeyPrefix(cfg.Producer.KeyPrefix))
	pub, err := publisher.New(publisher.Config{Topic: cfg.Kafka.Topic}, snk, log)
	if err != nil {
		return fmt.Errorf("publisher init: %w", err)
	}
	log.Info("producer ready",
		zap.String("driver", cfg.Sink.Driver),
		zap.String("topic", cfg.Kafka.Topic),
		zap.String("producer_id", pub.ProducerID()),
		zap.Uint64("start_seq", start),
	)

	ctrl, err := pacing.New(pacing.Config{
		Interval:     cfg.Producer.Interval,
		RetryCeiling: cfg.Producer.RetryCeiling,
		MaxEvents:    cfg.Producer.MaxEvents,
		Backoff:      cfg.Producer.Backoff,
	}, gen, pub, log,
		pacing.WithCheckpoint(store),
		pacing.WithObserver(rowLogger(log)),
	)
	if err != nil {
		return fmt.Errorf("pacing init: %w", err)
	}

	// HTTP-сервер
	httpSrv, err := httpserver.New(
		httpserver.Config{
			Port:            cfg.HTTP.Port,
			ReadTimeout:     cfg.HTTP.ReadTimeout,
			WriteTimeout:    cfg.HTTP.WriteTimeout,
			IdleTimeout:     cfg.HTTP.IdleTimeout,
			ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
			MetricsPath:     cfg.HTTP.MetricsPath,
			HealthzPath:     cfg.HTTP.HealthzPath,
			ReadyzPath:      cfg.HTTP.ReadyzPath,
		},
		snk.Ping,
		log,
		httpserver.RequestIDMiddleware(),
		httpserver.RecoverMiddleware(log),
		httpserver.MetricsMiddleware(),
		httpserver.CORSMiddleware(),
	)
	if err != nil {
		return fmt.Errorf("httpserver init: %w", err)
	}

	return supervise(ctx, log, httpSrv.Run, ctrl.Run)
}

// startupErr: остановка по сигналу во время подключения не считается ошибкой.
func startupErr(ctx context.Context, log *logger.Logger, stage string, err error) error {
	if ctx.Err() != nil {
		log.WithContext(ctx).Info("stopped during startup", zap.String("stage", stage), zap.Error(err))
		return nil
	}
	return fmt.Errorf("%s: %w", stage, err)
}

// supervise запускает HTTP-сервер и цикл публикации в одной errgroup.
// Нормальное завершение цикла (max_events) останавливает и сервер.
func supervise(ctx context.Context, log *logger.Logger, serve, loop func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	loopCtx, stop := context.WithCancel(gctx)
	defer stop()

	g.Go(func() error { return serve(loopCtx) })
	g.Go(func() error {
		defer stop()
		return loop(loopCtx)
	})

	if err := g.Wait(); err != nil {
		if errors.Is(err, context.Canceled) {
			log.WithContext(ctx).Info("producer stopped by context")
			return nil
		}
		return err
	}
	return nil
}

// NewSink создаёт драйвер, выбранный в sink.driver.
func NewSink(ctx context.Context, cfg *config.Config, log *logger.Logger) (sink.Sink, error) {
	var (
		s   sink.Sink
		err error
	)
	switch cfg.Sink.Driver {
	case config.DriverSarama, "":
		var p *saramasink.Producer
		p, err = saramasink.New(ctx, saramasink.Config{
			Brokers:        cfg.Kafka.Brokers,
			ClientID:       cfg.Kafka.ClientID,
			RequiredAcks:   cfg.Kafka.Acks,
			Timeout:        cfg.Kafka.Timeout,
			Compression:    cfg.Kafka.Compression,
			FlushFrequency: cfg.Kafka.FlushFrequency,
			FlushMessages:  cfg.Kafka.FlushMessages,
			Backoff:        cfg.Kafka.ConnectBackoff,
		}, log)
		if err == nil {
			s = p
		}
	case config.DriverKafkaGo:
		var w *kafkago.Writer
		w, err = kafkago.New(kafkago.Config{
			Brokers:                cfg.Kafka.Brokers,
			RequiredAcks:           cfg.Kafka.Acks,
			Compression:            cfg.Kafka.Compression,
			WriteTimeout:           cfg.Kafka.Timeout,
			AllowAutoTopicCreation: cfg.Kafka.AllowAutoTopicCreation,
		}, log)
		if err == nil {
			s = w
		}
	case config.DriverRedisStream:
		var rs *redisstream.Stream
		rs, err = redisstream.New(ctx, redisstream.Config{
			Addrs:    cfg.RedisStream.Addr,
			Username: cfg.RedisStream.Username,
			Password: cfg.RedisStream.Password,
			DB:       cfg.RedisStream.DB,
			MaxLen:   cfg.RedisStream.MaxLen,
			Backoff:  cfg.RedisStream.Backoff,
		}, log)
		if err == nil {
			s = rs
		}
	default:
		err = fmt.Errorf("unknown sink driver %q", cfg.Sink.Driver)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func newCheckpoint(ctx context.Context, cfg *config.Config, log *logger.Logger) (checkpoint.Store, error) {
	if !cfg.Checkpoint.Enabled {
		return checkpoint.Nop{}, nil
	}
	return checkpoint.NewRedis(ctx, checkpoint.RedisConfig{
		URL:     cfg.Checkpoint.RedisURL,
		Key:     cfg.Checkpoint.Key,
		Backoff: cfg.Checkpoint.Backoff,
	}, log)
}

// rowLogger печатает каждую доставленную строку (key, value).
func rowLogger(log *logger.Logger) pacing.Observer {
	log = log.Named("rows")
	return func(ev event.Event, res publisher.Result) {
		if res.Status != publisher.Success {
			log.Warn("delivery attempt failed",
				zap.String("key", res.EventKey),
				zap.Int("attempt", res.Attempts),
				zap.Stringer("status", res.Status),
				zap.Error(res.Err),
			)
			return
		}
		log.Info("row delivered",
			zap.String("key", ev.Key),
			zap.String("value", ev.Value),
			zap.Int("attempt", res.Attempts),
		)
	}
}

// shutdownSafe оборачивает вызов Close()/Shutdown() с логированием
func shutdownSafe(ctx context.Context, name string, fn func() error, log *logger.Logger) {
	log.WithContext(ctx).Info(fmt.Sprintf("%s: shutting down", name))
	if err := fn(); err != nil {
		log.WithContext(ctx).Error(fmt.Sprintf("%s shutdown error", name), zap.Error(err))
	} else {
		log.WithContext(ctx).Info(fmt.Sprintf("%s: shutdown complete", name))
	}
}
