// internal/pacing/controller.go
//
// Controller ведёт цикл Generator → Publisher с заданным интервалом и
// реагирует на backpressure: Retryable → экспоненциальный backoff с
// повтором того же события, Fatal или исчерпание потолка → остановка.
package pacing

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/YaganovValera/time-producer/internal/checkpoint"
	"github.com/YaganovValera/time-producer/internal/event"
	"github.com/YaganovValera/time-producer/internal/metrics"
	"github.com/YaganovValera/time-producer/internal/publisher"
	"github.com/YaganovValera/time-producer/pkg/backoff"
	"github.com/YaganovValera/time-producer/pkg/logger"
)

// State — состояние контроллера.
type State int32

const (
	Running State = iota
	Backoff
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Backoff:
		return "backoff"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var (
	// ErrFatal — доставка невозможна; процесс должен завершиться с ошибкой.
	ErrFatal = errors.New("pacing: fatal delivery error")
	// ErrRetriesExhausted — Retryable повторялся дольше потолка.
	ErrRetriesExhausted = errors.New("pacing: retry ceiling exceeded")
)

// Config — параметры темпа и повторов.
type Config struct {
	Interval     time.Duration  // пауза между событиями
	RetryCeiling int            // максимум повторов одного события; 0 → без повторов
	MaxEvents    uint64         // 0 → без ограничения
	Backoff      backoff.Config // задержки между повторами
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
}

func (c Config) validate() error {
	if c.RetryCeiling < 0 {
		return fmt.Errorf("pacing: RetryCeiling must be ≥ 0")
	}
	return c.Backoff.Validate()
}

// Observer получает каждый DeliveryResult вместе с событием.
type Observer func(ev event.Event, res publisher.Result)

// Option настраивает Controller.
type Option func(*Controller)

// WithObserver регистрирует наблюдателя результатов.
func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observer = o }
}

// WithCheckpoint сохраняет Seq после каждого Success.
func WithCheckpoint(s checkpoint.Store) Option {
	return func(c *Controller) { c.store = s }
}

// WithBackoffNotify вызывается перед каждым ожиданием backoff.
func WithBackoffNotify(fn backoff.NotifyFunc) Option {
	return func(c *Controller) { c.notify = fn }
}

// Controller — однопоточный цикл публикации.
type Controller struct {
	cfg      Config
	gen      *event.Generator
	pub      publisher.Publisher
	store    checkpoint.Store
	observer Observer
	notify   backoff.NotifyFunc
	log      *logger.Logger

	state     atomic.Int32
	delivered atomic.Uint64
}

// New собирает Controller.
func New(cfg Config, gen *event.Generator, pub publisher.Publisher, log *logger.Logger, opts ...Option) (*Controller, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if gen == nil || pub == nil {
		return nil, errors.New("pacing: generator and publisher are required")
	}
	c := &Controller{
		cfg:   cfg,
		gen:   gen,
		pub:   pub,
		store: checkpoint.Nop{},
		log:   log.Named("pacing"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.setState(Stopped)
	return c, nil
}

// State возвращает текущее состояние.
func (c *Controller) State() State { return State(c.state.Load()) }

// Delivered — число подтверждённых событий за этот запуск.
func (c *Controller) Delivered() uint64 { return c.delivered.Load() }

func (c *Controller) setState(s State) {
	c.state.Store(int32(s))
	metrics.ControllerState.Set(float64(s))
}

// Run крутит цикл до отмены ctx, достижения MaxEvents или Fatal.
// Отмена ctx и MaxEvents возвращают nil.
func (c *Controller) Run(ctx context.Context) error {
	c.setState(Running)
	defer c.setState(Stopped)

	c.log.Info("pacing loop started",
		zap.Duration("interval", c.cfg.Interval),
		zap.Int("retry_ceiling", c.cfg.RetryCeiling),
		zap.Uint64("max_events", c.cfg.MaxEvents),
		zap.Uint64("start_seq", c.gen.Peek()),
	)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("pacing loop stopped", zap.Uint64("delivered", c.Delivered()))
			return nil
		case <-timer.C:
		}

		if err := c.step(ctx); err != nil {
			if ctx.Err() != nil {
				c.log.Info("pacing loop stopped", zap.Uint64("delivered", c.Delivered()))
				return nil
			}
			return err
		}

		if c.cfg.MaxEvents > 0 && c.Delivered() >= c.cfg.MaxEvents {
			c.log.Info("max events reached", zap.Uint64("delivered", c.Delivered()))
			return nil
		}
		timer.Reset(c.cfg.Interval)
	}
}

// step генерирует одно событие и доставляет его с повторами.
func (c *Controller) step(ctx context.Context) error {
	ev := c.gen.Next()
	metrics.EventsGenerated.Inc()

	bcfg := c.cfg.Backoff
	bcfg.MaxAttempts = c.cfg.RetryCeiling + 1
	bcfg.NonDecreasing = true
	bcfg.MaxElapsedTime = 0

	var (
		attempt int
		last    publisher.Result
	)
	op := func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			metrics.Retries.Inc()
		}
		c.setState(Running)
		last = c.pub.Publish(ctx, ev, attempt)
		if c.observer != nil {
			c.observer(ev, last)
		}
		switch last.Status {
		case publisher.Success:
			return nil
		case publisher.Fatal:
			return backoff.Permanent(resultErr(last))
		default:
			return resultErr(last)
		}
	}
	onRetry := func(ctx context.Context, err error, delay time.Duration, n int) {
		c.setState(Backoff)
		if c.notify != nil {
			c.notify(ctx, err, delay, n)
		}
	}

	err := backoff.Execute(ctx, bcfg, c.log.With(zap.String("key", ev.Key)), op, backoff.WithNotify(onRetry))
	c.setState(Running)
	if err == nil {
		c.onDelivered(ctx, ev)
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	switch last.Status {
	case publisher.Fatal:
		return fmt.Errorf("%w: key=%s attempt=%d: %w", ErrFatal, ev.Key, last.Attempts, resultErr(last))
	default:
		return fmt.Errorf("%w: %w: key=%s attempts=%d: %w",
			ErrFatal, ErrRetriesExhausted, ev.Key, last.Attempts, resultErr(last))
	}
}

func (c *Controller) onDelivered(ctx context.Context, ev event.Event) {
	c.delivered.Add(1)
	metrics.LastDeliveredSeq.Set(float64(ev.Seq))
	if err := c.store.Save(ctx, ev.Seq); err != nil {
		c.log.Warn("checkpoint save failed", zap.Uint64("seq", ev.Seq), zap.Error(err))
	}
}

// resultErr гарантирует ненулевую ошибку для неуспешного результата.
func resultErr(r publisher.Result) error {
	if r.Err != nil {
		return r.Err
	}
	return fmt.Errorf("publish %s: %s", r.EventKey, r.Status)
}
