package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YaganovValera/time-producer/internal/checkpoint"
	"github.com/YaganovValera/time-producer/internal/config"
	"github.com/YaganovValera/time-producer/internal/event"
	"github.com/YaganovValera/time-producer/internal/publisher"
	"github.com/YaganovValera/time-producer/pkg/backoff"
	"github.com/YaganovValera/time-producer/pkg/logger"
	"github.com/YaganovValera/time-producer/pkg/sink/kafkago"
)

func waitServe(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func TestSupervise_LoopFinishesStopsServer(t *testing.T) {
	err := supervise(context.Background(), logger.NewNop(), waitServe,
		func(context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestSupervise_LoopErrorPropagates(t *testing.T) {
	boom := errors.New("fatal delivery")
	err := supervise(context.Background(), logger.NewNop(), waitServe,
		func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestSupervise_ServerErrorStopsLoop(t *testing.T) {
	listenErr := errors.New("address in use")
	err := supervise(context.Background(), logger.NewNop(),
		func(context.Context) error { return listenErr },
		waitServe)
	assert.ErrorIs(t, err, listenErr)
}

func TestSupervise_CancelIsClean(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := supervise(ctx, logger.NewNop(), waitServe,
		func(ctx context.Context) error { <-ctx.Done(); return ctx.Err() })
	assert.NoError(t, err)
}

func TestNewSink(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	cfg.Sink.Driver = config.DriverKafkaGo
	s, err := NewSink(context.Background(), cfg, logger.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &kafkago.Writer{}, s)
	require.NoError(t, s.Close())

	cfg.Sink.Driver = "nats"
	s, err = NewSink(context.Background(), cfg, logger.NewNop())
	require.Error(t, err)
	assert.Nil(t, s)
}

func TestNewCheckpoint_Disabled(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	store, err := newCheckpoint(context.Background(), cfg, logger.NewNop())
	require.NoError(t, err)
	assert.IsType(t, checkpoint.Nop{}, store)
}

func TestRowLogger(t *testing.T) {
	obs := rowLogger(logger.NewNop())
	ev := event.Event{Key: "0", Value: "2024-01-01T00:00:00Z"}
	assert.NotPanics(t, func() {
		obs(ev, publisher.Result{EventKey: "0", Status: publisher.Success, Attempts: 1})
		obs(ev, publisher.Result{EventKey: "0", Status: publisher.Retryable, Attempts: 2, Err: errors.New("x")})
	})
}

func unreachableConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Kafka.Brokers = []string{"127.0.0.1:1"}
	cfg.Kafka.ConnectBackoff = backoff.Config{InitialInterval: 50 * time.Millisecond, MaxInterval: 50 * time.Millisecond}
	cfg.RedisStream.Addr = []string{"127.0.0.1:1"}
	cfg.RedisStream.Backoff = backoff.Config{InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, MaxAttempts: 1}
	return cfg
}

func TestRun_StopWhileSinkConnecting(t *testing.T) {
	cfg := unreachableConfig(t)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := Run(ctx, cfg, logger.NewNop())
	assert.NoError(t, err, "stop signal during startup must exit cleanly")
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestRun_StopBeforeStart(t *testing.T) {
	cfg := unreachableConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, Run(ctx, cfg, logger.NewNop()))
}

func TestRun_SinkFailureIsError(t *testing.T) {
	cfg := unreachableConfig(t)
	cfg.Sink.Driver = config.DriverRedisStream

	err := Run(context.Background(), cfg, logger.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink init")
}

func TestStartupErr(t *testing.T) {
	boom := errors.New("dial refused")
	assert.ErrorIs(t, startupErr(context.Background(), logger.NewNop(), "sink init", boom), boom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, startupErr(ctx, logger.NewNop(), "sink init", boom))
}
