// pkg/logger/logger_test.go
package logger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/YaganovValera/time-producer/pkg/logger"
)

func TestNew_InvalidLevel(t *testing.T) {
	_, err := logger.New(logger.Config{Level: "invalid", DevMode: false})
	assert.Error(t, err)
}

func TestNew_ValidLevels(t *testing.T) {
	for _, lvl := range []string{"debug", "info", "warn", "error"} {
		_, err := logger.New(logger.Config{Level: lvl, DevMode: true})
		assert.NoError(t, err, "level %s", lvl)
	}
}

func TestNew_DefaultLevel(t *testing.T) {
	l, err := logger.New(logger.Config{})
	require.NoError(t, err)
	l.Info("default level works")
}

func TestWithContext_TraceAndRequestID(t *testing.T) {
	raw, err := logger.New(logger.Config{Level: "info", DevMode: true})
	require.NoError(t, err)

	ctx := logger.ContextWithTraceID(context.Background(), "trace-123")
	ctx = logger.ContextWithRequestID(ctx, "req-456")

	enh := raw.WithContext(ctx)
	require.NotNil(t, enh)
	assert.NotSame(t, raw, enh)
	enh.Info("test message", zap.String("k", "v"))
}

func TestWithContext_NoValuesReturnsSame(t *testing.T) {
	l := logger.NewNop()
	assert.Same(t, l, l.WithContext(context.Background()))
}

func TestNamedAndWith(t *testing.T) {
	l := logger.NewNop().Named("sub").With(zap.Int("n", 1))
	l.Debug("debug")
	l.Warn("warn")
	l.Error("error")
	l.Sugar().Infow("sugar", "k", "v")
	l.Sync()
}
