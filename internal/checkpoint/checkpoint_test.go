package checkpoint

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YaganovValera/time-producer/pkg/backoff"
	"github.com/YaganovValera/time-producer/pkg/logger"
)

type fakeKV struct {
	val    string
	getErr error
	setErr error
	saved  []string
}

func (f *fakeKV) Get(ctx context.Context, _ string) *redis.StringCmd {
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	return redis.NewStringResult(f.val, nil)
}

func (f *fakeKV) Set(_ context.Context, _ string, v interface{}, _ time.Duration) *redis.StatusCmd {
	if f.setErr != nil {
		return redis.NewStatusResult("", f.setErr)
	}
	f.val = v.(string)
	f.saved = append(f.saved, f.val)
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeKV) Close() error { return nil }

func TestNop(t *testing.T) {
	var s Store = Nop{}
	_, ok, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, s.Save(context.Background(), 5))
}

func TestNextStart(t *testing.T) {
	ctx := context.Background()
	m := &Memory{}

	start, err := NextStart(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), start)

	require.NoError(t, m.Save(ctx, 0))
	start, err = NextStart(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), start)

	require.NoError(t, m.Save(ctx, 41))
	start, err = NextStart(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), start)
}

func TestRedis_LoadMissing(t *testing.T) {
	r := newRedis(&fakeKV{getErr: redis.Nil}, "k", logger.NewNop())
	_, ok, err := r.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedis_SaveLoad(t *testing.T) {
	f := &fakeKV{}
	r := newRedis(f, "k", logger.NewNop())
	ctx := context.Background()

	require.NoError(t, r.Save(ctx, 17))
	seq, ok, err := r.Load(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(17), seq)
	assert.Equal(t, []string{"17"}, f.saved)
}

func TestRedis_Errors(t *testing.T) {
	ctx := context.Background()

	r := newRedis(&fakeKV{val: "not-a-number"}, "k", logger.NewNop())
	_, _, err := r.Load(ctx)
	require.Error(t, err)

	boom := errors.New("conn reset")
	r = newRedis(&fakeKV{getErr: boom, setErr: boom}, "k", logger.NewNop())
	_, _, err = r.Load(ctx)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, r.Save(ctx, 1), boom)
}

func TestNewRedis_Config(t *testing.T) {
	_, err := NewRedis(context.Background(), RedisConfig{}, logger.NewNop())
	require.Error(t, err)

	_, err = NewRedis(context.Background(), RedisConfig{URL: "://bad"}, logger.NewNop())
	require.Error(t, err)
}

func TestNewRedis_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewRedis(ctx, RedisConfig{
		URL:     "redis://127.0.0.1:1/0",
		Backoff: backoff.Config{InitialInterval: 10 * time.Millisecond, MaxInterval: 20 * time.Millisecond, MaxAttempts: 2},
	}, logger.NewNop())
	require.Error(t, err)
	var mr *backoff.ErrMaxRetries
	assert.ErrorAs(t, err, &mr)
}
