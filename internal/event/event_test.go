package event

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNext_KeysAndTimestamps(t *testing.T) {
	g := NewGenerator()
	const n = 100

	var prev Event
	for i := 0; i < n; i++ {
		ev := g.Next()
		assert.Equal(t, uint64(i), ev.Seq)
		assert.Equal(t, strconv.Itoa(i), ev.Key)
		assert.Equal(t, time.UTC, ev.Timestamp.Location())
		if i > 0 {
			assert.Greater(t, ev.Seq, prev.Seq)
			assert.False(t, ev.Timestamp.Before(prev.Timestamp))
		}
		prev = ev
	}
	assert.Equal(t, uint64(n), g.Peek())
}

func TestNext_ValueIsRFC3339(t *testing.T) {
	fixed := time.Date(2024, 5, 6, 7, 8, 9, 123456789, time.FixedZone("MSK", 3*3600))
	g := NewGenerator(WithClock(func() time.Time { return fixed }))

	ev := g.Next()
	assert.Equal(t, "2024-05-06T04:08:09.123456789Z", ev.Value)
	parsed, err := time.Parse(time.RFC3339Nano, ev.Value)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(fixed))
}

func TestNext_ClockStepsBack(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 10, 0, time.UTC)
	times := []time.Time{base, base.Add(-5 * time.Second), base.Add(time.Second)}
	i := 0
	g := NewGenerator(WithClock(func() time.Time { t := times[i]; i++; return t }))

	first, second, third := g.Next(), g.Next(), g.Next()
	assert.Equal(t, first.Timestamp, second.Timestamp)
	assert.Equal(t, base.Add(time.Second), third.Timestamp)
}

func TestOptions(t *testing.T) {
	g := NewGenerator(WithStart(41), WithKeyPrefix("tick-"))
	assert.Equal(t, uint64(41), g.Peek())
	ev := g.Next()
	assert.Equal(t, "tick-41", ev.Key)
	assert.Equal(t, uint64(41), ev.Seq)
}
