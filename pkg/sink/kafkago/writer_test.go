package kafkago

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YaganovValera/time-producer/pkg/logger"
	"github.com/YaganovValera/time-producer/pkg/sink"
)

type fakeWriter struct {
	msgs   []kafka.Message
	errs   []error
	closed int
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return err
		}
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { f.closed++; return nil }

type fakeMeta struct{ err error }

func (f fakeMeta) Metadata(context.Context, *kafka.MetadataRequest) (*kafka.MetadataResponse, error) {
	return &kafka.MetadataResponse{}, f.err
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{}, logger.NewNop())
	assert.Error(t, err)

	_, err = New(Config{Brokers: []string{"b"}, RequiredAcks: "most"}, logger.NewNop())
	assert.Error(t, err)

	_, err = New(Config{Brokers: []string{"b"}, Compression: "brotli"}, logger.NewNop())
	assert.Error(t, err)

	w, err := New(Config{Brokers: []string{"b:9092"}, Compression: "snappy"}, logger.NewNop())
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func TestParse(t *testing.T) {
	acks, err := parseAcks("LEADER")
	require.NoError(t, err)
	assert.Equal(t, kafka.RequireOne, acks)

	comp, err := parseCompression("zstd")
	require.NoError(t, err)
	assert.Equal(t, kafka.Zstd, comp)
}

func TestClassify(t *testing.T) {
	assert.Nil(t, classify(nil))
	assert.False(t, sink.IsPermanent(classify(kafka.LeaderNotAvailable)))
	assert.False(t, sink.IsPermanent(classify(kafka.RequestTimedOut)))
	assert.False(t, sink.IsPermanent(classify(errors.New("dial tcp: refused"))))
	assert.True(t, sink.IsPermanent(classify(kafka.TopicAuthorizationFailed)))
	assert.True(t, sink.IsPermanent(classify(kafka.MessageSizeTooLarge)))
	assert.True(t, sink.IsPermanent(classify(kafka.WriteErrors{nil, kafka.InvalidTopic})))
	assert.False(t, sink.IsPermanent(classify(kafka.WriteErrors{kafka.NotLeaderForPartition})))
}

func TestPublish(t *testing.T) {
	fw := &fakeWriter{errs: []error{kafka.LeaderNotAvailable, kafka.TopicAuthorizationFailed, nil}}
	w := &Writer{w: fw, meta: fakeMeta{}, log: logger.NewNop()}

	ts := time.Now().UTC()
	rec := sink.Record{
		Topic:     "timestamps",
		Key:       []byte("1"),
		Value:     []byte("v"),
		Timestamp: ts,
		Headers:   []sink.Header{{Key: "content_type", Value: []byte("text/plain")}},
	}

	err := w.Publish(context.Background(), rec)
	require.Error(t, err)
	assert.False(t, sink.IsPermanent(err))

	err = w.Publish(context.Background(), rec)
	require.Error(t, err)
	assert.True(t, sink.IsPermanent(err))

	require.NoError(t, w.Publish(context.Background(), rec))
	require.Len(t, fw.msgs, 1)
	got := fw.msgs[0]
	assert.Equal(t, "timestamps", got.Topic)
	assert.Equal(t, []byte("1"), got.Key)
	assert.True(t, got.Time.Equal(ts))
	require.Len(t, got.Headers, 1)
	assert.Equal(t, "content_type", got.Headers[0].Key)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.Equal(t, 1, fw.closed)
	assert.True(t, sink.IsPermanent(w.Publish(context.Background(), rec)))
}

func TestPing(t *testing.T) {
	w := &Writer{w: &fakeWriter{}, meta: fakeMeta{err: errors.New("no brokers")}, log: logger.NewNop()}
	assert.Error(t, w.Ping(context.Background()))

	w.meta = fakeMeta{}
	assert.NoError(t, w.Ping(context.Background()))
}
