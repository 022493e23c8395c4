// internal/publisher/publisher.go
//
// Publisher превращает Event в запись шины и выполняет одну попытку
// доставки, классифицируя исход как Success / Retryable / Fatal.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/YaganovValera/time-producer/internal/event"
	"github.com/YaganovValera/time-producer/internal/metrics"
	"github.com/YaganovValera/time-producer/pkg/logger"
	"github.com/YaganovValera/time-producer/pkg/sink"
	"github.com/YaganovValera/time-producer/pkg/telemetry"
)

// Status — исход одной попытки доставки.
type Status int

const (
	Success Status = iota
	Retryable
	Fatal
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case Retryable:
		return "retryable"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result — DeliveryResult одной попытки.
type Result struct {
	EventKey string
	Status   Status
	Attempts int   // номер попытки, начиная с 1
	Err      error // nil при Success
}

// Publisher выполняет ровно одну попытку отправки события.
type Publisher interface {
	Publish(ctx context.Context, ev event.Event, attempt int) Result
}

const (
	HeaderProducerID  = "producer_id"
	HeaderContentType = "content_type"
	contentTypeText   = "text/plain"
)

// Config — параметры сериализации.
type Config struct {
	Topic      string
	ProducerID string // пусто → случайный UUID
}

// SinkPublisher публикует события через sink.Sink.
type SinkPublisher struct {
	sink       sink.Sink
	topic      string
	producerID string
	tracer     trace.Tracer
	log        *logger.Logger
}

// New создаёт SinkPublisher.
func New(cfg Config, s sink.Sink, log *logger.Logger) (*SinkPublisher, error) {
	if s == nil {
		return nil, errors.New("publisher: sink is nil")
	}
	if cfg.Topic == "" {
		return nil, errors.New("publisher: topic is required")
	}
	id := cfg.ProducerID
	if id == "" {
		id = uuid.NewString()
	}
	return &SinkPublisher{
		sink:       s,
		topic:      cfg.Topic,
		producerID: id,
		tracer:     telemetry.Tracer("time-producer/publisher"),
		log:        log.Named("publisher"),
	}, nil
}

// ProducerID возвращает идентификатор экземпляра, уходящий в заголовках.
func (p *SinkPublisher) ProducerID() string { return p.producerID }

// Record сериализует событие в запись шины.
func (p *SinkPublisher) Record(ev event.Event) sink.Record {
	return sink.Record{
		Topic:     p.topic,
		Key:       []byte(ev.Key),
		Value:     []byte(ev.Value),
		Timestamp: ev.Timestamp,
		Headers: []sink.Header{
			{Key: HeaderProducerID, Value: []byte(p.producerID)},
			{Key: HeaderContentType, Value: []byte(contentTypeText)},
		},
	}
}

// Publish выполняет одну попытку и возвращает её классификацию.
func (p *SinkPublisher) Publish(ctx context.Context, ev event.Event, attempt int) Result {
	ctx, span := p.tracer.Start(ctx, "Publisher.Publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("event.key", ev.Key),
			attribute.Int("delivery.attempt", attempt),
			attribute.String("messaging.destination", p.topic),
		),
	)
	defer span.End()
	if sc := span.SpanContext(); sc.HasTraceID() {
		ctx = logger.ContextWithTraceID(ctx, sc.TraceID().String())
	}

	start := time.Now()
	err := p.sink.Publish(ctx, p.Record(ev))
	metrics.PublishLatency.Observe(time.Since(start).Seconds())

	res := Result{EventKey: ev.Key, Attempts: attempt, Status: Classify(err), Err: err}
	metrics.DeliveryResults.WithLabelValues(res.Status.String()).Inc()
	span.SetAttributes(attribute.String("delivery.status", res.Status.String()))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, res.Status.String())
		p.log.WithContext(ctx).Debug("publish attempt failed",
			zap.String("key", ev.Key),
			zap.Int("attempt", attempt),
			zap.Stringer("status", res.Status),
			zap.Error(err),
		)
	}
	return res
}

// Classify отображает ошибку sink на статус доставки.
// Отмена контекста не считается невосстановимой: решение принимает вызывающий.
func Classify(err error) Status {
	switch {
	case err == nil:
		return Success
	case sink.IsPermanent(err):
		return Fatal
	default:
		return Retryable
	}
}
