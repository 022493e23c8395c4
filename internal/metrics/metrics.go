// internal/metrics/metrics.go
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// EventsGenerated — число событий, выданных генератором.
	EventsGenerated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "time_producer",
		Subsystem: "generator",
		Name:      "events_total",
		Help:      "Total number of events produced by the generator",
	})

	// DeliveryResults — результаты попыток публикации по статусу.
	DeliveryResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "time_producer",
		Subsystem: "publisher",
		Name:      "results_total",
		Help:      "Delivery attempts by resulting status",
	}, []string{"status"})

	// PublishLatency — длительность одной попытки публикации.
	PublishLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "time_producer",
		Subsystem: "publisher",
		Name:      "publish_latency_seconds",
		Help:      "Latency of a single publish attempt (seconds)",
		Buckets:   prometheus.DefBuckets,
	})

	// Retries — число повторных отправок одного и того же события.
	Retries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "time_producer",
		Subsystem: "pacing",
		Name:      "retries_total",
		Help:      "Number of re-sends after a retryable result",
	})

	// ControllerState — текущее состояние контроллера (0 running, 1 backoff, 2 stopped).
	ControllerState = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "time_producer",
		Subsystem: "pacing",
		Name:      "state",
		Help:      "Pacing controller state: 0=running, 1=backoff, 2=stopped",
	})

	// LastDeliveredSeq — последний подтверждённый номер события.
	LastDeliveredSeq = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "time_producer",
		Subsystem: "pacing",
		Name:      "last_delivered_seq",
		Help:      "Sequence number of the last acknowledged event",
	})

	// CheckpointErrors — ошибки чтения/записи checkpoint.
	CheckpointErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "time_producer",
		Subsystem: "checkpoint",
		Name:      "errors_total",
		Help:      "Checkpoint store errors by operation",
	}, []string{"op"})
)

// Register регистрирует все метрики в заданном реестре.
// Без аргументов используется DefaultRegisterer.
func Register(registerers ...prometheus.Registerer) {
	once.Do(func() {
		var reg prometheus.Registerer
		if len(registerers) > 0 && registerers[0] != nil {
			reg = registerers[0]
		} else {
			reg = prometheus.DefaultRegisterer
		}
		reg.MustRegister(
			EventsGenerated,
			DeliveryResults,
			PublishLatency,
			Retries,
			ControllerState,
			LastDeliveredSeq,
			CheckpointErrors,
		)
	})
}
