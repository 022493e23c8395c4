// pkg/sink/sink.go
//
// Пакет sink задаёт минимальный контракт публикации записи во внешнюю шину
// сообщений. Конкретные драйверы лежат в подпакетах (sarama, kafkago,
// redisstream) и не зависят друг от друга.
package sink

import (
	"context"
	"errors"
	"time"
)

// Header — пара ключ/значение метаданных записи.
type Header struct {
	Key   string
	Value []byte
}

// Record — запись в формате, не зависящем от брокера.
type Record struct {
	Topic     string    // топик / стрим назначения
	Key       []byte    // ключ партиционирования (может быть nil)
	Value     []byte    // полезная нагрузка
	Timestamp time.Time // время события
	Headers   []Header
}

// Sink публикует записи во внешнюю шину.
type Sink interface {
	// Publish выполняет ровно одну попытку доставки и ждёт подтверждения
	// согласно политике драйвера. Невосстановимые ошибки обёрнуты Permanent.
	Publish(ctx context.Context, rec Record) error
	// Ping проверяет достижимость брокера.
	Ping(ctx context.Context) error
	Close() error
}

// ErrClosed возвращается драйвером после Close().
var ErrClosed = Permanent(errors.New("sink: closed"))

// PermanentError помечает ошибку, повтор которой бессмыслен
// (авторизация, схема, отказ топика, закрытый клиент).
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent оборачивает err; nil остаётся nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	var pe *PermanentError
	if errors.As(err, &pe) {
		return err
	}
	return &PermanentError{Err: err}
}

// IsPermanent сообщает, помечена ли ошибка как невосстановимая.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
