// Package event описывает единицу публикации и генератор событий.
package event

import (
	"strconv"
	"sync"
	"time"
)

// Event — одна запись для шины. Неизменяема после создания.
type Event struct {
	Seq       uint64    // значение счётчика
	Key       string    // префикс + десятичный Seq
	Value     string    // Timestamp в RFC 3339 (UTC, наносекунды)
	Timestamp time.Time // UTC
}

// Clock возвращает текущее время.
type Clock func() time.Time

// Generator выдаёт события со строго возрастающим ключом и
// неубывающим временем. Безопасен для конкурентного вызова.
type Generator struct {
	mu     sync.Mutex
	next   uint64
	prefix string
	last   time.Time
	now    Clock
}

// Option настраивает Generator.
type Option func(*Generator)

// WithClock подменяет источник времени.
func WithClock(c Clock) Option {
	return func(g *Generator) { g.now = c }
}

// WithKeyPrefix добавляет префикс к каждому ключу.
func WithKeyPrefix(p string) Option {
	return func(g *Generator) { g.prefix = p }
}

// WithStart задаёт первое значение счётчика (например, после checkpoint).
func WithStart(seq uint64) Option {
	return func(g *Generator) { g.next = seq }
}

// NewGenerator создаёт генератор со счётчиком от нуля.
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Next увеличивает счётчик и штампует текущее время.
// Если часы ушли назад, время события остаётся равным предыдущему.
func (g *Generator) Next() Event {
	g.mu.Lock()
	defer g.mu.Unlock()

	ts := g.now().UTC()
	if ts.Before(g.last) {
		ts = g.last
	}
	g.last = ts

	seq := g.next
	g.next++
	return Event{
		Seq:       seq,
		Key:       g.prefix + strconv.FormatUint(seq, 10),
		Value:     ts.Format(time.RFC3339Nano),
		Timestamp: ts,
	}
}

// Peek возвращает Seq, который получит следующее событие.
func (g *Generator) Peek() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.next
}
