// internal/checkpoint/checkpoint.go
//
// Checkpoint хранит номер последнего подтверждённого события, чтобы
// перезапущенный продюсер продолжил последовательность ключей.
package checkpoint

import (
	"context"
	"sync"
)

// Store сохраняет и читает последний доставленный Seq.
type Store interface {
	// Load возвращает сохранённое значение; ok=false, если его ещё нет.
	Load(ctx context.Context) (seq uint64, ok bool, err error)
	Save(ctx context.Context, seq uint64) error
	Close() error
}

// Nop ничего не хранит; используется, когда checkpoint выключен.
type Nop struct{}

func (Nop) Load(context.Context) (uint64, bool, error) { return 0, false, nil }
func (Nop) Save(context.Context, uint64) error         { return nil }
func (Nop) Close() error                               { return nil }

// Memory — хранилище в памяти процесса.
type Memory struct {
	mu  sync.Mutex
	seq uint64
	ok  bool
}

func (m *Memory) Load(context.Context) (uint64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seq, m.ok, nil
}

func (m *Memory) Save(_ context.Context, seq uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq, m.ok = seq, true
	return nil
}

func (m *Memory) Close() error { return nil }

// NextStart вычисляет первый Seq нового запуска.
func NextStart(ctx context.Context, s Store) (uint64, error) {
	seq, ok, err := s.Load(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return seq + 1, nil
}
