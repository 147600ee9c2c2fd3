// internal/lock/memory.go
//
// In-process backend.  One buffered channel per name; holding the lock
// means having put a value in it.  Used by tests and by single-process
// deployments (lock.backend = memory).

package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory implements Service inside one process.  Zero value is unusable;
// use NewMemory.
type Memory struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewMemory returns an empty in-process lock table.
func NewMemory() *Memory {
	return &Memory{slots: make(map[string]chan struct{})}
}

var _ Service = (*Memory)(nil)

func (m *Memory) slot(name string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.slots[name]
	if !ok {
		ch = make(chan struct{}, 1)
		m.slots[name] = ch
	}
	return ch
}

// Acquire waits for name to be free, at most timeout.
func (m *Memory) Acquire(ctx context.Context, name string, timeout time.Duration) (*Token, error) {
	ch := m.slot(name)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	tok := &Token{Name: name, ID: uuid.NewString(), AcquiredAt: time.Now()}
	tok.release = func(context.Context) error {
		select {
		case <-ch:
			return nil
		default:
			return ErrNotHeld
		}
	}
	return tok, nil
}

// Release frees the slot held by t.
func (m *Memory) Release(ctx context.Context, t *Token) error {
	return release(ctx, t)
}
