// internal/lock/lock.go
//
// Named, timeout-bounded mutual exclusion across processes.
//
// Context
// -------
// Read creation must not run concurrently, neither for two runners nor for
// one runner double-tapping the GPS button.  Every web process therefore
// funnels the write path through one named lock.  The default backend asks
// MySQL for it (GET_LOCK), so no extra infrastructure is needed; redis and
// an in-process backend satisfy the same Service contract.
//
// Contract
// --------
//   - Acquire waits at most `timeout`.  Waiting longer returns ErrTimeout
//     and nothing is held.
//   - A cancelled ctx returns ctx.Err() and nothing is held.
//   - Release must be called exactly once per Token.  Backends never leave
//     a lock behind when the holding process dies.
//   - Waiters are not served in FIFO order.
package lock

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrTimeout means the wait budget ran out before the lock was free.
	// Callers should surface it as a temporary failure.
	ErrTimeout = errors.New("lock: wait timeout exceeded")

	// ErrNotHeld is returned by Release when the token no longer owns the
	// lock (already released, or a redis lease expired).
	ErrNotHeld = errors.New("lock: not held by this token")
)

// Token identifies one successful acquisition.
type Token struct {
	Name       string
	ID         string
	AcquiredAt time.Time

	release func(context.Context) error
}

// Held reports how long the lock has been held.
func (t *Token) Held() time.Duration { return time.Since(t.AcquiredAt) }

// Service hands out named locks.
type Service interface {
	Acquire(ctx context.Context, name string, timeout time.Duration) (*Token, error)
	Release(ctx context.Context, t *Token) error
}

// release runs the backend callback once.
func release(ctx context.Context, t *Token) error {
	if t == nil || t.release == nil {
		return ErrNotHeld
	}
	fn := t.release
	t.release = nil
	return fn(ctx)
}

// Synchronized runs fn while holding name.  The lock is released even when
// fn fails or panics, using a context that survives cancellation of ctx.  A
// release failure is logged and never replaces fn's result.
func Synchronized(ctx context.Context, svc Service, name string, timeout time.Duration,
	fn func(context.Context) error) error {

	tok, err := svc.Acquire(ctx, name, timeout)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := svc.Release(context.WithoutCancel(ctx), tok); rerr != nil {
			zap.L().Error("lock release failed",
				zap.String("name", name),
				zap.String("token", tok.ID),
				zap.Error(rerr))
		}
	}()
	return fn(ctx)
}
