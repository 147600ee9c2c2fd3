package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_Exclusive(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := Synchronized(ctx, m, "piliskor", 5*time.Second, func(context.Context) error {
				n := inside.Add(1)
				for {
					cur := maxInside.Load()
					if n <= cur || maxInside.CompareAndSwap(cur, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				inside.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside.Load())
}

func TestMemory_Timeout(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	held, err := m.Acquire(ctx, "piliskor", time.Second)
	require.NoError(t, err)

	_, err = m.Acquire(ctx, "piliskor", 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)

	require.NoError(t, m.Release(ctx, held))
	again, err := m.Acquire(ctx, "piliskor", 20*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, m.Release(ctx, again))
}

func TestMemory_NamesAreIndependent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	a, err := m.Acquire(ctx, "a", time.Second)
	require.NoError(t, err)
	b, err := m.Acquire(ctx, "b", 20*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, m.Release(ctx, a))
	require.NoError(t, m.Release(ctx, b))
}

func TestMemory_CancelWhileWaiting(t *testing.T) {
	m := NewMemory()
	held, err := m.Acquire(context.Background(), "piliskor", time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err = m.Acquire(ctx, "piliskor", 5*time.Second)
	assert.ErrorIs(t, err, context.Canceled)

	// The cancelled waiter left nothing behind.
	require.NoError(t, m.Release(context.Background(), held))
	tok, err := m.Acquire(context.Background(), "piliskor", 20*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, m.Release(context.Background(), tok))
}

func TestMemory_DoubleRelease(t *testing.T) {
	m := NewMemory()
	tok, err := m.Acquire(context.Background(), "piliskor", time.Second)
	require.NoError(t, err)
	require.NoError(t, m.Release(context.Background(), tok))
	assert.ErrorIs(t, m.Release(context.Background(), tok), ErrNotHeld)
	assert.ErrorIs(t, m.Release(context.Background(), nil), ErrNotHeld)
}

func TestSynchronized_ReleasesOnError(t *testing.T) {
	m := NewMemory()
	boom := errors.New("boom")

	err := Synchronized(context.Background(), m, "piliskor", time.Second,
		func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	tok, err := m.Acquire(context.Background(), "piliskor", 20*time.Millisecond)
	require.NoError(t, err, "lock still held after failing callback")
	require.NoError(t, m.Release(context.Background(), tok))
}

func TestSynchronized_ReleasesOnPanic(t *testing.T) {
	m := NewMemory()

	func() {
		defer func() { _ = recover() }()
		_ = Synchronized(context.Background(), m, "piliskor", time.Second,
			func(context.Context) error { panic("handler exploded") })
	}()

	tok, err := m.Acquire(context.Background(), "piliskor", 20*time.Millisecond)
	require.NoError(t, err, "lock still held after panicking callback")
	require.NoError(t, m.Release(context.Background(), tok))
}

func TestSynchronized_TimeoutSkipsCallback(t *testing.T) {
	m := NewMemory()
	held, err := m.Acquire(context.Background(), "piliskor", time.Second)
	require.NoError(t, err)
	defer m.Release(context.Background(), held)

	called := false
	err = Synchronized(context.Background(), m, "piliskor", 10*time.Millisecond,
		func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrTimeout)
	assert.False(t, called)
}
