package pool

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	closed atomic.Bool
}

func (c *fakeConn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return nil, nil
}

func (c *fakeConn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return nil, nil
}

func (c *fakeConn) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return nil
}

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

func fakeOpener() Opener {
	return func(ctx context.Context) (Conn, error) {
		return &fakeConn{}, nil
	}
}

func waitForWaiting(t *testing.T, p *Pool, n int) {
	require.Eventually(t, func() bool {
		return p.Stats().Waiting == n
	}, time.Second, time.Millisecond, "Expected %d waiting callers", n)
}

func TestNewPool(t *testing.T) {
	t.Run("Capacity bounds", func(t *testing.T) {
		for _, capacity := range []int{0, -1, 21} {
			_, err := NewPool(capacity, fakeOpener())
			assert.Error(t, err, "Expected capacity %d to be rejected", capacity)
		}
		for _, capacity := range []int{1, 5, 20} {
			p, err := NewPool(capacity, fakeOpener())
			require.NoError(t, err)
			assert.Equal(t, capacity, p.Stats().Capacity)
		}
	})

	t.Run("Nil opener", func(t *testing.T) {
		_, err := NewPool(1, nil)
		assert.Error(t, err)
	})
}

func TestAcquire(t *testing.T) {
	t.Run("Acquire up to capacity without blocking", func(t *testing.T) {
		p, err := NewPool(3, fakeOpener())
		require.NoError(t, err)

		leases := []*Lease{}
		for i := 0; i < 3; i++ {
			lease, err := p.Acquire(context.Background())
			require.NoError(t, err)
			leases = append(leases, lease)
		}
		assert.Equal(t, 3, p.Stats().InFlight)

		for _, lease := range leases {
			lease.Release()
		}
		assert.Equal(t, 0, p.Stats().InFlight)
	})

	t.Run("Exhausted pool times out at the deadline", func(t *testing.T) {
		p, err := NewPool(1, fakeOpener())
		require.NoError(t, err)

		lease, err := p.Acquire(context.Background())
		require.NoError(t, err)
		defer lease.Release()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		start := time.Now()
		_, err = p.Acquire(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
		assert.Equal(t, 0, p.Stats().Waiting, "Expected the timed out caller to leave the queue")
		assert.Equal(t, 1, p.Stats().InFlight)
	})

	t.Run("Expired context fails immediately", func(t *testing.T) {
		p, err := NewPool(1, fakeOpener())
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err = p.Acquire(ctx)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 0, p.Stats().InFlight)
	})

	t.Run("Waiters are served in arrival order", func(t *testing.T) {
		p, err := NewPool(1, fakeOpener())
		require.NoError(t, err)

		first, err := p.Acquire(context.Background())
		require.NoError(t, err)

		var mu sync.Mutex
		order := []int{}
		var wg sync.WaitGroup
		for i := 1; i <= 3; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				lease, err := p.Acquire(context.Background())
				if err != nil {
					return
				}
				mu.Lock()
				order = append(order, n)
				mu.Unlock()
				lease.Release()
			}(i)
			waitForWaiting(t, p, i)
		}

		first.Release()
		wg.Wait()

		assert.Equal(t, []int{1, 2, 3}, order)
		assert.Equal(t, Stats{Capacity: 1}, p.Stats())
	})

	t.Run("Released slot goes to a waiter before a newcomer", func(t *testing.T) {
		p, err := NewPool(1, fakeOpener())
		require.NoError(t, err)

		held, err := p.Acquire(context.Background())
		require.NoError(t, err)

		got := make(chan *Lease, 1)
		go func() {
			lease, err := p.Acquire(context.Background())
			if err == nil {
				got <- lease
			}
		}()
		waitForWaiting(t, p, 1)

		held.Release()
		waiter := <-got

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, err = p.Acquire(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded, "Expected newcomer to wait while the waiter holds the slot")

		waiter.Release()
	})

	t.Run("Opener failure frees the slot", func(t *testing.T) {
		p, err := NewPool(1, func(ctx context.Context) (Conn, error) {
			return nil, fmt.Errorf("connection refused")
		})
		require.NoError(t, err)

		_, err = p.Acquire(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection refused")
		assert.Equal(t, 0, p.Stats().InFlight)
	})

	t.Run("Closed pool rejects acquires", func(t *testing.T) {
		p, err := NewPool(1, fakeOpener())
		require.NoError(t, err)
		p.Close()

		_, err = p.Acquire(context.Background())
		assert.ErrorIs(t, err, ErrClosed)
	})
}

func TestRelease(t *testing.T) {
	t.Run("Release is idempotent and closes the connection", func(t *testing.T) {
		p, err := NewPool(2, fakeOpener())
		require.NoError(t, err)

		lease, err := p.Acquire(context.Background())
		require.NoError(t, err)
		other, err := p.Acquire(context.Background())
		require.NoError(t, err)

		lease.Release()
		lease.Release()

		assert.True(t, lease.Conn().(*fakeConn).closed.Load())
		assert.Equal(t, 1, p.Stats().InFlight, "Expected double release to free only one slot")
		other.Release()
		assert.Equal(t, 0, p.Stats().InFlight)
	})

	t.Run("In flight never exceeds capacity under load", func(t *testing.T) {
		const capacity = 3
		p, err := NewPool(capacity, fakeOpener())
		require.NoError(t, err)

		var current, peak atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				lease, err := p.Acquire(context.Background())
				if err != nil {
					return
				}
				n := current.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				current.Add(-1)
				lease.Release()
			}()
		}
		wg.Wait()

		assert.LessOrEqual(t, int(peak.Load()), capacity)
		assert.Equal(t, 0, p.Stats().InFlight)
	})
}
