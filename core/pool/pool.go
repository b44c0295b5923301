/*
Package pool bounds the number of store connections used concurrently.

Callers acquire a lease before talking to the store and release it when done.
When all slots are taken, callers wait in arrival order until a slot frees up
or their context deadline passes. There are no retries.
*/
package pool

import (
	"container/list"
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/siherrmann/knowledge/helper"
)

const (
	MinCapacity = 1
	MaxCapacity = 20
)

// ErrClosed is returned by Acquire after Close was called.
var ErrClosed = fmt.Errorf("pool is closed")

// Conn is a connection handed out with a lease. *sql.Conn satisfies it.
type Conn interface {
	helper.Querier
	Close() error
}

// Opener opens the connection backing a new lease.
type Opener func(ctx context.Context) (Conn, error)

// FromDB opens dedicated connections from db.
func FromDB(db *sql.DB) Opener {
	return func(ctx context.Context) (Conn, error) {
		conn, err := db.Conn(ctx)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// Pool is a FIFO semaphore of fixed capacity.
type Pool struct {
	capacity int
	open     Opener

	mu       sync.Mutex
	inFlight int
	// waiters holds one chan struct{} per blocked Acquire, oldest first.
	waiters *list.List
	closed  bool
}

// Stats is a snapshot of the pool usage.
type Stats struct {
	Capacity int `json:"capacity"`
	InFlight int `json:"in_flight"`
	Waiting  int `json:"waiting"`
}

func NewPool(capacity int, open Opener) (*Pool, error) {
	if capacity < MinCapacity || capacity > MaxCapacity {
		return nil, fmt.Errorf("pool capacity must be between %d and %d, got %d", MinCapacity, MaxCapacity, capacity)
	}
	if open == nil {
		return nil, fmt.Errorf("pool opener is nil")
	}
	return &Pool{
		capacity: capacity,
		open:     open,
		waiters:  list.New(),
	}, nil
}

// Acquire blocks until a slot is free, the context is done or the pool is
// closed. On a context deadline it returns ctx.Err().
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	if p.inFlight < p.capacity && p.waiters.Len() == 0 {
		p.inFlight++
		p.mu.Unlock()
		return p.openLease(ctx)
	}

	ready := make(chan struct{})
	elem := p.waiters.PushBack(ready)
	p.mu.Unlock()

	select {
	case <-ready:
		return p.openLease(ctx)
	case <-ctx.Done():
		p.mu.Lock()
		select {
		case <-ready:
			// The slot was handed over while the deadline passed.
			p.mu.Unlock()
			p.releaseSlot()
		default:
			p.waiters.Remove(elem)
			p.mu.Unlock()
		}
		return nil, ctx.Err()
	}
}

func (p *Pool) openLease(ctx context.Context) (*Lease, error) {
	conn, err := p.open(ctx)
	if err != nil {
		p.releaseSlot()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, helper.NewError("open pooled connection", err)
	}
	return &Lease{conn: conn, pool: p}, nil
}

// releaseSlot passes the slot to the oldest waiter or frees it.
func (p *Pool) releaseSlot() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if front := p.waiters.Front(); front != nil {
		p.waiters.Remove(front)
		close(front.Value.(chan struct{}))
		return
	}
	p.inFlight--
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Capacity: p.capacity,
		InFlight: p.inFlight,
		Waiting:  p.waiters.Len(),
	}
}

// Close makes further Acquire calls fail. Outstanding leases stay valid and
// waiting callers still get the slots released to them.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

// Lease is one acquired slot together with its connection.
type Lease struct {
	conn Conn
	pool *Pool
	once sync.Once
}

func (l *Lease) Conn() Conn {
	return l.conn
}

// Release closes the connection and returns the slot. Calling it more than
// once has no effect.
func (l *Lease) Release() {
	l.once.Do(func() {
		_ = l.conn.Close()
		l.pool.releaseSlot()
	})
}
