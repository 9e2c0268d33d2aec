package admission

import (
	"container/list"
	"context"
	"sync"

	"github.com/SpheneDev/SpheneServer/tools/errs"
)

// Limiter bounds the number of concurrently executing calls to a fixed
// permit count. Callers beyond the count wait in a FIFO queue with a
// hard capacity of 100x the permit count; overflow is rejected
// immediately. The queue order is explicit (oldest first) rather than
// relying on runtime wakeup order.
type Limiter struct {
	mu        sync.Mutex
	limit     int
	available int
	queueCap  int
	waiters   *list.List // of *waiter
}

type waiter struct {
	ready chan struct{}
}

// Lease is one executing call's permit. Release must be called exactly
// once, on every exit path.
type Lease struct {
	l    *Limiter
	once sync.Once
}

func (le *Lease) Release() {
	le.once.Do(func() { le.l.release() })
}

func NewLimiter(limit int) *Limiter {
	if limit <= 0 {
		limit = 1
	}
	return &Limiter{
		limit:     limit,
		available: limit,
		queueCap:  limit * 100,
		waiters:   list.New(),
	}
}

func (l *Limiter) Limit() int { return l.limit }

// Stats returns currently available permits and queued waiters.
func (l *Limiter) Stats() (available, queued int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.available, l.waiters.Len()
}

// Acquire blocks until a permit is free, ctx is done, or connClosed
// fires. The three failures are distinguishable: queue overflow is
// ErrQueueFull, a deadline is ErrTimeout, cancellation (including
// connClosed) is ErrConnClosed.
func (l *Limiter) Acquire(ctx context.Context, connClosed <-chan struct{}) (*Lease, error) {
	l.mu.Lock()
	if l.available > 0 {
		l.available--
		l.mu.Unlock()
		return &Lease{l: l}, nil
	}
	if l.waiters.Len() >= l.queueCap {
		l.mu.Unlock()
		return nil, errs.ErrQueueFull
	}
	w := &waiter{ready: make(chan struct{})}
	elem := l.waiters.PushBack(w)
	l.mu.Unlock()

	select {
	case <-w.ready:
		return &Lease{l: l}, nil
	case <-ctx.Done():
		if l.abandon(elem) {
			if ctx.Err() == context.DeadlineExceeded {
				return nil, errs.ErrTimeout
			}
			return nil, errs.ErrConnClosed
		}
		// granted while we were cancelling; hand the permit back
		le := &Lease{l: l}
		le.Release()
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errs.ErrTimeout
		}
		return nil, errs.ErrConnClosed
	case <-connClosed:
		if l.abandon(elem) {
			return nil, errs.ErrConnClosed
		}
		le := &Lease{l: l}
		le.Release()
		return nil, errs.ErrConnClosed
	}
}

// abandon removes a waiter from the queue. Returns false when the
// waiter was already granted a permit (lost the race with release).
func (l *Limiter) abandon(elem *list.Element) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for e := l.waiters.Front(); e != nil; e = e.Next() {
		if e == elem {
			l.waiters.Remove(e)
			return true
		}
	}
	return false
}

func (l *Limiter) release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if front := l.waiters.Front(); front != nil {
		w := l.waiters.Remove(front).(*waiter)
		close(w.ready) // permit transfers directly to the oldest waiter
		return
	}
	if l.available < l.limit {
		l.available++
	}
}
