// Package dispatch delivers callbacks asynchronously, one at a time, in the
// order they were queued.
package dispatch

import (
	"fmt"
	"sync"
)

// Queue runs queued functions on a single goroutine in FIFO order.
// Functions never run while the producer holds its own locks, which lets
// state machines notify listeners that call straight back into them.
type Queue struct {
	mu      sync.Mutex
	pending []func()
	closed  bool
	wake    chan struct{}
	done    chan struct{}
	onPanic func(interface{})
}

// NewQueue starts a queue. onPanic, if non-nil, receives recovered panics.
func NewQueue(onPanic func(interface{})) *Queue {
	q := &Queue{
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		onPanic: onPanic,
	}
	go q.run()
	return q
}

// Push queues fn. It returns false once the queue is closed.
func (q *Queue) Push(fn func()) bool {
	if fn == nil {
		return true
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.pending = append(q.pending, fn)
	q.mu.Unlock()

	// Non-blocking signal, a pending wake already covers this push
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Flush blocks until everything queued before the call has run.
// Must not be called from a queued function.
func (q *Queue) Flush() {
	done := make(chan struct{})
	if !q.Push(func() { close(done) }) {
		<-q.done
		return
	}
	<-done
}

// Close stops accepting work. Already queued functions still run.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Done is closed after the queue is closed and drained
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		batch := q.pending
		q.pending = nil
		closed := q.closed
		q.mu.Unlock()

		for _, fn := range batch {
			q.invoke(fn)
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-q.wake
	}
}

func (q *Queue) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			if q.onPanic != nil {
				q.onPanic(r)
				return
			}
			fmt.Printf("dispatch: recovered panic in callback: %v\n", r)
		}
	}()
	fn()
}
