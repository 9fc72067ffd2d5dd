package match

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"
)

// ErrDisruptorTimeout is returned when shutdown times out
var ErrDisruptorTimeout = errors.New("disruptor: shutdown timeout")

// EventHandler consumes events in publish order on the single consumer goroutine.
type EventHandler[T any] interface {
	OnEvent(event T)
}

// RingBuffer is a multi-producer single-consumer ring. Every account mutation
// happens on the consumer goroutine, so the accounts need no locks.
type RingBuffer[T any] struct {
	// padding keeps the two cursors on separate cache lines
	_        [56]byte
	claimed  atomic.Int64
	_        [56]byte
	consumed atomic.Int64
	_        [56]byte

	slots []T
	ready []atomic.Int64
	mask  int64
	size  int64

	handler EventHandler[T]
	closed  atomic.Bool
	done    chan struct{}
}

// NewRingBuffer creates a ring of size slots. size must be a power of 2.
func NewRingBuffer[T any](size int64, handler EventHandler[T]) *RingBuffer[T] {
	if size <= 0 || size&(size-1) != 0 {
		panic("ring buffer size must be a power of 2")
	}
	rb := &RingBuffer[T]{
		slots:   make([]T, size),
		ready:   make([]atomic.Int64, size),
		mask:    size - 1,
		size:    size,
		handler: handler,
		done:    make(chan struct{}),
	}
	rb.claimed.Store(-1)
	rb.consumed.Store(-1)
	for i := range rb.ready {
		rb.ready[i].Store(-1)
	}
	return rb
}

// Publish claims the next slot, writes event into it and marks it ready.
// It blocks while the ring is full and fails once Shutdown has been called.
func (rb *RingBuffer[T]) Publish(event T) error {
	var seq int64
	for {
		if rb.closed.Load() {
			return ErrShutdown
		}
		cur := rb.claimed.Load()
		seq = cur + 1
		if seq-rb.size > rb.consumed.Load() {
			// full
			runtime.Gosched()
			continue
		}
		if rb.claimed.CompareAndSwap(cur, seq) {
			break
		}
		runtime.Gosched()
	}
	idx := seq & rb.mask
	rb.slots[idx] = event
	rb.ready[idx].Store(seq)
	return nil
}

// Start launches the consumer goroutine.
func (rb *RingBuffer[T]) Start() {
	go rb.run()
}

func (rb *RingBuffer[T]) run() {
	defer close(rb.done)
	next := rb.consumed.Load() + 1
	for {
		closed := rb.closed.Load()
		n := rb.drain(next)
		next += n
		if closed {
			// everything claimed before the flag flipped has been handled
			return
		}
		if n == 0 {
			runtime.Gosched()
		}
	}
}

// drain handles every claimed slot from next on and returns how many it handled.
func (rb *RingBuffer[T]) drain(next int64) int64 {
	last := rb.claimed.Load()
	start := next
	for ; next <= last; next++ {
		idx := next & rb.mask
		for rb.ready[idx].Load() != next {
			// claimed but not yet written
			runtime.Gosched()
		}
		event := rb.slots[idx]
		var zero T
		rb.slots[idx] = zero
		rb.handler.OnEvent(event)
		rb.consumed.Store(next)
	}
	return next - start
}

// Shutdown stops accepting events and waits until the consumer has handled
// everything already published.
func (rb *RingBuffer[T]) Shutdown(ctx context.Context) error {
	rb.closed.Store(true)
	select {
	case <-rb.done:
		return nil
	case <-ctx.Done():
		return ErrDisruptorTimeout
	}
}

// ConsumerSequence returns the last handled sequence.
func (rb *RingBuffer[T]) ConsumerSequence() int64 {
	return rb.consumed.Load()
}

// ProducerSequence returns the last claimed sequence.
func (rb *RingBuffer[T]) ProducerSequence() int64 {
	return rb.claimed.Load()
}

// Pending returns the number of claimed events not yet handled.
func (rb *RingBuffer[T]) Pending() int64 {
	return rb.claimed.Load() - rb.consumed.Load()
}
