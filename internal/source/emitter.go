// Package source provides upstream producers for a broadcaster: Go channels,
// fixed slices, NATS subjects, Redis Pub/Sub channels and Postgres
// LISTEN/NOTIFY channels.
package source

import (
	"context"
	"sync"

	"github.com/subhroacharjee/replaycast/internal/broadcaster"
)

// Emitter is the Subscription a source hands to its subscriber. Emit blocks
// until the subscriber has demand, so producers never run ahead of it.
// Emit and Complete may be called from several goroutines; calls into the
// subscriber are serialized.
type Emitter[T any] struct {
	sub    broadcaster.Subscriber[T]
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	demand broadcaster.Demand
	ready  chan struct{}
	closed bool

	emitMu sync.Mutex
}

var _ broadcaster.Subscription = (*Emitter[int])(nil)

// NewEmitter binds sub to a new emitter and calls sub.OnSubscribe.
// The emitter's context ends when ctx does, or on Cancel or Complete.
func NewEmitter[T any](ctx context.Context, sub broadcaster.Subscriber[T]) *Emitter[T] {
	ctx, cancel := context.WithCancel(ctx)
	e := &Emitter[T]{
		sub:    sub,
		ctx:    ctx,
		cancel: cancel,
		ready:  make(chan struct{}),
	}
	sub.OnSubscribe(e)
	return e
}

func (e *Emitter[T]) Context() context.Context {
	return e.ctx
}

func (e *Emitter[T]) Done() <-chan struct{} {
	return e.ctx.Done()
}

// Request implements broadcaster.Subscription.
func (e *Emitter[T]) Request(n broadcaster.Demand) {
	if n <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.demand = e.demand.Add(n)
	close(e.ready)
	e.ready = make(chan struct{})
}

// Cancel implements broadcaster.Subscription.
func (e *Emitter[T]) Cancel() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()
	e.cancel()
}

// Emit waits for demand and delivers item. It returns false, without
// delivering, once the emitter is cancelled, completed or its context ends.
func (e *Emitter[T]) Emit(item T) bool {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()

	if !e.acquire() {
		return false
	}
	e.Request(e.sub.OnNext(item))
	return true
}

// Complete delivers the terminal event once. It is a no-op after Cancel.
func (e *Emitter[T]) Complete(c broadcaster.Completion) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	// Release any Emit blocked on demand before taking the delivery lock.
	e.cancel()

	e.emitMu.Lock()
	defer e.emitMu.Unlock()
	e.sub.OnComplete(c)
}

func (e *Emitter[T]) acquire() bool {
	for {
		e.mu.Lock()
		if e.closed || e.ctx.Err() != nil {
			e.mu.Unlock()
			return false
		}
		if e.demand > 0 {
			e.demand = e.demand.Sub(1)
			e.mu.Unlock()
			return true
		}
		ready := e.ready
		e.mu.Unlock()

		select {
		case <-ready:
		case <-e.ctx.Done():
			return false
		}
	}
}
