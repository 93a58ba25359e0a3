package source

import (
	"context"

	"github.com/subhroacharjee/replaycast/internal/broadcaster"
)

// Channel emits the values received on a Go channel and finishes when the
// channel is closed. If ctx ends first the subscriber gets Failure(ctx.Err()).
// Values are consumed, so concurrent subscribers split them; put a
// broadcaster in front to share them.
type Channel[T any] struct {
	ctx context.Context
	ch  <-chan T
}

func FromChannel[T any](ctx context.Context, ch <-chan T) *Channel[T] {
	return &Channel[T]{ctx: ctx, ch: ch}
}

// Subscribe implements broadcaster.Source.
func (c *Channel[T]) Subscribe(sub broadcaster.Subscriber[T]) {
	e := NewEmitter(c.ctx, sub)
	go func() {
		defer func() {
			if err := c.ctx.Err(); err != nil {
				e.Complete(broadcaster.Failure(err))
			}
		}()
		for {
			select {
			case <-e.Done():
				return
			case v, ok := <-c.ch:
				if !ok {
					e.Complete(broadcaster.Finished())
					return
				}
				if !e.Emit(v) {
					return
				}
			}
		}
	}()
}

// Slice emits a fixed sequence to each subscriber, then finishes.
type Slice[T any] struct {
	items []T
}

func FromSlice[T any](items ...T) *Slice[T] {
	return &Slice[T]{items: append([]T(nil), items...)}
}

// Subscribe implements broadcaster.Source.
func (s *Slice[T]) Subscribe(sub broadcaster.Subscriber[T]) {
	e := NewEmitter(context.Background(), sub)
	go func() {
		for _, it := range s.items {
			if !e.Emit(it) {
				return
			}
		}
		e.Complete(broadcaster.Finished())
	}()
}
