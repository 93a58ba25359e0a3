package broadcaster

import (
	"sync"

	"github.com/google/uuid"

	"github.com/subhroacharjee/replaycast/internal/ringbuf"
)

type State int

const (
	// StateActive consumers receive live items.
	StateActive State = iota
	// StateDraining consumers have seen the upstream terminate and still hold
	// buffered items to deliver before the terminal event.
	StateDraining
	// StateTerminated consumers were cancelled or received their terminal event.
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Consumer is the per-subscriber side of a Broadcaster. It owns the
// subscriber's demand and its private buffer, and implements Subscription.
type Consumer[T any] struct {
	id  string
	b   *Broadcaster[T]
	sub Subscriber[T]

	mu     sync.Mutex
	state  State
	demand Demand
	queue  *ringbuf.Ring[T]
	done   *Completion
	limit  Capacity
	// busy is set while one goroutine runs the delivery loop. Everyone else
	// only records state and leaves delivery to that goroutine.
	busy bool
}

var _ Subscription = (*Consumer[int])(nil)

func newConsumer[T any](b *Broadcaster[T], sub Subscriber[T], limit Capacity) *Consumer[T] {
	return &Consumer[T]{
		id:    uuid.New().String(),
		b:     b,
		sub:   sub,
		state: StateActive,
		queue: ringbuf.New[T](ringbuf.Unbounded),
		limit: limit,
		// Held until OnSubscribe returns so nothing is delivered before it.
		busy: true,
	}
}

func (c *Consumer[T]) ID() string {
	return c.id
}

func (c *Consumer[T]) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Demand returns the outstanding demand.
func (c *Consumer[T]) Demand() Demand {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.demand
}

// Pending returns the number of buffered, undelivered items.
func (c *Consumer[T]) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.Len()
}

// Request implements Subscription.
func (c *Consumer[T]) Request(n Demand) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	if c.state == StateTerminated {
		c.mu.Unlock()
		return
	}
	c.demand = c.demand.Add(n)
	c.mu.Unlock()

	c.drain()
}

// Cancel implements Subscription. Items still buffered are dropped and no
// further callbacks are made, though an OnNext already running completes.
func (c *Consumer[T]) Cancel() {
	c.mu.Lock()
	if c.state == StateTerminated {
		c.mu.Unlock()
		return
	}
	c.state = StateTerminated
	dropped := c.queue.Clear()
	c.done = nil
	c.mu.Unlock()

	c.b.detach(c, dropped)
}

func (c *Consumer[T]) seed(items []T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, it := range items {
		c.queue.Push(it)
	}
}

// enqueue buffers item and returns how many items overflowed. The oldest
// items are already covered by outstanding demand and are never evicted; the
// uncovered remainder is bounded by the replay capacity, oldest first.
// Called with the broadcaster lock held, which keeps relay order identical
// across consumers.
func (c *Consumer[T]) enqueue(item T) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive {
		return 0
	}
	c.queue.Push(item)

	if c.limit == Unbounded || c.demand.IsUnlimited() {
		return 0
	}
	covered := c.queue.Len()
	if int64(c.demand) < int64(covered) {
		covered = int(c.demand)
	}
	dropped := 0
	for c.queue.Len()-covered > int(c.limit) {
		c.queue.RemoveAt(covered)
		dropped++
	}
	return dropped
}

// finish records the terminal event; it is delivered once the buffer drains.
func (c *Consumer[T]) finish(done Completion) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateTerminated {
		return
	}
	c.done = &done
	c.state = StateDraining
}

// start releases the hold taken in newConsumer and delivers what is due.
func (c *Consumer[T]) start() {
	c.mu.Lock()
	c.run()
}

func (c *Consumer[T]) drain() {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return
	}
	c.busy = true
	c.run()
}

// run is the delivery loop. It is entered with c.mu held and busy set, and
// returns with c.mu released and busy cleared.
func (c *Consumer[T]) run() {
	for {
		if c.state == StateTerminated {
			c.busy = false
			c.mu.Unlock()
			return
		}

		if c.demand > 0 {
			if item, ok := c.queue.PopFront(); ok {
				c.demand = c.demand.Sub(1)
				c.mu.Unlock()

				more := c.sub.OnNext(item)
				c.b.metrics.IncDelivered()

				c.mu.Lock()
				if c.state != StateTerminated {
					c.demand = c.demand.Add(more)
				}
				continue
			}
		}

		if c.done != nil && c.queue.Len() == 0 {
			done := *c.done
			c.state = StateTerminated
			c.busy = false
			c.mu.Unlock()

			c.sub.OnComplete(done)
			c.b.detach(c, 0)
			return
		}

		c.busy = false
		c.mu.Unlock()
		return
	}
}
