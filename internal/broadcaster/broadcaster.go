// Package broadcaster shares one upstream Source among any number of
// consumers. Each consumer pulls at its own pace and, on attach, first
// receives the most recent items kept in a bounded replay buffer.
//
// No callback is ever invoked while a lock is held, so subscribers may call
// Request, Cancel, Attach or Relay from inside OnNext and OnComplete.
package broadcaster

import (
	"log/slog"
	"runtime"
	"sync"
	"weak"

	"github.com/subhroacharjee/replaycast/internal/logger"
	"github.com/subhroacharjee/replaycast/internal/ringbuf"
)

type Broadcaster[T any] struct {
	mu sync.Mutex
	// gaugeMu orders gauge publication; it is taken before mu.
	gaugeMu sync.Mutex

	source    Source[T]
	capacity  Capacity
	replay    *ringbuf.Ring[T]
	done      *Completion
	consumers map[string]*Consumer[T]
	connected bool

	upstream *upstream

	name             string
	logger           *slog.Logger
	metrics          MetricsCollector
	disconnectOnIdle bool
}

// New returns a broadcaster over src keeping the last capacity items for
// replay. Any negative capacity means Unbounded. src may be nil, in which case
// items are fed with Relay and Finish.
func New[T any](src Source[T], capacity Capacity, opts ...Option) *Broadcaster[T] {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if capacity < 0 {
		capacity = Unbounded
	}

	b := &Broadcaster[T]{
		source:           src,
		capacity:         capacity,
		replay:           ringbuf.New[T](int(capacity)),
		consumers:        make(map[string]*Consumer[T]),
		upstream:         &upstream{},
		name:             o.name,
		logger:           o.logger.With(logger.Broadcaster(o.name)),
		metrics:          o.metrics,
		disconnectOnIdle: o.disconnectOnIdle,
	}

	// The upstream only holds a weak reference to b; once b is unreachable
	// its subscription is cancelled.
	runtime.AddCleanup(b, func(u *upstream) { u.cancel() }, b.upstream)

	return b
}

func (b *Broadcaster[T]) Capacity() Capacity {
	return b.capacity
}

// Attach registers sub and returns its consumer handle. sub.OnSubscribe is
// called before Attach returns; the replay snapshot is delivered as soon as
// demand is requested. After termination sub only receives OnComplete.
func (b *Broadcaster[T]) Attach(sub Subscriber[T]) *Consumer[T] {
	b.mu.Lock()
	c := newConsumer(b, sub, b.capacity)
	connect := false
	var gen uint64
	if b.done != nil {
		c.finish(*b.done)
	} else {
		c.seed(b.replay.Snapshot())
		b.consumers[c.id] = c
		if !b.connected && b.source != nil {
			b.connected = true
			connect = true
			gen = b.upstream.generation()
		}
	}
	b.mu.Unlock()

	b.publishGauges()
	b.logger.Debug("consumer attached", logger.ConsumerID(c.id), logger.Count("pending", c.Pending()))

	sub.OnSubscribe(c)
	c.start()

	if connect {
		b.connect(gen)
	}
	return c
}

// Subscribe implements Source so broadcasters can be chained.
func (b *Broadcaster[T]) Subscribe(sub Subscriber[T]) {
	b.Attach(sub)
}

// Relay records item for replay and hands it to every attached consumer.
// It is a no-op once the broadcaster has terminated.
func (b *Broadcaster[T]) Relay(item T) {
	b.mu.Lock()
	if b.done != nil {
		b.mu.Unlock()
		return
	}
	evicted := b.replay.Push(item)
	if b.capacity == 0 {
		evicted = 0
	}
	targets := make([]*Consumer[T], 0, len(b.consumers))
	dropped := 0
	for _, c := range b.consumers {
		dropped += c.enqueue(item)
		targets = append(targets, c)
	}
	b.mu.Unlock()

	b.metrics.IncRelayed()
	b.publishGauges()
	if evicted > 0 {
		b.metrics.AddEvicted(evicted)
	}
	if dropped > 0 {
		b.metrics.AddDropped(dropped)
	}

	for _, c := range targets {
		c.drain()
	}
}

// Finish terminates the stream with c. Only the first call has an effect.
// Consumers still deliver their buffered items before c.
func (b *Broadcaster[T]) Finish(c Completion) {
	b.mu.Lock()
	if b.done != nil {
		b.mu.Unlock()
		return
	}
	b.done = &c
	b.replay.Clear()
	targets := make([]*Consumer[T], 0, len(b.consumers))
	for id, consumer := range b.consumers {
		consumer.finish(c)
		targets = append(targets, consumer)
		delete(b.consumers, id)
	}
	b.connected = false
	old := b.upstream.detach()
	b.mu.Unlock()

	if old != nil {
		old.Cancel()
	}

	b.metrics.IncTerminated(c.Failed())
	b.publishGauges()
	if c.Failed() {
		b.logger.Warn("broadcaster terminated", logger.Err(c.Err()), logger.Count("consumers", len(targets)))
	} else {
		b.logger.Debug("broadcaster finished", logger.Count("consumers", len(targets)))
	}

	for _, consumer := range targets {
		consumer.drain()
	}
}

// Close cancels the upstream subscription and, unless the stream already
// terminated, fails every consumer with ErrClosed.
func (b *Broadcaster[T]) Close() error {
	b.upstream.cancel()
	b.Finish(Failure(ErrClosed))
	return nil
}

// Len returns the number of items currently held for replay.
func (b *Broadcaster[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.replay.Len()
}

// Consumers returns the number of attached, non-terminated consumers.
func (b *Broadcaster[T]) Consumers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.consumers)
}

// Terminated reports the terminal event, if any.
func (b *Broadcaster[T]) Terminated() (Completion, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done == nil {
		return Completion{}, false
	}
	return *b.done, true
}

// connect subscribes to the source for generation gen, read under b.mu
// when connected was set. A disconnect in between bumps the generation and
// the new link cancels itself on OnSubscribe.
func (b *Broadcaster[T]) connect(gen uint64) {
	link := &upstreamLink[T]{
		b:   weak.Make(b),
		u:   b.upstream,
		gen: gen,
	}
	b.logger.Debug("connecting upstream", logger.Capacity(int(b.capacity)))
	b.source.Subscribe(link)
}

// detach removes c from the consumer table. dropped is the number of items
// discarded from c's buffer.
func (b *Broadcaster[T]) detach(c *Consumer[T], dropped int) {
	b.mu.Lock()
	_, ok := b.consumers[c.id]
	delete(b.consumers, c.id)
	n := len(b.consumers)
	idle := ok && n == 0 && b.disconnectOnIdle && b.connected && b.done == nil
	var old Subscription
	if idle {
		// connected and the upstream generation change together under b.mu.
		b.connected = false
		old = b.upstream.detach()
	}
	b.mu.Unlock()

	if dropped > 0 {
		b.metrics.AddDropped(dropped)
	}
	if ok {
		b.publishGauges()
		b.logger.Debug("consumer detached", logger.ConsumerID(c.id), logger.Count("dropped", dropped))
	}
	if idle {
		b.logger.Debug("last consumer left, disconnecting upstream")
		if old != nil {
			old.Cancel()
		}
	}
}

// publishGauges reports the consumer count and replay depth as they are now.
// Values are read inside gaugeMu, so the last publication carries the
// latest state.
func (b *Broadcaster[T]) publishGauges() {
	b.gaugeMu.Lock()
	defer b.gaugeMu.Unlock()

	b.mu.Lock()
	n, depth := len(b.consumers), b.replay.Len()
	b.mu.Unlock()

	b.metrics.SetConsumers(n)
	b.metrics.SetReplayDepth(depth)
}

// upstream tracks the current upstream subscription. Every cancel bumps the
// generation so late events from a previous subscription are ignored.
type upstream struct {
	mu  sync.Mutex
	gen uint64
	sub Subscription
}

func (u *upstream) generation() uint64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.gen
}

func (u *upstream) live(gen uint64) bool {
	return u.generation() == gen
}

func (u *upstream) bind(gen uint64, s Subscription) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.gen != gen {
		return false
	}
	u.sub = s
	return true
}

// detach retires the current generation and returns the subscription bound
// to it, if any. The caller cancels it outside its own locks.
func (u *upstream) detach() Subscription {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.gen++
	s := u.sub
	u.sub = nil
	return s
}

func (u *upstream) cancel() {
	if s := u.detach(); s != nil {
		s.Cancel()
	}
}

// upstreamLink is the subscriber the broadcaster hands to its Source.
type upstreamLink[T any] struct {
	b   weak.Pointer[Broadcaster[T]]
	u   *upstream
	gen uint64
}

func (l *upstreamLink[T]) OnSubscribe(s Subscription) {
	if !l.u.bind(l.gen, s) {
		s.Cancel()
		return
	}
	s.Request(Unlimited)
}

func (l *upstreamLink[T]) OnNext(item T) Demand {
	if !l.u.live(l.gen) {
		return None
	}
	b := l.b.Value()
	if b == nil {
		l.u.cancel()
		return None
	}
	b.Relay(item)
	return None
}

func (l *upstreamLink[T]) OnComplete(c Completion) {
	if !l.u.live(l.gen) {
		return
	}
	if b := l.b.Value(); b != nil {
		b.Finish(c)
	}
}
