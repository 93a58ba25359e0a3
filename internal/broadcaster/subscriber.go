package broadcaster

// Subscription is the control handle a Subscriber receives on attach.
type Subscription interface {
	// Request adds n to the outstanding demand. Non-positive n is ignored.
	Request(n Demand)
	// Cancel stops delivery immediately. Buffered items are discarded.
	Cancel()
}

// Subscriber consumes a stream. Calls to one subscriber are never concurrent.
type Subscriber[T any] interface {
	// OnSubscribe is called once, before any other method.
	OnSubscribe(s Subscription)
	// OnNext delivers one item and returns additional demand to credit.
	OnNext(item T) Demand
	// OnComplete is called at most once, and never after Cancel.
	OnComplete(c Completion)
}

// Source produces items for the subscribers handed to Subscribe.
type Source[T any] interface {
	Subscribe(sub Subscriber[T])
}

// Sink adapts plain functions to Subscriber. It requests its initial demand
// as soon as it is subscribed.
type Sink[T any] struct {
	initial Demand
	next    func(T) Demand
	done    func(Completion)
}

// NewSink returns a Sink. Either callback may be nil.
func NewSink[T any](initial Demand, next func(T) Demand, done func(Completion)) *Sink[T] {
	return &Sink[T]{
		initial: initial,
		next:    next,
		done:    done,
	}
}

// OnSubscribe implements Subscriber.
func (s *Sink[T]) OnSubscribe(sub Subscription) {
	if s.initial > 0 {
		sub.Request(s.initial)
	}
}

// OnNext implements Subscriber.
func (s *Sink[T]) OnNext(item T) Demand {
	if s.next == nil {
		return None
	}
	return s.next(item)
}

// OnComplete implements Subscriber.
func (s *Sink[T]) OnComplete(c Completion) {
	if s.done != nil {
		s.done(c)
	}
}
