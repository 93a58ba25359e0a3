// Package ringbuf implements a growable circular deque with an optional
// upper bound. When the bound is exceeded the oldest elements are evicted.
package ringbuf

// Unbounded disables eviction.
const Unbounded = -1

const minSize = 8

// Ring is a FIFO of T with O(1) push at the back and pop at the front.
//
// A Ring is not safe for concurrent use; callers guard it with their own lock.
type Ring[T any] struct {
	buf   []T
	head  int
	count int
	limit int
}

// New returns an empty ring holding at most limit elements.
// A negative limit means the ring never evicts.
func New[T any](limit int) *Ring[T] {
	if limit < 0 {
		limit = Unbounded
	}
	return &Ring[T]{limit: limit}
}

// From returns an unbounded ring seeded with a copy of items.
func From[T any](items []T) *Ring[T] {
	r := New[T](Unbounded)
	for _, it := range items {
		r.Push(it)
	}
	return r
}

// Limit reports the configured bound, or Unbounded.
func (r *Ring[T]) Limit() int {
	return r.limit
}

// Len returns the number of buffered elements.
func (r *Ring[T]) Len() int {
	return r.count
}

// Push appends v and evicts from the front until the bound holds again.
// It returns how many elements were evicted.
func (r *Ring[T]) Push(v T) int {
	if r.limit == 0 {
		return 1
	}
	if r.count == len(r.buf) {
		r.grow()
	}
	r.buf[(r.head+r.count)%len(r.buf)] = v
	r.count++

	if r.limit == Unbounded {
		return 0
	}
	return r.TrimTo(r.limit)
}

// PopFront removes and returns the oldest element.
func (r *Ring[T]) PopFront() (T, bool) {
	var zero T
	if r.count == 0 {
		return zero, false
	}
	v := r.buf[r.head]
	r.buf[r.head] = zero
	r.head = (r.head + 1) % len(r.buf)
	r.count--
	return v, true
}

// RemoveAt removes the i-th oldest element. Removing the front is O(1),
// anything else shifts the newer elements.
func (r *Ring[T]) RemoveAt(i int) (T, bool) {
	var zero T
	if i < 0 || i >= r.count {
		return zero, false
	}
	if i == 0 {
		return r.PopFront()
	}
	n := len(r.buf)
	v := r.buf[(r.head+i)%n]
	for j := i; j < r.count-1; j++ {
		r.buf[(r.head+j)%n] = r.buf[(r.head+j+1)%n]
	}
	r.buf[(r.head+r.count-1)%n] = zero
	r.count--
	return v, true
}

// Front returns the oldest element without removing it.
func (r *Ring[T]) Front() (T, bool) {
	var zero T
	if r.count == 0 {
		return zero, false
	}
	return r.buf[r.head], true
}

// TrimTo evicts the oldest elements until at most n remain and returns the
// number evicted. A negative n is a no-op.
func (r *Ring[T]) TrimTo(n int) int {
	if n < 0 {
		return 0
	}
	evicted := 0
	for r.count > n {
		r.PopFront()
		evicted++
	}
	return evicted
}

// Snapshot copies the buffered elements, oldest first.
func (r *Ring[T]) Snapshot() []T {
	out := make([]T, r.count)
	for i := range r.count {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

// Clear drops every element and releases the backing array.
func (r *Ring[T]) Clear() int {
	n := r.count
	r.buf = nil
	r.head = 0
	r.count = 0
	return n
}

func (r *Ring[T]) grow() {
	size := len(r.buf) * 2
	if size < minSize {
		size = minSize
	}
	if r.limit > 0 && size > r.limit+1 {
		size = r.limit + 1
	}
	buf := make([]T, size)
	for i := range r.count {
		buf[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	r.buf = buf
	r.head = 0
}
