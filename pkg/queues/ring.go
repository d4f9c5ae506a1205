package queues

// Ring is a bounded FIFO with drop-oldest overflow: pushing into a full ring
// evicts the head so the newest capacity items are always kept.
type Ring[T any] struct {
	buf   []T
	head  int
	count int
}

func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends x. When the ring was full the evicted item is returned with
// dropped set to true.
func (r *Ring[T]) Push(x T) (evicted T, dropped bool) {
	if r.count == len(r.buf) {
		evicted = r.buf[r.head]
		r.buf[r.head] = x
		r.head = (r.head + 1) % len(r.buf)
		return evicted, true
	}
	r.buf[(r.head+r.count)%len(r.buf)] = x
	r.count++
	return evicted, false
}

func (r *Ring[T]) Pop() (T, bool) {
	var zero T
	if r.count == 0 {
		return zero, false
	}
	x := r.buf[r.head]
	r.buf[r.head] = zero
	r.head = (r.head + 1) % len(r.buf)
	r.count--
	return x, true
}

func (r *Ring[T]) Peek() (T, bool) {
	if r.count == 0 {
		var zero T
		return zero, false
	}
	return r.buf[r.head], true
}

func (r *Ring[T]) Len() int {
	return r.count
}

func (r *Ring[T]) Cap() int {
	return len(r.buf)
}

func (r *Ring[T]) IsFull() bool {
	return r.count == len(r.buf)
}

func (r *Ring[T]) IsEmpty() bool {
	return r.count == 0
}

// Drain pops everything, oldest first.
func (r *Ring[T]) Drain() []T {
	items := make([]T, 0, r.count)
	for {
		x, ok := r.Pop()
		if !ok {
			return items
		}
		items = append(items, x)
	}
}
