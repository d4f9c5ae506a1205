// Package queues holds the FIFO containers used by the subscriber delivery
// paths. None of them are safe for concurrent use; owners lock around them.
package queues

// Queue is an unbounded FIFO. Session events ride on it because they are
// never dropped.
type Queue[T any] []T

func NewQueue[T any]() *Queue[T] {
	q := Queue[T]{}
	return &q
}

func (q *Queue[T]) Push(x T) {
	*q = append(*q, x)
}

func (q *Queue[T]) Peek() T {
	return (*q)[0]
}

func (q *Queue[T]) Pop() T {
	var zero T
	x := (*q)[0]
	(*q)[0] = zero
	*q = (*q)[1:]
	return x
}

func (q *Queue[T]) IsEmpty() bool {
	return len(*q) == 0
}

func (q *Queue[T]) Len() int {
	return len(*q)
}

// Drain removes and returns every queued item in order.
func (q *Queue[T]) Drain() []T {
	items := []T(*q)
	*q = Queue[T]{}
	return items
}
