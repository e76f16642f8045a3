package ringbuf

// Ring is a fixed-capacity FIFO over a circular array. A full ring rejects
// new elements instead of overwriting old ones; callers that want rolling
// semantics dequeue explicitly first.
type Ring[T any] struct {
	buf  []T
	head int
	size int
}

func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic("ringbuf: capacity must be positive")
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Enqueue appends v and reports whether it fit.
func (r *Ring[T]) Enqueue(v T) bool {
	if r.size == len(r.buf) {
		return false
	}
	r.buf[(r.head+r.size)%len(r.buf)] = v
	r.size++
	return true
}

// Dequeue removes and returns the oldest element.
func (r *Ring[T]) Dequeue() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}
	v := r.buf[r.head]
	r.buf[r.head] = zero
	r.head = (r.head + 1) % len(r.buf)
	r.size--
	return v, true
}

// Peek returns the oldest element without removing it.
func (r *Ring[T]) Peek() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}
	return r.buf[r.head], true
}

func (r *Ring[T]) Len() int { return r.size }

func (r *Ring[T]) Cap() int { return len(r.buf) }

func (r *Ring[T]) IsEmpty() bool { return r.size == 0 }

func (r *Ring[T]) IsFull() bool { return r.size == len(r.buf) }

// MostlyFull reports whether occupancy has reached pct (0..1) of capacity.
// Producers use it as a backpressure hint before Enqueue starts failing.
func (r *Ring[T]) MostlyFull(pct float64) bool {
	return float64(r.size) >= pct*float64(len(r.buf))
}

// ToSlice returns the elements oldest-first.
func (r *Ring[T]) ToSlice() []T {
	out := make([]T, 0, r.size)
	for i := 0; i < r.size; i++ {
		out = append(out, r.buf[(r.head+i)%len(r.buf)])
	}
	return out
}

func (r *Ring[T]) Clear() {
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.head = 0
	r.size = 0
}
