package memory

// ring is a fixed-capacity circular buffer. It is not goroutine-safe; the
// EventManager guards every ring with its own mutex.
type ring[T any] struct {
	buf  []T
	head int // index of the oldest item
	len  int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &ring[T]{buf: make([]T, capacity)}
}

func (r *ring[T]) Cap() int { return len(r.buf) }
func (r *ring[T]) Len() int { return r.len }
func (r *ring[T]) Full() bool { return r.len == len(r.buf) }

// Push appends v, discarding the oldest item when full.
func (r *ring[T]) Push(v T) {
	if r.Full() {
		r.buf[r.head] = v
		r.head = r.next(r.head)
		return
	}
	r.buf[(r.head+r.len)%len(r.buf)] = v
	r.len++
}

// TryPush appends v only if there is room.
func (r *ring[T]) TryPush(v T) bool {
	if r.Full() {
		return false
	}
	r.Push(v)
	return true
}

// Last copies up to n of the most recent items, oldest first.
// n <= 0 means everything.
func (r *ring[T]) Last(n int) []T {
	if n <= 0 || n > r.len {
		n = r.len
	}
	out := make([]T, n)
	start := r.head + r.len - n
	for i := 0; i < n; i++ {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}
	return out
}

func (r *ring[T]) Clear() {
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.head, r.len = 0, 0
}

func (r *ring[T]) next(i int) int {
	i++
	if i == len(r.buf) {
		return 0
	}
	return i
}
