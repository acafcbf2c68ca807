// Package ring provides a fixed-capacity buffer that overwrites its oldest
// element once full.
package ring

// Buffer holds the most recent Cap() values pushed. It is not safe for
// concurrent use.
type Buffer[T any] struct {
	items []T
	head  int // index of the oldest element
	n     int
}

// New returns a buffer holding up to capacity values. Capacity must be
// positive.
func New[T any](capacity int) *Buffer[T] {
	if capacity <= 0 {
		panic("ring: capacity must be positive")
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

// Push appends v, evicting the oldest value when the buffer is full.
func (b *Buffer[T]) Push(v T) {
	if b.n < len(b.items) {
		b.items[(b.head+b.n)%len(b.items)] = v
		b.n++
		return
	}
	b.items[b.head] = v
	b.head = (b.head + 1) % len(b.items)
}

// Len returns the number of stored values.
func (b *Buffer[T]) Len() int { return b.n }

// Cap returns the buffer capacity.
func (b *Buffer[T]) Cap() int { return len(b.items) }

// At returns the i-th stored value, 0 being the oldest.
func (b *Buffer[T]) At(i int) T {
	if i < 0 || i >= b.n {
		panic("ring: index out of range")
	}
	return b.items[(b.head+i)%len(b.items)]
}

// Last returns up to n of the newest values, oldest first.
func (b *Buffer[T]) Last(n int) []T {
	if n <= 0 || n > b.n {
		n = b.n
	}
	out := make([]T, n)
	for i := range out {
		out[i] = b.At(b.n - n + i)
	}
	return out
}
