// Package slab provides a doubly linked list whose nodes live in a
// preallocated pool. Append and remove never touch the heap once the pool
// has been sized, so lists can be mutated while an audio callback holds the
// same lock.
package slab

// End is the cursor value returned when iteration is exhausted.
const End = -1

type node[T comparable] struct {
	value      T
	prev, next int
	used       bool
}

// List is a pool-backed linked list. The zero value is not usable; call New.
type List[T comparable] struct {
	nodes []node[T]
	head  int
	tail  int
	free  int
	count int
}

// New returns a list able to hold capacity values without allocating.
func New[T comparable](capacity int) *List[T] {
	l := &List[T]{head: End, tail: End, free: End}
	l.Reserve(capacity)
	return l
}

// Reserve grows the pool so that at least capacity values fit.
// It allocates and must not be called from a realtime context.
func (l *List[T]) Reserve(capacity int) {
	old := len(l.nodes)
	if capacity <= old {
		return
	}
	nodes := make([]node[T], capacity)
	copy(nodes, l.nodes)
	for i := capacity - 1; i >= old; i-- {
		nodes[i].next = l.free
		nodes[i].prev = End
		l.free = i
	}
	l.nodes = nodes
}

// Len returns the number of values stored.
func (l *List[T]) Len() int { return l.count }

// Cap returns the pool size.
func (l *List[T]) Cap() int { return len(l.nodes) }

// Append adds v at the tail. It returns false when the pool is exhausted.
func (l *List[T]) Append(v T) bool {
	if l.free == End {
		return false
	}
	i := l.free
	n := &l.nodes[i]
	l.free = n.next

	n.value = v
	n.used = true
	n.prev = l.tail
	n.next = End
	if l.tail != End {
		l.nodes[l.tail].next = i
	} else {
		l.head = i
	}
	l.tail = i
	l.count++
	return true
}

// First returns a cursor to the head value, or End.
func (l *List[T]) First() int { return l.head }

// Next advances cursor i.
func (l *List[T]) Next(i int) int {
	if i < 0 || i >= len(l.nodes) || !l.nodes[i].used {
		return End
	}
	return l.nodes[i].next
}

// Value returns the value at cursor i.
func (l *List[T]) Value(i int) T { return l.nodes[i].value }

// Remove unlinks the value at cursor i and returns its slot to the pool.
// The cursor returned by Next(i) must be captured before calling Remove.
func (l *List[T]) Remove(i int) {
	if i < 0 || i >= len(l.nodes) || !l.nodes[i].used {
		return
	}
	n := &l.nodes[i]
	if n.prev != End {
		l.nodes[n.prev].next = n.next
	} else {
		l.head = n.next
	}
	if n.next != End {
		l.nodes[n.next].prev = n.prev
	} else {
		l.tail = n.prev
	}

	var zero T
	n.value = zero
	n.used = false
	n.prev = End
	n.next = l.free
	l.free = i
	l.count--
}

// RemoveOne removes the first occurrence of v.
func (l *List[T]) RemoveOne(v T) bool {
	for i := l.head; i != End; i = l.nodes[i].next {
		if l.nodes[i].value == v {
			l.Remove(i)
			return true
		}
	}
	return false
}

// Contains reports whether v is stored.
func (l *List[T]) Contains(v T) bool {
	for i := l.head; i != End; i = l.nodes[i].next {
		if l.nodes[i].value == v {
			return true
		}
	}
	return false
}

// Clear removes every value, keeping the pool.
func (l *List[T]) Clear() {
	for i := l.head; i != End; {
		next := l.nodes[i].next
		l.Remove(i)
		i = next
	}
}

// Values copies the stored values into a new slice, in order.
func (l *List[T]) Values() []T {
	out := make([]T, 0, l.count)
	for i := l.head; i != End; i = l.nodes[i].next {
		out = append(out, l.nodes[i].value)
	}
	return out
}
