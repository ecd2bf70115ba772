package event

// Buffer is the fixed-capacity event array exchanged with plugins and the
// backend. Events are packed from index 0; the first TypeNull entry ends
// the list.
type Buffer [Capacity]Event

// Clear zeroes every entry.
func (b *Buffer) Clear() {
	*b = Buffer{}
}

// Len returns the number of leading non-null events.
func (b *Buffer) Len() int {
	for i := range b {
		if b[i].Type == TypeNull {
			return i
		}
	}
	return Capacity
}

// Empty reports whether the buffer holds no events.
func (b *Buffer) Empty() bool { return b[0].Type == TypeNull }

// Append stores e after the last event. It returns false when the buffer is
// full or e is a null event.
func (b *Buffer) Append(e Event) bool {
	if e.Type == TypeNull {
		return false
	}
	n := b.Len()
	if n == Capacity {
		return false
	}
	b[n] = e
	return true
}

// CopyFrom replaces the contents of b with those of src.
func (b *Buffer) CopyFrom(src *Buffer) {
	*b = *src
}

// Merge inserts the events of src into b keeping b ordered by Time.
// Events with equal times keep their arrival order, b's first. Events that
// do not fit are dropped.
func (b *Buffer) Merge(src *Buffer) {
	n := b.Len()
	for i := range src {
		e := src[i]
		if e.Type == TypeNull {
			return
		}
		if n == Capacity {
			return
		}
		j := n
		for j > 0 && b[j-1].Time > e.Time {
			b[j] = b[j-1]
			j--
		}
		b[j] = e
		n++
	}
}
