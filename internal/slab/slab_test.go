package slab

import "testing"

func TestList_AppendRemoveOrder(t *testing.T) {
	l := New[int](4)
	for i := 1; i <= 4; i++ {
		if !l.Append(i) {
			t.Fatalf("append %d failed", i)
		}
	}
	if l.Append(5) {
		t.Fatalf("append past capacity should fail")
	}
	if !l.RemoveOne(2) {
		t.Fatalf("remove 2 failed")
	}
	if l.RemoveOne(2) {
		t.Fatalf("second remove of 2 should fail")
	}
	if !l.Append(5) {
		t.Fatalf("append after remove should reuse the freed slot")
	}

	want := []int{1, 3, 4, 5}
	got := l.Values()
	if len(got) != len(want) {
		t.Fatalf("len: want %d got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("values: want %v got %v", want, got)
		}
	}
}

func TestList_CursorRemoveDuringIteration(t *testing.T) {
	l := New[int](8)
	for i := 0; i < 8; i++ {
		l.Append(i)
	}
	for i := l.First(); i != End; {
		next := l.Next(i)
		if l.Value(i)%2 == 0 {
			l.Remove(i)
		}
		i = next
	}
	if l.Len() != 4 {
		t.Fatalf("want 4 odd values, got %d", l.Len())
	}
	for _, v := range l.Values() {
		if v%2 == 0 {
			t.Fatalf("even value %d survived", v)
		}
	}
}

func TestList_ReserveKeepsContents(t *testing.T) {
	l := New[string](1)
	l.Append("a")
	if l.Append("b") {
		t.Fatalf("pool of one should be full")
	}
	l.Reserve(3)
	if !l.Append("b") || !l.Append("c") {
		t.Fatalf("append after reserve failed")
	}
	if got := l.Values(); len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Fatalf("unexpected values %v", got)
	}
	l.Clear()
	if l.Len() != 0 || l.First() != End {
		t.Fatalf("clear left %d values", l.Len())
	}
	if l.Cap() != 3 {
		t.Fatalf("clear should keep the pool, cap=%d", l.Cap())
	}
}

func TestList_AppendDoesNotAllocate(t *testing.T) {
	l := New[uint32](16)
	allocs := testing.AllocsPerRun(100, func() {
		l.Append(7)
		l.RemoveOne(7)
	})
	if allocs != 0 {
		t.Fatalf("append/remove allocated %.1f times", allocs)
	}
}
