package core

import "testing"

// checkLinks walks the list both ways and verifies the neighbour links.
func checkLinks[T comparable](t *testing.T, l *List[T]) []T {
	t.Helper()

	var forward []T
	var prev NodeRef
	ref, ok := l.Front()
	for ok {
		p, hasPrev := l.Prev(ref)
		if prev.IsZero() && hasPrev {
			t.Fatalf("head has a predecessor")
		}
		if !prev.IsZero() && p != prev {
			t.Fatalf("next.prev != node")
		}
		v, _ := l.Value(ref)
		forward = append(forward, v)
		prev = ref
		ref, ok = l.Next(ref)
	}
	if back, _ := l.Back(); len(forward) > 0 && back != prev {
		t.Fatalf("tail is not the last node reached")
	}

	var backward []T
	ref, ok = l.Back()
	for ok {
		v, _ := l.Value(ref)
		backward = append(backward, v)
		ref, ok = l.Prev(ref)
	}

	if len(forward) != len(backward) || len(forward) != l.Count() {
		t.Fatalf("forward %d, backward %d, Count %d", len(forward), len(backward), l.Count())
	}
	for i := range forward {
		if forward[i] != backward[len(backward)-1-i] {
			t.Fatalf("forward %v is not backward %v reversed", forward, backward)
		}
	}
	return forward
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestListPushPop(t *testing.T) {
	var backing [4]Slot[Node[int]]
	l := NewList(backing[:])

	l.PushBack(2)
	l.PushBack(3)
	l.PushFront(1)
	if got := checkLinks(t, l); !equalInts(got, []int{1, 2, 3}) {
		t.Fatalf("list = %v", got)
	}

	if v, ok := l.PopFront(); !ok || v != 1 {
		t.Errorf("PopFront = %d %v", v, ok)
	}
	if v, ok := l.PopBack(); !ok || v != 3 {
		t.Errorf("PopBack = %d %v", v, ok)
	}
	if got := checkLinks(t, l); !equalInts(got, []int{2}) {
		t.Errorf("list = %v", got)
	}

	l.PopBack()
	if _, ok := l.PopFront(); ok {
		t.Error("PopFront on empty list succeeded")
	}
	if _, ok := l.Front(); ok {
		t.Error("empty list has a head")
	}
}

func TestListInsert(t *testing.T) {
	var backing [5]Slot[Node[int]]
	l := NewList(backing[:])

	r1, _ := l.PushBack(1)
	r4, _ := l.PushBack(4)
	r2, err := l.InsertAfter(r1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.InsertBefore(r4, 3); err != nil {
		t.Fatal(err)
	}
	if _, err := l.InsertBefore(r1, 0); err != nil {
		t.Fatal(err)
	}
	if got := checkLinks(t, l); !equalInts(got, []int{0, 1, 2, 3, 4}) {
		t.Fatalf("list = %v", got)
	}

	if _, err := l.InsertAfter(r2, 9); err != ErrPoolExhausted {
		t.Errorf("insert into full list: err = %v", err)
	}
	if _, err := l.PushFront(9); err != ErrPoolExhausted {
		t.Errorf("PushFront into full list: err = %v", err)
	}
	if l.Count() != 5 {
		t.Errorf("Count = %d after failed inserts", l.Count())
	}
}

func TestListDelete(t *testing.T) {
	var backing [5]Slot[Node[int]]
	l := NewList(backing[:])

	var refs []NodeRef
	for i := 0; i < 5; i++ {
		r, _ := l.PushBack(i)
		refs = append(refs, r)
	}

	if err := l.Delete(refs[2]); err != nil {
		t.Fatal(err)
	}
	if err := l.Delete(refs[0]); err != nil {
		t.Fatal(err)
	}
	if err := l.Delete(refs[4]); err != nil {
		t.Fatal(err)
	}
	if got := checkLinks(t, l); !equalInts(got, []int{1, 3}) {
		t.Fatalf("list = %v", got)
	}

	if err := l.Delete(refs[2]); err != ErrInvalidHandle {
		t.Errorf("deleting a deleted node: err = %v", err)
	}

	if err := l.DeleteAt(1); err != nil {
		t.Fatal(err)
	}
	if err := l.DeleteAt(5); err != ErrNotFound {
		t.Errorf("DeleteAt out of range: err = %v", err)
	}
	if got := checkLinks(t, l); !equalInts(got, []int{1}) {
		t.Errorf("list = %v", got)
	}
}

func TestListRejectsForeignRef(t *testing.T) {
	var a, b [2]Slot[Node[int]]
	la := NewList(a[:])
	lb := NewList(b[:])

	ra, _ := la.PushBack(1)
	lb.PushBack(2)

	if err := lb.Delete(ra); err != ErrInvalidHandle {
		t.Errorf("Delete with foreign ref: err = %v", err)
	}
	if _, err := lb.InsertAfter(ra, 3); err != ErrInvalidHandle {
		t.Errorf("InsertAfter with foreign ref: err = %v", err)
	}
	if _, ok := lb.Value(ra); ok {
		t.Error("Value with foreign ref succeeded")
	}
	if la.Count() != 1 || lb.Count() != 1 {
		t.Errorf("counts changed: %d %d", la.Count(), lb.Count())
	}
}

func TestListFind(t *testing.T) {
	var backing [4]Slot[Node[int]]
	l := NewList(backing[:])
	for _, v := range []int{5, 7, 9} {
		l.PushBack(v)
	}

	ref, ok := Find(l, 7)
	if !ok {
		t.Fatal("Find(7) failed")
	}
	if at, _ := l.At(1); at != ref {
		t.Error("Find and At disagree")
	}
	if _, ok := Find(l, 8); ok {
		t.Error("Find(8) succeeded")
	}
	if _, ok := l.At(3); ok {
		t.Error("At(3) succeeded")
	}

	ref, ok = l.FindFunc(func(v int) bool { return v > 6 })
	if v, _ := l.Value(ref); !ok || v != 7 {
		t.Errorf("FindFunc = %d", v)
	}
	if err := l.Set(ref, 8); err != nil {
		t.Fatal(err)
	}
	if got := checkLinks(t, l); !equalInts(got, []int{5, 8, 9}) {
		t.Errorf("list = %v", got)
	}
}

func TestListRandomisedInvariant(t *testing.T) {
	var backing [8]Slot[Node[int]]
	l := NewList(backing[:])

	seed := uint32(12345)
	next := func(n int) int {
		seed = seed*1103515245 + 12345
		return int(seed>>16) % n
	}

	for step := 0; step < 500; step++ {
		switch next(6) {
		case 0:
			l.PushFront(step)
		case 1:
			l.PushBack(step)
		case 2:
			if l.Count() > 0 {
				ref, _ := l.At(next(l.Count()))
				l.InsertAfter(ref, step)
			}
		case 3:
			if l.Count() > 0 {
				ref, _ := l.At(next(l.Count()))
				l.InsertBefore(ref, step)
			}
		case 4:
			if l.Count() > 0 {
				l.DeleteAt(next(l.Count()))
			}
		case 5:
			if next(2) == 0 {
				l.PopFront()
			} else {
				l.PopBack()
			}
		}
		checkLinks(t, l)
		if l.Count() > l.Capacity() {
			t.Fatalf("Count %d above capacity", l.Count())
		}
	}

	l.Clear()
	if l.Count() != 0 {
		t.Errorf("Count after Clear = %d", l.Count())
	}
	checkLinks(t, l)
}
