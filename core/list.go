// Doubly linked list over a fixed pool
// The pool owns node memory; the list only owns membership (head, tail and the chain).
package core

// Node is the pool element behind a List entry.
type Node[T any] struct {
	Value T
	prev  Handle
	next  Handle
}

// NodeRef is an opaque reference to a node of one List.
// A NodeRef from another list, or one whose node was deleted, is rejected.
type NodeRef struct {
	h Handle
}

// IsZero reports whether r refers to no node.
func (r NodeRef) IsZero() bool {
	return r.h.IsZero()
}

// List is a doubly linked list whose nodes live in a fixed-capacity pool.
// Not safe for concurrent use.
type List[T any] struct {
	pool  *Pool[Node[T]]
	head  Handle
	tail  Handle
	count int
}

// NewList builds an empty list storing its nodes in backing.
func NewList[T any](backing []Slot[Node[T]]) *List[T] {
	return &List[T]{pool: NewPool(backing)}
}

// Count returns the number of nodes in the list.
func (l *List[T]) Count() int {
	return l.count
}

// Capacity returns the maximum number of nodes.
func (l *List[T]) Capacity() int {
	return l.pool.MaxSlots()
}

// PushFront inserts v before the current head.
func (l *List[T]) PushFront(v T) (NodeRef, error) {
	h, n, err := l.alloc(v)
	if err != nil {
		return NodeRef{}, err
	}
	n.next = l.head
	if head := l.node(l.head); head != nil {
		head.prev = h
	} else {
		l.tail = h
	}
	l.head = h
	l.count++
	return NodeRef{h}, nil
}

// PushBack inserts v after the current tail.
func (l *List[T]) PushBack(v T) (NodeRef, error) {
	h, n, err := l.alloc(v)
	if err != nil {
		return NodeRef{}, err
	}
	n.prev = l.tail
	if tail := l.node(l.tail); tail != nil {
		tail.next = h
	} else {
		l.head = h
	}
	l.tail = h
	l.count++
	return NodeRef{h}, nil
}

// InsertAfter inserts v directly after ref.
func (l *List[T]) InsertAfter(ref NodeRef, v T) (NodeRef, error) {
	at := l.node(ref.h)
	if at == nil {
		return NodeRef{}, invalidHandle("List.InsertAfter")
	}
	h, n, err := l.alloc(v)
	if err != nil {
		return NodeRef{}, err
	}
	n.prev = ref.h
	n.next = at.next
	if next := l.node(at.next); next != nil {
		next.prev = h
	} else {
		l.tail = h
	}
	at.next = h
	l.count++
	return NodeRef{h}, nil
}

// InsertBefore inserts v directly before ref.
func (l *List[T]) InsertBefore(ref NodeRef, v T) (NodeRef, error) {
	at := l.node(ref.h)
	if at == nil {
		return NodeRef{}, invalidHandle("List.InsertBefore")
	}
	h, n, err := l.alloc(v)
	if err != nil {
		return NodeRef{}, err
	}
	n.next = ref.h
	n.prev = at.prev
	if prev := l.node(at.prev); prev != nil {
		prev.next = h
	} else {
		l.head = h
	}
	at.prev = h
	l.count++
	return NodeRef{h}, nil
}

// PopFront removes the head and returns its value.
func (l *List[T]) PopFront() (T, bool) {
	return l.pop(l.head)
}

// PopBack removes the tail and returns its value.
func (l *List[T]) PopBack() (T, bool) {
	return l.pop(l.tail)
}

// Delete removes ref from the list and returns its slot to the pool.
func (l *List[T]) Delete(ref NodeRef) error {
	if l.node(ref.h) == nil {
		return invalidHandle("List.Delete")
	}
	return l.unlink(ref.h)
}

// DeleteAt removes the node at position idx counted from the head.
func (l *List[T]) DeleteAt(idx int) error {
	ref, ok := l.At(idx)
	if !ok {
		return ErrNotFound
	}
	return l.unlink(ref.h)
}

// At returns the node at position idx. O(idx).
func (l *List[T]) At(idx int) (NodeRef, bool) {
	if idx < 0 || idx >= l.count {
		return NodeRef{}, false
	}
	h := l.head
	for i := 0; i < idx; i++ {
		h = l.node(h).next
	}
	return NodeRef{h}, true
}

// FindFunc returns the first node, from the head, whose value satisfies match.
func (l *List[T]) FindFunc(match func(T) bool) (NodeRef, bool) {
	for h := l.head; !h.IsZero(); {
		n := l.node(h)
		if match(n.Value) {
			return NodeRef{h}, true
		}
		h = n.next
	}
	return NodeRef{}, false
}

// Find returns the first node of l holding v.
func Find[T comparable](l *List[T], v T) (NodeRef, bool) {
	return l.FindFunc(func(x T) bool { return x == v })
}

// Value returns the value held by ref.
func (l *List[T]) Value(ref NodeRef) (T, bool) {
	n := l.node(ref.h)
	if n == nil {
		var zero T
		return zero, false
	}
	return n.Value, true
}

// Set replaces the value held by ref.
func (l *List[T]) Set(ref NodeRef, v T) error {
	n := l.node(ref.h)
	if n == nil {
		return invalidHandle("List.Set")
	}
	n.Value = v
	return nil
}

// Front returns the head node.
func (l *List[T]) Front() (NodeRef, bool) {
	return NodeRef{l.head}, !l.head.IsZero()
}

// Back returns the tail node.
func (l *List[T]) Back() (NodeRef, bool) {
	return NodeRef{l.tail}, !l.tail.IsZero()
}

// Next returns the node after ref.
func (l *List[T]) Next(ref NodeRef) (NodeRef, bool) {
	n := l.node(ref.h)
	if n == nil || n.next.IsZero() {
		return NodeRef{}, false
	}
	return NodeRef{n.next}, true
}

// Prev returns the node before ref.
func (l *List[T]) Prev(ref NodeRef) (NodeRef, bool) {
	n := l.node(ref.h)
	if n == nil || n.prev.IsZero() {
		return NodeRef{}, false
	}
	return NodeRef{n.prev}, true
}

// Each visits values from head to tail until fn returns false.
func (l *List[T]) Each(fn func(ref NodeRef, v T) bool) {
	for h := l.head; !h.IsZero(); {
		n := l.node(h)
		next := n.next
		if !fn(NodeRef{h}, n.Value) {
			return
		}
		h = next
	}
}

// Clear removes every node.
func (l *List[T]) Clear() {
	for l.count > 0 {
		l.pop(l.head)
	}
}

func (l *List[T]) alloc(v T) (Handle, *Node[T], error) {
	h, ok := l.pool.Allocate()
	if !ok {
		return Handle{}, nil, ErrPoolExhausted
	}
	n, _ := l.pool.Get(h)
	n.Value = v
	return h, n, nil
}

func (l *List[T]) pop(h Handle) (T, bool) {
	n := l.node(h)
	if n == nil {
		var zero T
		return zero, false
	}
	v := n.Value
	l.unlink(h)
	return v, true
}

// unlink patches both neighbours before the slot goes back to the pool.
func (l *List[T]) unlink(h Handle) error {
	n := l.node(h)
	if prev := l.node(n.prev); prev != nil {
		prev.next = n.next
	} else {
		l.head = n.next
	}
	if next := l.node(n.next); next != nil {
		next.prev = n.prev
	} else {
		l.tail = n.prev
	}
	l.count--
	return l.pool.Release(h)
}

func (l *List[T]) node(h Handle) *Node[T] {
	if h.IsZero() {
		return nil
	}
	n, ok := l.pool.Get(h)
	if !ok {
		return nil
	}
	return n
}
