// Fixed-capacity object pool
// Hands out slots from a caller-provided backing array; never grows and never blocks.
package core

import (
	"sync/atomic"
	"unsafe"
)

// maxPoolSlots is the largest pool a Handle can address.
const maxPoolSlots = 1<<16 - 1

// Slot is one cell of a pool's backing region.
// Declare the region statically, e.g. `var subs [10]core.Slot[core.Subscription]`.
type Slot[T any] struct {
	Value T
	gen   uint16 // bumped on every release so old handles go stale
	inUse bool
}

// Handle identifies a slot allocated from one specific pool.
// The zero Handle never refers to a slot.
type Handle struct {
	pool  uint32
	index uint16
	gen   uint16
}

// IsZero reports whether h is the zero Handle.
func (h Handle) IsZero() bool {
	return h.pool == 0
}

// poolSeq gives every pool a distinct non-zero id.
var poolSeq uint32

// Pool is a fixed-capacity slot allocator.
// It does no locking; owners serialise access (the subscription table holds its mutex).
type Pool[T any] struct {
	slots []Slot[T]
	id    uint32
	live  int
}

// NewPool builds a pool over backing. Capacity is len(backing), capped at 65535.
// Any previous contents of backing are discarded.
func NewPool[T any](backing []Slot[T]) *Pool[T] {
	if len(backing) > maxPoolSlots {
		backing = backing[:maxPoolSlots]
	}
	for i := range backing {
		backing[i] = Slot[T]{}
	}
	return &Pool[T]{
		slots: backing,
		id:    atomic.AddUint32(&poolSeq, 1),
	}
}

// Allocate claims the first free slot.
// Returns false when the pool is exhausted.
func (p *Pool[T]) Allocate() (Handle, bool) {
	for i := range p.slots {
		s := &p.slots[i]
		if !s.inUse {
			s.inUse = true
			p.live++
			return Handle{pool: p.id, index: uint16(i), gen: s.gen}, true
		}
	}
	return Handle{}, false
}

// Release frees the slot and zero-fills it.
// Releasing a foreign, stale or already released handle returns ErrInvalidHandle
// and leaves every slot untouched.
func (p *Pool[T]) Release(h Handle) error {
	s := p.slot(h)
	if s == nil {
		return invalidHandle("Pool.Release")
	}
	*s = Slot[T]{gen: s.gen + 1}
	p.live--
	return nil
}

// Get returns the value stored in a live slot.
func (p *Pool[T]) Get(h Handle) (*T, bool) {
	s := p.slot(h)
	if s == nil {
		return nil, false
	}
	return &s.Value, true
}

// Valid reports whether h refers to a live slot of this pool.
func (p *Pool[T]) Valid(h Handle) bool {
	return p.slot(h) != nil
}

// Index returns the slot index of h, or -1 if h is not live in this pool.
func (p *Pool[T]) Index(h Handle) int {
	if p.slot(h) == nil {
		return -1
	}
	return int(h.index)
}

// Each visits live slots in index order until fn returns false.
func (p *Pool[T]) Each(fn func(h Handle, v *T) bool) {
	for i := range p.slots {
		s := &p.slots[i]
		if !s.inUse {
			continue
		}
		if !fn(Handle{pool: p.id, index: uint16(i), gen: s.gen}, &s.Value) {
			return
		}
	}
}

// MaxSlots returns the pool capacity.
func (p *Pool[T]) MaxSlots() int {
	return len(p.slots)
}

// SlotSize returns the size in bytes of one slot, flags included.
func (p *Pool[T]) SlotSize() uintptr {
	return unsafe.Sizeof(Slot[T]{})
}

// InUse returns the number of live slots.
func (p *Pool[T]) InUse() int {
	return p.live
}

func (p *Pool[T]) slot(h Handle) *Slot[T] {
	if h.pool != p.id || int(h.index) >= len(p.slots) {
		return nil
	}
	s := &p.slots[h.index]
	if !s.inUse || s.gen != h.gen {
		return nil
	}
	return s
}

func invalidHandle(op string) error {
	if debugAssertions {
		panic("core: invalid handle passed to " + op)
	}
	return ErrInvalidHandle
}
