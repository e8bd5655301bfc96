package core

import "testing"

type pooled struct {
	A uint32
	B [4]byte
}

func TestPoolCapacity(t *testing.T) {
	var backing [3]Slot[pooled]
	p := NewPool(backing[:])

	if p.MaxSlots() != 3 {
		t.Fatalf("MaxSlots = %d, want 3", p.MaxSlots())
	}
	if p.SlotSize() == 0 {
		t.Error("SlotSize = 0")
	}

	var hs []Handle
	for i := 0; i < 3; i++ {
		h, ok := p.Allocate()
		if !ok {
			t.Fatalf("Allocate %d failed", i)
		}
		hs = append(hs, h)
	}
	if _, ok := p.Allocate(); ok {
		t.Error("Allocate past capacity succeeded")
	}
	if _, ok := p.Allocate(); ok {
		t.Error("second Allocate past capacity succeeded")
	}
	if p.InUse() != 3 {
		t.Errorf("InUse = %d, want 3", p.InUse())
	}

	if err := p.Release(hs[1]); err != nil {
		t.Fatal(err)
	}
	h, ok := p.Allocate()
	if !ok || p.Index(h) != 1 {
		t.Errorf("reallocation got index %d ok=%v, want first free slot 1", p.Index(h), ok)
	}
}

func TestPoolReleaseZeroes(t *testing.T) {
	var backing [2]Slot[pooled]
	p := NewPool(backing[:])

	h, _ := p.Allocate()
	v, _ := p.Get(h)
	v.A = 0xDEADBEEF
	v.B = [4]byte{1, 2, 3, 4}

	if err := p.Release(h); err != nil {
		t.Fatal(err)
	}
	if backing[0].Value != (pooled{}) {
		t.Errorf("slot not zeroed: %+v", backing[0].Value)
	}

	h2, _ := p.Allocate()
	v2, _ := p.Get(h2)
	if *v2 != (pooled{}) {
		t.Errorf("reallocated slot carries stale data: %+v", *v2)
	}
}

func TestPoolRejectsStaleAndForeignHandles(t *testing.T) {
	var a, b [2]Slot[int]
	pa := NewPool(a[:])
	pb := NewPool(b[:])

	h, _ := pa.Allocate()
	if err := pb.Release(h); err != ErrInvalidHandle {
		t.Errorf("foreign release: err = %v", err)
	}
	if pa.InUse() != 1 {
		t.Errorf("foreign release touched owner")
	}

	if err := pa.Release(h); err != nil {
		t.Fatal(err)
	}
	if err := pa.Release(h); err != ErrInvalidHandle {
		t.Errorf("double release: err = %v", err)
	}

	h2, _ := pa.Allocate() // same slot, new generation
	if pa.Valid(h) {
		t.Error("stale handle still valid")
	}
	if _, ok := pa.Get(h); ok {
		t.Error("Get on stale handle succeeded")
	}
	if !pa.Valid(h2) {
		t.Error("fresh handle invalid")
	}
	if !(Handle{}).IsZero() || h2.IsZero() {
		t.Error("IsZero mismatch")
	}
}

func TestPoolEach(t *testing.T) {
	var backing [4]Slot[int]
	p := NewPool(backing[:])

	for i := 0; i < 4; i++ {
		h, _ := p.Allocate()
		v, _ := p.Get(h)
		*v = i * 10
	}
	var seen []int
	p.Each(func(h Handle, v *int) bool {
		seen = append(seen, *v)
		return *v < 20
	})
	if len(seen) != 3 || seen[2] != 20 {
		t.Errorf("Each visited %v, want [0 10 20]", seen)
	}
}

func TestPoolLiveHandlesNeverExceedCapacity(t *testing.T) {
	var backing [5]Slot[int]
	p := NewPool(backing[:])

	live := map[Handle]bool{}
	// Deterministic mix of allocations and releases.
	for step := 0; step < 200; step++ {
		if step%3 == 2 && len(live) > 0 {
			for h := range live {
				if err := p.Release(h); err != nil {
					t.Fatal(err)
				}
				delete(live, h)
				break
			}
			continue
		}
		h, ok := p.Allocate()
		if ok {
			live[h] = true
		} else if len(live) != 5 {
			t.Fatalf("Allocate failed with %d live", len(live))
		}
		if len(live) > 5 || p.InUse() != len(live) {
			t.Fatalf("live=%d InUse=%d", len(live), p.InUse())
		}
	}
}
