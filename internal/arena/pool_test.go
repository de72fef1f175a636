package arena

import (
	"testing"
	"time"

	"github.com/appnexus/httpcore/internal/rtbr"
)

func TestPoolAllocSwapsWhenActiveFills(t *testing.T) {
	vma := testVMA(t)
	global := rtbr.NewGlobal(0, time.Millisecond)

	p, err := NewPool(vma, 1<<20, true, global, 2)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	chunk := uintptr(256 << 10)
	firstActive := p.Active()
	for i := 0; i < 16; i++ {
		if _, _, err := p.Alloc(chunk, 8); err != nil {
			t.Fatalf("Alloc %d: %v", i, err)
		}
	}
	if p.Active() == firstActive {
		t.Error("expected the pool to have swapped to a new active arena after filling the first")
	}
}

func TestPoolAllocPrivate(t *testing.T) {
	vma := testVMA(t)
	global := rtbr.NewGlobal(0, time.Millisecond)

	p, err := NewPool(vma, 256<<10, false, global, 1)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	addr, gen, err := p.Alloc(64, 8)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if addr == 0 {
		t.Error("expected a non-zero address")
	}
	if gen != 0 {
		t.Errorf("expected generation 0 for a private pool, got %d", gen)
	}
}

func TestPoolRecyclesSparesAcrossSwaps(t *testing.T) {
	vma := testVMA(t)
	global := rtbr.NewGlobal(0, time.Millisecond)

	p, err := NewPool(vma, 512<<10, true, global, 3)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	chunk := uintptr(64 << 10)
	reservedBefore := vma.next.Load()
	seen := map[*Bump]bool{p.Active(): true}
	swaps := 0
	for i := 0; i < 64 && swaps < 3; i++ {
		before := p.Active()
		if _, _, err := p.Alloc(chunk, 8); err != nil {
			t.Fatalf("Alloc %d: %v", i, err)
		}
		if p.Active() != before {
			swaps++
			seen[p.Active()] = true
		}
	}
	if swaps < 2 {
		t.Skip("not enough allocations landed to force multiple swaps in this arena size")
	}
	if vma.next.Load() != reservedBefore {
		t.Errorf("expected swaps to promote pre-carved spares instead of carving new arenas from the reservation")
	}
}
