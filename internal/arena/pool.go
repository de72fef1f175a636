package arena

import (
	"sync/atomic"

	"github.com/appnexus/httpcore/internal/freelist"
	"github.com/appnexus/httpcore/internal/rtbr"
	"github.com/appnexus/httpcore/internal/spinlock"
)

// Pool is a two-slot generational arena pool: one active
// Bump taking allocations and one quiescing Bump being drained of its last
// concurrent readers before reuse. When the active slot fills, Pool swaps
// it into the quiescing position, promotes a freshly-reset Bump (recycled
// or newly carved) into the active position, and hands the displaced
// quiescing Bump to internal/freelist, which holds it in limbo until
// internal/rtbr confirms every reader that observed the old generation has
// passed through a quiescent point.
//
// A shared Pool carves concurrent Bumps (for allocations touched by more
// than one I/O thread); a private Pool carves the non-concurrent variant
// for a single owning thread's exclusive allocations. Both share this same
// swap machinery — the private variant just never needs rtbr.Global to
// defer reuse for correctness (there are no concurrent readers), but still
// benefits from eventually recycling Bump structures rather than forever
// carving fresh ones out of the reservation.
type Pool struct {
	vma      *Reservation
	bumpSize uintptr
	shared   bool

	slotMu    spinlock.Spinlock
	active    atomic.Pointer[Bump]
	quiescing atomic.Pointer[Bump]

	global *rtbr.Global
	fl     *freelist.Freelist[*Bump]
}

// NewPool creates a two-slot pool of bumpSize-byte arenas, pre-carving
// spares extra Bumps (beyond the two live slots) so early swaps don't pay
// the cost of a fresh reservation carve-out.
func NewPool(vma *Reservation, bumpSize uintptr, shared bool, global *rtbr.Global, spares int) (*Pool, error) {
	p := &Pool{
		vma:      vma,
		bumpSize: bumpSize,
		shared:   shared,
		global:   global,
		fl:       freelist.New[*Bump](spares+2, global),
	}

	active, err := newBump(vma, bumpSize, shared)
	if err != nil {
		return nil, err
	}
	quiescing, err := newBump(vma, bumpSize, shared)
	if err != nil {
		return nil, err
	}
	p.active.Store(active)
	p.quiescing.Store(quiescing)

	for i := 0; i < spares; i++ {
		spare, err := newBump(vma, bumpSize, shared)
		if err != nil {
			return nil, err
		}
		e, ok := p.fl.Register()
		if !ok {
			break
		}
		p.fl.Push(e, spare)
	}
	return p, nil
}

// Active returns the pool's current allocating arena.
func (p *Pool) Active() *Bump { return p.active.Load() }

// Bytes returns a []byte view over [addr, addr+n), for an address this
// pool previously handed out via Alloc. Independent of which Bump is
// currently active: the view is a raw address-range cast, not tied to any
// particular Bump instance.
func (p *Pool) Bytes(addr, n uintptr) []byte {
	return bytesAt(addr, n)
}

// BumpSize returns the configured per-arena chunk size, the size-class
// cutoff workers should use to decide between the pool path and the
// large-allocation overflow path.
func (p *Pool) BumpSize() uintptr { return p.bumpSize }

// Alloc allocates size bytes aligned to align from the pool's active
// arena, swapping to a fresh arena and retrying once if the active arena
// is full. Returns the generation the allocation was made under (0 for a
// private pool, which tracks no generation).
func (p *Pool) Alloc(size, align uintptr) (uintptr, uint32, error) {
	if size+align > p.bumpSize/2 {
		// No arena this pool will ever carve can hold it; don't burn a
		// swap finding that out.
		return 0, 0, ErrOOM
	}
	for attempt := 0; attempt < 2; attempt++ {
		cur := p.active.Load()

		var (
			addr uintptr
			gen  uint32
			err  error
		)
		if p.shared {
			addr, gen, err = cur.AllocShared(size, align)
		} else {
			addr, err = cur.AllocPrivate(size, align)
		}
		if err == nil {
			return addr, gen, nil
		}
		if err == errGenerationChanged {
			// The active arena was reset (or replaced) under us; its new
			// incarnation has room, so retry without forcing a swap.
			continue
		}
		if err != ErrOOM {
			return 0, 0, err
		}
		if attempt > 0 || !p.swap(cur) {
			return 0, 0, ErrOOM
		}
	}
	return 0, 0, ErrOOM
}

// swap retires observedActive into the quiescing slot and promotes a fresh
// arena into the active slot. Returns false only when no fresh arena could
// be obtained (freelist empty and the reservation itself is exhausted).
// If another allocator already completed the swap (observedActive is no
// longer the active arena), swap is a no-op that reports success so the
// caller simply retries its allocation against the new active arena.
func (p *Pool) swap(observedActive *Bump) bool {
	p.slotMu.Lock()
	defer p.slotMu.Unlock()

	cur := p.active.Load()
	if cur != observedActive {
		return true
	}

	if p.shared {
		cur.Quiesce()
	}

	displaced := p.quiescing.Load()

	fresh, entry, ok := p.fl.Pop()
	var freshBump *Bump
	if ok {
		freshBump = fresh
		if p.shared {
			freshBump.Reset()
		} else {
			freshBump.ResetPrivate()
		}
	} else {
		nb, err := newBump(p.vma, p.bumpSize, p.shared)
		if err != nil {
			return false
		}
		freshBump = nb
		// A fresh carve-out needs a fresh entry to shelve the displaced
		// arena under; recycled arenas reuse the entry Pop handed back.
		entry, _ = p.fl.Register()
	}

	p.quiescing.Store(cur)
	p.active.Store(freshBump)

	if entry != nil {
		p.fl.Shelve(entry, displaced)
	}
	// If the freelist had no free entry slot left, displaced is simply never
	// recycled again; it stays referenced only by whatever in-flight
	// allocation pointers still point into it, and is garbage collected
	// once those are gone. The pool loses a reuse opportunity, not memory
	// safety.

	return true
}
