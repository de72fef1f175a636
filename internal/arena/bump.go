package arena

import (
	"errors"
	"sync/atomic"

	"github.com/appnexus/httpcore/internal/spinlock"
)

// ErrOOM is returned when a bump allocator cannot satisfy a request even
// after attempting to grow its committed region.
var ErrOOM = errors.New("arena: out of memory")

// errGenerationChanged aborts a shared allocation whose arena was reset
// mid-loop. Pool.Alloc retries against the arena's new incarnation; it is
// never surfaced past this package.
var errGenerationChanged = errors.New("arena: generation changed mid-allocation")

// maskFor computes the alignment mask for a power-of-two align, or 0 for
// align==0 ("no alignment constraint beyond natural"). The bit-twiddled
// derivation `(align ^ (align-1)) >> 1` reduces to align-1 for every power
// of two; this is that same value written the direct way.
func maskFor(align uintptr) uintptr {
	if align == 0 {
		return 0
	}
	return align - 1
}

// bumpState is the would-be 16-byte {allocated, capacity, generation}
// arena word. Go has no native double-word (128-bit) compare-and-swap,
// so instead of packing the three fields into one machine word, each update
// allocates a fresh immutable bumpState and the whole *pointer* is CAS'd via
// atomic.Pointer — the idiomatic Go substitute for DWCAS, trading one
// small heap allocation per successful update for correctness without
// unsafe multi-word atomics.
type bumpState struct {
	allocated  uintptr
	capacity   uint32 // pages committed
	generation uint32
}

// Bump is a contiguous chunk carved from a Reservation. The zero value is
// not usable; construct with NewPrivateBump or NewSharedBump.
type Bump struct {
	reservation *Reservation
	headerEnd   uintptr
	reserved    uintptr // shadow field: total allocatable byte span, excluding the header page
	pageSize    uintptr
	shared      bool

	// Shared variant.
	state  atomic.Pointer[bumpState]
	growMu spinlock.Spinlock

	// Private variant (no synchronization needed; single owner).
	privAllocated uintptr
	privMapped    uintptr // shadow field: bytes committed so far
}

func newBump(vma *Reservation, totalSize uintptr, shared bool) (*Bump, error) {
	pageSize := vma.PageSize()
	base, err := vma.Reserve(totalSize, pageSize)
	if err != nil {
		return nil, err
	}
	header := pageSize
	got, err := Commit(base, header, totalSize, pageSize)
	if err != nil {
		return nil, err
	}
	if got < header {
		return nil, ErrOOM
	}

	b := &Bump{
		reservation: vma,
		headerEnd:   base + header,
		reserved:    totalSize - header,
		pageSize:    pageSize,
		shared:      shared,
	}
	if shared {
		b.state.Store(&bumpState{allocated: b.headerEnd, capacity: 0, generation: 1})
	} else {
		b.privAllocated = b.headerEnd
	}
	return b, nil
}

// NewPrivateBump carves an exclusive, non-concurrent bump arena of
// totalSize bytes (including its one-page header) from vma.
func NewPrivateBump(vma *Reservation, totalSize uintptr) (*Bump, error) {
	return newBump(vma, totalSize, false)
}

// NewSharedBump carves a concurrent, lock-free bump arena of totalSize
// bytes (including its one-page header) from vma.
func NewSharedBump(vma *Reservation, totalSize uintptr) (*Bump, error) {
	return newBump(vma, totalSize, true)
}

// Reserved returns the arena's total allocatable span, used as the size
// class cutoff (allocations larger than Reserved/2 must overflow to the
// pool's large-allocation path rather than this arena).
func (b *Bump) Reserved() uintptr { return b.reserved }

// sizeClassOK reports whether size (optionally plus align slack) fits this
// arena's size class. The cutoff reads the arena's own reserved span
// rather than a separately stored nominal size; the two coincide whenever
// reserved equals the configured chunk size, which is the common case.
func (b *Bump) sizeClassOK(size, align uintptr) bool {
	need := size
	if align > 0 {
		need += align
	}
	return need <= b.reserved/2
}

// AllocPrivate allocates size bytes aligned to align from the private
// variant. Not safe for concurrent use.
func (b *Bump) AllocPrivate(size, align uintptr) (uintptr, error) {
	if b.shared {
		panic("arena: AllocPrivate called on a shared Bump")
	}
	if !b.sizeClassOK(size, align) {
		return 0, ErrOOM
	}

	mask := maskFor(align)
	ret := (b.privAllocated + mask) &^ mask
	next := ret + size

	committedEnd := b.headerEnd + b.privMapped
	if next > committedEnd {
		if next > b.headerEnd+b.reserved {
			return 0, ErrOOM
		}
		want := next - b.headerEnd
		got, err := Commit(committedEnd, want-b.privMapped, b.reserved-b.privMapped, b.pageSize)
		if err != nil || got < want-b.privMapped {
			return 0, ErrOOM
		}
		b.privMapped += got
	}

	b.privAllocated = next
	return ret, nil
}

// ResetPrivate rewinds the private variant's allocation pointer to the
// start of its body, leaving committed pages mapped for reuse.
func (b *Bump) ResetPrivate() {
	if b.shared {
		panic("arena: ResetPrivate called on a shared Bump")
	}
	b.privAllocated = b.headerEnd
}

// AllocShared allocates size bytes aligned to align from the shared,
// lock-free variant, returning the address and the generation the
// allocation was made under. If the arena's generation changes while the
// CAS loop is iterating (a concurrent Quiesce/Reset cycled it), the
// allocation aborts with errGenerationChanged and the caller decides
// whether to retry against the arena's new incarnation.
func (b *Bump) AllocShared(size, align uintptr) (uintptr, uint32, error) {
	if !b.shared {
		panic("arena: AllocShared called on a private Bump")
	}
	if !b.sizeClassOK(size, align) {
		return 0, 0, ErrOOM
	}

	mask := maskFor(align)
	gen := b.state.Load().generation
	for {
		st := b.state.Load()
		if st.generation != gen {
			return 0, 0, errGenerationChanged
		}
		ret := (st.allocated + mask) &^ mask
		next := ret + size

		if next > b.headerEnd+b.reserved {
			return 0, 0, ErrOOM
		}

		mappedEnd := b.headerEnd + uintptr(st.capacity)*b.pageSize
		if next > mappedEnd {
			if !b.grow(st, next) {
				return 0, 0, ErrOOM
			}
			continue
		}

		newSt := &bumpState{allocated: next, capacity: st.capacity, generation: st.generation}
		if b.state.CompareAndSwap(st, newSt) {
			return ret, st.generation, nil
		}
	}
}

// grow commits additional pages so the arena's mapped region reaches at
// least target, serialized by the growth spinlock. Returns false if
// growth failed (capacity exhausted or the OS refused more pages); a
// concurrent reset (detected by generation mismatch) is treated as
// "someone else handled it", also returning true-equivalent via retry at
// the call site (grow returns true so AllocShared simply reloads state).
func (b *Bump) grow(observed *bumpState, target uintptr) bool {
	b.growMu.Lock()
	defer b.growMu.Unlock()

	cur := b.state.Load()
	if cur.generation != observed.generation {
		return true // arena was reset concurrently; caller reloads and retries
	}
	mappedEnd := b.headerEnd + uintptr(cur.capacity)*b.pageSize
	if target <= mappedEnd {
		return true // someone else already grew far enough
	}

	want := target - b.headerEnd
	have := uintptr(cur.capacity) * b.pageSize
	got, err := Commit(mappedEnd, want-have, b.reserved-have, b.pageSize)
	if err != nil {
		return false
	}
	if got == 0 {
		return false
	}

	newCap := cur.capacity + uint32(got/b.pageSize)
	newSt := &bumpState{allocated: cur.allocated, capacity: newCap, generation: cur.generation}
	// If this CAS loses to a concurrent allocation (allocated moved), the
	// next loop iteration simply reloads and recomputes; the pages we just
	// committed are not lost, only the capacity bookkeeping needs a retry.
	for !b.state.CompareAndSwap(cur, newSt) {
		cur = b.state.Load()
		if cur.generation != observed.generation {
			return true
		}
		if uintptr(cur.capacity)*b.pageSize >= got {
			break
		}
		newSt = &bumpState{allocated: cur.allocated, capacity: cur.capacity + uint32(got/b.pageSize), generation: cur.generation}
	}
	return true
}

// Quiesce caps the shared arena: advances allocated to the end of its
// reserved span so no further allocation can succeed. Returns false if the
// generation changed mid-loop (another thread already reset it first).
func (b *Bump) Quiesce() bool {
	gen := b.state.Load().generation
	end := b.headerEnd + b.reserved
	for {
		st := b.state.Load()
		if st.generation != gen {
			return false
		}
		if st.allocated >= end {
			return true
		}
		newSt := &bumpState{allocated: end, capacity: st.capacity, generation: st.generation}
		if b.state.CompareAndSwap(st, newSt) {
			return true
		}
	}
}

// Reset rewinds the shared arena's allocation pointer to its body start and
// bumps its generation, invalidating every pointer handed out under the
// prior generation (pending RTBR clearance). Returns false if another
// thread's reset won the race first.
func (b *Bump) Reset() bool {
	for {
		st := b.state.Load()
		newSt := &bumpState{allocated: b.headerEnd, capacity: st.capacity, generation: st.generation + 1}
		if b.state.CompareAndSwap(st, newSt) {
			return true
		}
		st2 := b.state.Load()
		if st2.generation != st.generation {
			return false
		}
	}
}

// Generation returns the shared arena's current generation counter, or 0
// for a private arena (which has no generation to track).
func (b *Bump) Generation() uint32 {
	if !b.shared {
		return 0
	}
	return b.state.Load().generation
}

// Shared reports whether this Bump is the lock-free concurrent variant.
func (b *Bump) Shared() bool { return b.shared }

// Bytes returns a []byte view over [addr, addr+n) for reading/writing an
// allocation this arena handed out. Callers must not retain the slice past
// the arena's next Reset.
func (b *Bump) Bytes(addr, n uintptr) []byte {
	return bytesAt(addr, n)
}
