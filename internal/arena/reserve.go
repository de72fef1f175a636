// Package arena implements the reserved-VMA, page-committed, lock-free bump
// allocator hierarchy: a process-wide address
// space reservation, incremental page commitment inside it, private and
// shared bump allocators carved from committed pages, and a two-slot
// generational arena pool recycled through internal/freelist with
// internal/rtbr clearance.
package arena

import (
	"errors"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ErrExhausted is returned when a reservation's bump pointer would overflow
// its VMA.
var ErrExhausted = errors.New("arena: reservation exhausted")

// Reservation is a process-wide, one-time lazily-initialized region of
// address space. It is never resized or freed.
type Reservation struct {
	raw      []byte // the backing PROT_NONE mapping, kept alive so the GC never reclaims it
	base     uintptr
	size     uintptr
	pageSize uintptr

	next atomic.Uintptr
}

func roundUp(v, mult uintptr) uintptr {
	return (v + mult - 1) &^ (mult - 1)
}

// NewReservation reserves size bytes aligned to align, via an anonymous
// PROT_NONE mapping with MAP_NORESERVE (no swap/commit accounting) advised
// DONTDUMP so process cores stay small. If the OS hands back an unaligned
// block, the reservation over-maps by align bytes and trims by offsetting
// base into the mapping rather than unmapping the slack (unmapping part of
// a mapping the Go runtime doesn't know about risks splitting a region the
// kernel still considers one VMA; keeping the slack mapped costs address
// space only, never physical memory, since it's never committed).
func NewReservation(size, align uintptr) (*Reservation, error) {
	pageSize := uintptr(unix.Getpagesize())

	raw, err := unix.Mmap(-1, 0, int(size+align),
		unix.PROT_NONE, unix.MAP_ANON|unix.MAP_PRIVATE|unix.MAP_NORESERVE)
	if err != nil {
		return nil, err
	}

	base := uintptr(unsafe.Pointer(&raw[0]))
	aligned := roundUp(base, align)

	_ = unix.Madvise(raw, unix.MADV_DONTDUMP)

	r := &Reservation{
		raw:      raw,
		base:     aligned,
		size:     size,
		pageSize: pageSize,
	}
	r.next.Store(aligned)
	return r, nil
}

// Reserve sub-allocates size bytes aligned to align from inside the
// reservation via a CAS-driven bump pointer, returning an address in
// [base, base+size) or ErrExhausted.
func (r *Reservation) Reserve(size, align uintptr) (uintptr, error) {
	mask := r.pageSize - 1
	if align > 0 && align-1 > mask {
		mask = align - 1
	}

	for {
		cur := r.next.Load()
		ret := (cur + mask) &^ mask
		next := ret + size
		if next > r.base+r.size {
			return 0, ErrExhausted
		}
		if r.next.CompareAndSwap(cur, next) {
			return ret, nil
		}
	}
}

// IsReserved reports whether addr falls inside this reservation's VMA.
func (r *Reservation) IsReserved(addr uintptr) bool {
	return addr >= r.base && addr < r.base+r.size
}

// PageSize returns the OS page size used by this reservation.
func (r *Reservation) PageSize() uintptr {
	return r.pageSize
}

// Base returns the reservation's aligned base address.
func (r *Reservation) Base() uintptr {
	return r.base
}

var (
	globalOnce sync.Once
	global     *Reservation
	globalErr  error
)

// Global returns the process-wide reservation, creating it on first use
// with that call's size and align; later calls return the same reservation
// and ignore their arguments.
func Global(size, align uintptr) (*Reservation, error) {
	globalOnce.Do(func() {
		global, globalErr = NewReservation(size, align)
	})
	return global, globalErr
}
