package iothread

import (
	"sync/atomic"

	"github.com/appnexus/httpcore/internal/interfaces"
)

// Ring is the single-producer/multi-consumer request ring:
// the owning I/O thread is the sole producer, worker goroutines are
// the consumers. It is Dmitry Vyukov's bounded MPMC queue algorithm,
// used here in its single-producer special case — Enqueue skips the CAS
// a true multi-producer would need, since only the owning thread ever
// calls it, but Dequeue still CASes so any number of workers can steal
// concurrently.
type Ring struct {
	mask    uint64
	buf     []ringCell
	enqPos  atomic.Uint64
	deqPos  atomic.Uint64
}

type ringCell struct {
	seq atomic.Uint64
	val interfaces.Request
}

// NewRing creates a ring of the next power of two ≥ capacity.
func NewRing(capacity int) *Ring {
	n := 1
	for n < capacity {
		n <<= 1
	}
	r := &Ring{
		mask: uint64(n - 1),
		buf:  make([]ringCell, n),
	}
	for i := range r.buf {
		r.buf[i].seq.Store(uint64(i))
	}
	return r
}

// Enqueue publishes req. It never blocks: the ring's capacity is sized to
// max_active_connections+1 rounded up, so a live connection can always
// place at most one in-flight request.
func (r *Ring) Enqueue(req interfaces.Request) bool {
	pos := r.enqPos.Load()
	cell := &r.buf[pos&r.mask]
	seq := cell.seq.Load()
	if seq != pos {
		return false // ring full; should not happen under the sizing invariant above
	}
	cell.val = req
	cell.seq.Store(pos + 1)
	r.enqPos.Store(pos + 1)
	return true
}

// Dequeue claims the next request for whichever worker calls it first.
func (r *Ring) Dequeue() (interfaces.Request, bool) {
	for {
		pos := r.deqPos.Load()
		cell := &r.buf[pos&r.mask]
		seq := cell.seq.Load()
		diff := int64(seq) - int64(pos+1)
		switch {
		case diff == 0:
			if r.deqPos.CompareAndSwap(pos, pos+1) {
				v := cell.val
				cell.seq.Store(pos + r.mask + 1)
				return v, true
			}
		case diff < 0:
			return interfaces.Request{}, false
		default:
			// another consumer is ahead of this one; reload and retry
		}
	}
}

// Len is an approximate occupancy count, used only to decide how many
// workers to wake, not for correctness.
func (r *Ring) Len() int {
	enq := r.enqPos.Load()
	deq := r.deqPos.Load()
	if enq < deq {
		return 0
	}
	return int(enq - deq)
}
