// Package freelist implements a bounded lock-free freelist: a
// fixed-capacity pool of entries shared between a Michael-Scott
// MPMC FIFO (the "limbo", holding values still possibly observed by a
// reader) and an MPMC Treiber stack (the "reuse list", holding values
// already cleared for immediate reuse).
//
// Generic over the stored value type so internal/arena can freelist *Bump
// pointers without freelist importing arena (which would create an import
// cycle, since arena's pool also needs freelist).
package freelist

import (
	"sync/atomic"

	"github.com/appnexus/httpcore/internal/rtbr"
)

// Entry is a freelist slot handle returned by Register and consumed by
// Push/Shelve; Pop hands one back out along with the value it held.
type Entry[T any] struct {
	value     T
	hasValue  atomic.Bool
	delTS     atomic.Uint64
	limboNext atomic.Pointer[Entry[T]]
	reuseNext atomic.Pointer[Entry[T]]
}

// Freelist is a fixed-capacity freelist of T. It never allocates after
// construction.
type Freelist[T any] struct {
	entries  []*Entry[T]
	capacity int64
	nextIdx  atomic.Int64

	limboHead atomic.Pointer[Entry[T]]
	limboTail atomic.Pointer[Entry[T]]
	reuseTop  atomic.Pointer[Entry[T]]

	global *rtbr.Global
}

// New creates a Freelist bounded to capacity entries, backed by global for
// limbo deletion-timestamp comparisons. One extra internal entry beyond
// capacity is allocated as the Michael-Scott queue's permanent sentinel.
func New[T any](capacity int, global *rtbr.Global) *Freelist[T] {
	fl := &Freelist[T]{capacity: int64(capacity), global: global}
	fl.entries = make([]*Entry[T], capacity+1)
	for i := range fl.entries {
		fl.entries[i] = &Entry[T]{}
	}
	fl.limboHead.Store(fl.entries[0])
	fl.limboTail.Store(fl.entries[0])
	fl.nextIdx.Store(1)
	return fl
}

// Register atomically claims an unused entry index, or returns ok=false
// once capacity is exhausted.
func (fl *Freelist[T]) Register() (*Entry[T], bool) {
	idx := fl.nextIdx.Add(1) - 1
	if idx > fl.capacity {
		return nil, false
	}
	return fl.entries[idx], true
}

// Push publishes value onto the reuse stack immediately: it is available
// to the very next Pop with no epoch wait.
func (fl *Freelist[T]) Push(e *Entry[T], value T) {
	e.value = value
	e.hasValue.Store(true)
	for {
		top := fl.reuseTop.Load()
		e.reuseNext.Store(top)
		if fl.reuseTop.CompareAndSwap(top, e) {
			return
		}
	}
}

// Shelve publishes value onto the limbo FIFO with a deletion timestamp of
// now; it becomes eligible for reuse once the global epoch passes that
// timestamp.
func (fl *Freelist[T]) Shelve(e *Entry[T], value T) {
	e.value = value
	e.hasValue.Store(true)
	e.delTS.Store(rtbr.QuickClock())
	e.limboNext.Store(nil)

	for {
		tail := fl.limboTail.Load()
		next := tail.limboNext.Load()
		if tail != fl.limboTail.Load() {
			continue
		}
		if next == nil {
			if tail.limboNext.CompareAndSwap(nil, e) {
				fl.limboTail.CompareAndSwap(tail, e)
				return
			}
		} else {
			fl.limboTail.CompareAndSwap(tail, next)
		}
	}
}

// Pop returns a freed value and the entry it was held in, preferring the
// reuse stack and falling back to draining eligible limbo entries.
func (fl *Freelist[T]) Pop() (value T, entry *Entry[T], ok bool) {
	for {
		top := fl.reuseTop.Load()
		if top == nil {
			break
		}
		next := top.reuseNext.Load()
		if fl.reuseTop.CompareAndSwap(top, next) {
			return top.value, top, true
		}
	}
	return fl.manage()
}

// manage runs at most 3 Michael-Scott try-dequeue-if iterations against the
// limbo FIFO, admitting a dequeue only when the head's deletion timestamp
// has fallen behind the RTBR-observed safe epoch. Every iteration but the
// last recycles its retired node straight onto the reuse stack; the final
// iteration's value is returned directly, avoiding an extra push/pop.
func (fl *Freelist[T]) manage() (value T, entry *Entry[T], ok bool) {
	epoch := fl.global.Epoch()

	var lastEntry *Entry[T]
	var lastValue T
	got := false

	for i := 0; i < 3; i++ {
		head := fl.limboHead.Load()
		tail := fl.limboTail.Load()
		next := head.limboNext.Load()
		if head != fl.limboHead.Load() {
			continue
		}
		if head == tail {
			if next == nil {
				break
			}
			fl.limboTail.CompareAndSwap(tail, next)
			continue
		}
		if next.delTS.Load() >= epoch {
			break
		}
		v := next.value
		if fl.limboHead.CompareAndSwap(head, next) {
			if got {
				fl.Push(lastEntry, lastValue)
			}
			lastEntry = head
			lastValue = v
			got = true
		}
	}

	if !got {
		var zero T
		return zero, nil, false
	}
	return lastValue, lastEntry, true
}

// Capacity returns the freelist's fixed entry capacity.
func (fl *Freelist[T]) Capacity() int {
	return int(fl.capacity)
}
