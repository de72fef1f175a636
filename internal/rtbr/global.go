package rtbr

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/appnexus/httpcore/internal/spinlock"
)

// Global is the process-wide RTBR state: the record table, the safe-epoch
// floor, and the forced-progress valve.
type Global struct {
	mu spinlock.Spinlock // guards poll_hard and record-table growth

	recordsMu sync.RWMutex
	records   []*Record
	freeIDs   []int

	globalEpoch  atomic.Uint64
	minimalEpoch atomic.Uint64
	lastHardPoll atomic.Int64

	delayTicks     uint64
	hardPollPeriod time.Duration
}

// NewGlobal creates RTBR global state. delayTicks is the epoch guard band
// poll_easy subtracts before publishing; hardPollPeriod throttles poll_hard.
func NewGlobal(delayTicks uint64, hardPollPeriod time.Duration) *Global {
	g := &Global{
		delayTicks:     delayTicks,
		hardPollPeriod: hardPollPeriod,
		records:        make([]*Record, 0, 8),
	}
	return g
}

// Ensure acquires a Record for the calling OS thread. The caller MUST have
// already called runtime.LockOSThread, since the record's liveness token is
// bound to the current OS thread id for the lifetime of the record.
func Ensure(g *Global) *Record {
	tid := int32(unix.Gettid())
	start := int64(0)
	if st, err := readTaskStat(tid); err == nil {
		start = st.startTicks
	}

	g.mu.Lock()
	var rec *Record
	if n := len(g.freeIDs); n > 0 {
		id := g.freeIDs[n-1]
		g.freeIDs = g.freeIDs[:n-1]
		rec = g.records[id]
	} else {
		rec = &Record{owner: g}
		g.recordsMu.Lock()
		rec.id = len(g.records)
		g.records = append(g.records, rec)
		g.recordsMu.Unlock()
	}
	g.mu.Unlock()

	rec.active = nil
	rec.oldest.Store(nil)
	rec.limboHead, rec.limboTail = nil, nil
	rec.limboCount.Store(0)
	rec.selfEpoch.Store(0)
	rec.lastSelfEpoch.Store(0)
	rec.lastSafe.Store(time.Now().UnixNano())
	rec.globalEpoch.Store(g.globalEpoch.Load())
	rec.lock.Store(&lockToken{tid: tid, start: start})
	return rec
}

// Release clears a record's liveness token and returns its id to the
// freelist, so the next Ensure re-issues the record instead of growing the
// table.
func Release(rec *Record) {
	g := rec.owner
	g.mu.Lock()
	if rec.lock.Swap(nil) != nil {
		g.mu2ReleaseID(rec.id)
	}
	g.mu.Unlock()
}

// Epoch returns the current globally-observed safe epoch.
func (g *Global) Epoch() uint64 {
	return g.globalEpoch.Load()
}

// ForceAdvanceEpochForTest directly raises the global epoch, bypassing
// poll_easy's record-derived floor. Exported for tests in other packages
// (internal/freelist) that need a deterministic epoch without spinning up
// real RTBR-tracked readers.
func (g *Global) ForceAdvanceEpochForTest(epoch uint64) {
	for {
		cur := g.globalEpoch.Load()
		if epoch <= cur {
			return
		}
		if g.globalEpoch.CompareAndSwap(cur, epoch) {
			return
		}
	}
}

// pollEasy computes the minimum of max(self_epoch, last_safe) across every
// locked record, subtracts the guard band, and monotonically raises the
// global epoch.
func (g *Global) pollEasy() {
	g.recordsMu.RLock()
	defer g.recordsMu.RUnlock()

	var floor uint64
	first := true
	for _, r := range g.records {
		if r.lock.Load() == nil {
			continue
		}
		se := r.selfEpoch.Load()
		ls := uint64(r.lastSafe.Load())
		v := se
		if ls > v {
			v = ls
		}
		if first || v < floor {
			floor = v
			first = false
		}
	}
	if first {
		return
	}
	if floor < g.delayTicks {
		floor = 0
	} else {
		floor -= g.delayTicks
	}

	for {
		cur := g.globalEpoch.Load()
		if floor <= cur {
			return
		}
		if g.globalEpoch.CompareAndSwap(cur, floor) {
			return
		}
	}
}

// pollHard walks every record under the global spinlock, throttled to once
// per hardPollPeriod, reclaiming records owned by dead or reused threads.
func (g *Global) pollHard(self *Record) {
	last := g.lastHardPoll.Load()
	now := time.Now()
	if now.Sub(time.Unix(0, last)) < g.hardPollPeriod {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastHardPoll.Store(now.UnixNano())

	g.recordsMu.RLock()
	records := append([]*Record(nil), g.records...)
	g.recordsMu.RUnlock()

	for _, r := range records {
		tok := r.lock.Load()
		if tok == nil {
			r.lastSafe.Store(now.UnixNano())
			continue
		}

		curSelf := r.selfEpoch.Load()
		if curSelf != r.lastSelfEpoch.Load() {
			r.lastSelfEpoch.Store(curSelf)
			continue
		}

		alive, stat, err := taskAlive(tok.tid, tok.start)
		if err != nil {
			continue
		}
		if !alive {
			reclaim(self, r)
			continue
		}

		running := stat.state == 'R'
		if curSelf&1 == 0 && !running && now.UnixNano() > r.lastSafe.Load() {
			r.lastSafe.Store(now.UnixNano())
		} else {
			total := int64(stat.utime + stat.stime)
			prevTotal := r.totalTime.Load()
			prevAsOf := r.asOf.Load()
			if total != prevTotal && prevAsOf > r.lastSafe.Load() {
				r.lastSafe.Store(prevAsOf)
			}
			r.totalTime.Store(total)
			r.asOf.Store(now.UnixNano())
		}
	}
}

// reclaim splices a dead record's limbo onto self's limbo, clears its
// active sections, and returns it to the freelist.
func reclaim(self, dead *Record) {
	dead.activeMu.Lock()
	dead.active = nil
	dead.oldest.Store(nil)
	dead.activeMu.Unlock()

	dead.limboMu.Lock()
	head, tail := dead.limboHead, dead.limboTail
	dead.limboHead, dead.limboTail = nil, nil
	n := dead.limboCount.Swap(0)
	dead.limboMu.Unlock()

	if head != nil {
		self.limboMu.Lock()
		if self.limboTail == nil {
			self.limboHead = head
		} else {
			self.limboTail.next = head
		}
		self.limboTail = tail
		self.limboMu.Unlock()
		self.limboCount.Add(n)
	}

	dead.lock.Store(nil)

	self.owner.mu2ReleaseID(dead.id)
}

// mu2ReleaseID returns a record id to the freelist; it assumes the caller
// already holds g.mu (named distinctly from Release to avoid confusion with
// the public per-record Release, which takes g.mu itself).
func (g *Global) mu2ReleaseID(id int) {
	g.freeIDs = append(g.freeIDs, id)
}

// ForceProgress raises the minimal epoch to now-latency and forcibly pops
// any section older than it — a last-resort valve against unbounded limbo
// growth when a thread is stuck rather than merely descheduled.
func (g *Global) ForceProgress(latency time.Duration) {
	target := uint64(time.Now().Add(-latency).UnixNano())
	for {
		cur := g.minimalEpoch.Load()
		if target <= cur {
			break
		}
		if g.minimalEpoch.CompareAndSwap(cur, target) {
			break
		}
	}

	g.recordsMu.RLock()
	defer g.recordsMu.RUnlock()
	for _, r := range g.records {
		r.forcePop(target)
	}
}
