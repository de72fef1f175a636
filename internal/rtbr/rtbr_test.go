package rtbr

import (
	"runtime"
	"testing"
	"time"
)

func TestEnsureRecyclesReleasedRecord(t *testing.T) {
	g := NewGlobal(0, time.Millisecond)
	r1 := Ensure(g)
	if r1 == nil {
		t.Fatal("Ensure returned nil")
	}
	Release(r1)

	r2 := Ensure(g)
	if r2 == nil {
		t.Fatal("Ensure returned nil on second call")
	}
	// A released record's id should be recycled rather than growing the
	// table unboundedly.
	if r2.ID() != r1.ID() {
		t.Errorf("expected recycled record id %d, got %d", r1.ID(), r2.ID())
	}
}

func TestSectionLifecycleUpdatesSelfEpoch(t *testing.T) {
	g := NewGlobal(0, time.Millisecond)
	r := Ensure(g)
	defer Release(r)

	before := r.selfEpoch.Load()
	sec := Prepare("test")
	node := r.Begin(sec)
	during := r.selfEpoch.Load()
	if during&1 == 0 {
		t.Error("expected self_epoch low bit set while a section is active")
	}
	r.End(node)
	after := r.selfEpoch.Load()
	if after&1 == 1 {
		t.Error("expected self_epoch low bit cleared once the section ends")
	}
	_ = before
}

func TestCallDefersUntilEpochAdvances(t *testing.T) {
	g := NewGlobal(0, time.Millisecond)
	r := Ensure(g)
	defer Release(r)

	ran := false
	r.Call(func(any) { ran = true }, nil)

	// Immediately after Call, the entry's timestamp is >= the record's
	// current epoch view, so nothing should run yet.
	r.drainLimbo()
	if ran {
		t.Fatal("callback ran before its epoch passed")
	}

	// Force the record's observed epoch far enough forward.
	r.globalEpoch.Store(QuickClock() + uint64(time.Second))
	if !r.drainLimbo() {
		t.Error("expected drainLimbo to report a callback ran")
	}
	if !ran {
		t.Error("callback did not run once its epoch passed")
	}
}

func TestPollEasyNeverLowersEpoch(t *testing.T) {
	g := NewGlobal(0, time.Millisecond)
	r := Ensure(g)
	defer Release(r)

	g.globalEpoch.Store(QuickClock())
	before := g.Epoch()
	g.pollEasy()
	if g.Epoch() < before {
		t.Error("pollEasy lowered the global epoch")
	}
}

func TestForceProgressPopsStaleSections(t *testing.T) {
	g := NewGlobal(0, time.Millisecond)
	r := Ensure(g)
	defer Release(r)

	sec := Prepare("stale")
	r.Begin(sec)

	time.Sleep(2 * time.Millisecond)
	g.ForceProgress(time.Millisecond)

	r.activeMu.Lock()
	n := len(r.active)
	r.activeMu.Unlock()
	if n != 0 {
		t.Errorf("expected ForceProgress to pop the stale section, %d remain", n)
	}
}

// TestDeadThreadReclamation exercises a thread that acquires a record,
// enters a section, and exits without ever calling End or Release. Go
// terminates an OS thread left locked by an exited goroutine, so the
// record's liveness token genuinely goes stale. A subsequent hard poll from
// another thread must reclaim it without aborting: lock cleared, active
// sections emptied, and the id available for reuse via Ensure.
func TestDeadThreadReclamation(t *testing.T) {
	g := NewGlobal(0, time.Millisecond)

	died := make(chan *Record, 1)
	go func() {
		runtime.LockOSThread()
		rec := Ensure(g)
		rec.Begin(Prepare("abandoned"))
		died <- rec
		// Intentionally exit without End, Release, or UnlockOSThread: the
		// locked OS thread terminates with this goroutine.
	}()
	dead := <-died

	// Give the goroutine's thread time to actually exit before polling.
	time.Sleep(20 * time.Millisecond)

	reader := Ensure(g)
	defer Release(reader)

	// pollHard only reclaims a record whose self_epoch hasn't moved between
	// two passes (its first pass just records the baseline), so run it
	// twice with the throttle period cleared in between.
	time.Sleep(2 * time.Millisecond)
	g.pollHard(reader)
	time.Sleep(2 * time.Millisecond)
	g.pollHard(reader)

	if tok := dead.lock.Load(); tok != nil {
		t.Error("expected the dead record's lock to be cleared by pollHard")
	}
	dead.activeMu.Lock()
	activeLen := len(dead.active)
	dead.activeMu.Unlock()
	if activeLen != 0 {
		t.Errorf("expected the dead record's active sections to be cleared, got %d", activeLen)
	}

	g.mu.Lock()
	found := false
	for _, id := range g.freeIDs {
		if id == dead.id {
			found = true
		}
	}
	g.mu.Unlock()
	if !found {
		t.Error("expected the dead record's id to be back on the global freelist")
	}
}
