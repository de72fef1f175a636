package freelist

import (
	"testing"
	"time"

	"github.com/appnexus/httpcore/internal/rtbr"
)

func TestRegisterBoundedByCapacity(t *testing.T) {
	g := rtbr.NewGlobal(0, time.Millisecond)
	fl := New[int](3, g)

	for i := 0; i < 3; i++ {
		if _, ok := fl.Register(); !ok {
			t.Fatalf("Register %d should have succeeded", i)
		}
	}
	if _, ok := fl.Register(); ok {
		t.Error("Register beyond capacity should fail")
	}
}

func TestPushThenPopReturnsSameValue(t *testing.T) {
	g := rtbr.NewGlobal(0, time.Millisecond)
	fl := New[string](2, g)

	e, ok := fl.Register()
	if !ok {
		t.Fatal("Register failed")
	}
	fl.Push(e, "hello")

	v, gotEntry, ok := fl.Pop()
	if !ok {
		t.Fatal("Pop should have succeeded")
	}
	if v != "hello" {
		t.Errorf("expected \"hello\", got %q", v)
	}
	if gotEntry != e {
		t.Error("expected the same entry handle back from Pop")
	}
}

func TestPopEmptyFails(t *testing.T) {
	g := rtbr.NewGlobal(0, time.Millisecond)
	fl := New[int](1, g)

	if _, _, ok := fl.Pop(); ok {
		t.Error("Pop on an empty freelist should fail")
	}
}

func TestShelveWaitsForEpoch(t *testing.T) {
	g := rtbr.NewGlobal(0, time.Millisecond)
	fl := New[int](1, g)

	e, _ := fl.Register()
	fl.Shelve(e, 42)

	// Epoch has not advanced past the shelve timestamp yet.
	if _, _, ok := fl.Pop(); ok {
		t.Error("Pop should not reclaim a limbo entry before the epoch advances")
	}

	g.ForceAdvanceEpochForTest(rtbr.QuickClock() + uint64(time.Second))

	v, _, ok := fl.Pop()
	if !ok {
		t.Fatal("Pop should succeed once the epoch passes the deletion timestamp")
	}
	if v != 42 {
		t.Errorf("expected 42, got %d", v)
	}
}

func TestManageCapsAtThreeIterationsAndRecycles(t *testing.T) {
	g := rtbr.NewGlobal(0, time.Millisecond)
	fl := New[int](5, g)

	entries := make([]*Entry[int], 0, 5)
	for i := 0; i < 5; i++ {
		e, ok := fl.Register()
		if !ok {
			t.Fatalf("Register %d failed", i)
		}
		entries = append(entries, e)
		fl.Shelve(e, i)
	}

	g.ForceAdvanceEpochForTest(rtbr.QuickClock() + uint64(time.Second))

	seen := map[int]bool{}
	for i := 0; i < 5; i++ {
		v, _, ok := fl.Pop()
		if !ok {
			t.Fatalf("Pop %d should have succeeded", i)
		}
		seen[v] = true
	}
	if len(seen) != 5 {
		t.Errorf("expected all 5 distinct values reclaimed, got %v", seen)
	}
}
