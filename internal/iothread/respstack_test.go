package iothread

import (
	"sync"
	"testing"
)

func TestRespStackDrainRestoresFIFO(t *testing.T) {
	var s RespStack
	for i := 0; i < 5; i++ {
		s.Push(Response{RequestID: uint64(i)})
	}
	got := s.Drain()
	if len(got) != 5 {
		t.Fatalf("expected 5 responses, got %d", len(got))
	}
	for i, r := range got {
		if r.RequestID != uint64(i) {
			t.Errorf("position %d: expected id %d, got %d", i, i, r.RequestID)
		}
	}
}

func TestRespStackDrainEmpty(t *testing.T) {
	var s RespStack
	if got := s.Drain(); got != nil {
		t.Errorf("expected nil drain of empty stack, got %v", got)
	}
}

func TestRespStackConcurrentPush(t *testing.T) {
	var s RespStack
	const n = 500
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Push(Response{RequestID: uint64(i)})
		}(i)
	}
	wg.Wait()

	got := s.Drain()
	if len(got) != n {
		t.Fatalf("expected %d responses, got %d", n, len(got))
	}
	seen := make(map[uint64]bool, n)
	for _, r := range got {
		seen[r.RequestID] = true
	}
	if len(seen) != n {
		t.Errorf("expected %d distinct ids, got %d", n, len(seen))
	}
}
