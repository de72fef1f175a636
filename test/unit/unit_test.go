// Package unit holds property tests that exercise a single package's
// exported surface without needing real sockets or a running server.
package unit

import (
	"sync"
	"testing"

	"github.com/appnexus/httpcore/internal/arena"
)

// For any sequence of Reserve calls inside one VMA, returned addresses
// must be distinct, each
// satisfies addr%align==0, and no two allocations overlap — including
// under concurrent callers racing the same CAS bump pointer.
func TestReservationMonotonicity(t *testing.T) {
	vma, err := arena.NewReservation(16<<20, 2<<20)
	if err != nil {
		t.Fatalf("NewReservation: %v", err)
	}

	type span struct{ addr, size uintptr }
	const goroutines = 16
	const perGoroutine = 64
	sizes := []uintptr{16, 32, 64, 128}
	aligns := []uintptr{8, 16, 32, 64}

	var mu sync.Mutex
	var spans []span
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		g := g
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				size := sizes[(g+i)%len(sizes)]
				align := aligns[(g+i)%len(aligns)]
				addr, err := vma.Reserve(size, align)
				if err != nil {
					t.Errorf("Reserve: %v", err)
					return
				}
				if addr%align != 0 {
					t.Errorf("address %d not aligned to %d", addr, align)
				}
				mu.Lock()
				spans = append(spans, span{addr, size})
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	seen := make(map[uintptr]bool, len(spans))
	for _, s := range spans {
		if seen[s.addr] {
			t.Fatalf("address %d handed out twice", s.addr)
		}
		seen[s.addr] = true
	}

	for i, a := range spans {
		for j, b := range spans {
			if i == j {
				continue
			}
			if a.addr < b.addr+b.size && b.addr < a.addr+a.size {
				t.Fatalf("overlapping allocations: [%d,%d) and [%d,%d)",
					a.addr, a.addr+a.size, b.addr, b.addr+b.size)
			}
		}
	}
}
