package arena

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Commit rounds atLeast up to a page and, if that doesn't exceed atMost,
// changes the protection of [address, address+rounded) from PROT_NONE to
// PROT_READ|PROT_WRITE, advises DODUMP on the range (it's live data now,
// worth a core), and returns the committed byte count. Returns 0 if the
// rounded size would exceed atMost.
//
// Committing by re-mmapping MAP_FIXED over the reservation would also
// work; mprotect over the single already-reserved mapping is used instead.
// Go's garbage collector and race detector track memory through a fixed
// set of mapped regions discovered at startup; re-mmapping new regions
// mid-program behind Go's back (MAP_FIXED over an address the runtime
// already believes is a single VMA) is far more likely to confuse internal
// bookkeeping than changing the protection bits of memory that was mmapped
// through Go's runtime to begin with. mprotect achieves the same operational
// goal — pages go from unusable to usable on demand — without it.
func Commit(address, atLeast, atMost, pageSize uintptr) (uintptr, error) {
	rounded := roundUp(atLeast, pageSize)
	if rounded > atMost {
		return 0, nil
	}

	slice := unsafe.Slice((*byte)(unsafe.Pointer(address)), rounded)
	if err := unix.Mprotect(slice, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return 0, err
	}
	_ = unix.Madvise(slice, unix.MADV_DODUMP)
	return rounded, nil
}

// bytesAt returns a []byte view over [address, address+n), for use only
// after the range has been committed.
func bytesAt(address, n uintptr) []byte {
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(address)), n)
}
