// Package iothread implements the epoll-driven I/O thread loop: each
// Thread owns one epoll instance, a fixed connection slot table, a Ring
// workers steal from, and a RespStack workers post to. Each Thread locks
// its goroutine to an OS thread for its whole run, optionally pinned to a
// CPU, so its RTBR record's liveness can be judged from kernel scheduling
// state.
package iothread

import (
	"context"
	"encoding/binary"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/appnexus/httpcore/internal/arena"
	"github.com/appnexus/httpcore/internal/conn"
	"github.com/appnexus/httpcore/internal/constants"
	"github.com/appnexus/httpcore/internal/httpparse"
	"github.com/appnexus/httpcore/internal/interfaces"
	"github.com/appnexus/httpcore/internal/netutil"
	"github.com/appnexus/httpcore/internal/reqid"
	"github.com/appnexus/httpcore/internal/rtbr"
)

// Config configures one I/O thread.
type Config struct {
	Index                int
	Host                 string
	Port                 int
	MaxTotalConnections  int
	MaxActiveConnections int
	RequestTimeout       time.Duration
	WorkerEventFd        int // shared eventfd; workers block on eventfd_read against it
	CPUAffinity          []int
	Logger               interfaces.Logger
	Observer             interfaces.Observer
	Global               *rtbr.Global

	// InputPool is the private (single-owner) arena pool connection input
	// buffers are carved from; only this thread ever allocates from it. If
	// nil, New provisions one over its own reservation, sized with the
	// package defaults.
	InputPool *arena.Pool

	// ReleaseBuffer, if set, is called with a slot's output buffer once the
	// thread is done with it (written in full, or abandoned by a force
	// close) so the owner can return heap-overflow allocations to their
	// pool and credit back the large-allocation budget.
	ReleaseBuffer func([]byte)
}

// Thread is one epoll-driven I/O thread: listener, slot table, ring,
// response stack, and its own RTBR record.
type Thread struct {
	cfg Config

	epfd     int
	listenFd int
	wakeFd   int

	slots    []conn.Slot
	parsers  []httpparse.Parser
	fdToSlot map[int]*conn.Slot
	freeIdx  []uint32

	activeConns int
	numConns    int
	genState    uint64 // xorshift state for per-accept generations

	inputPool *arena.Pool

	ring *Ring
	resp *RespStack

	events []unix.EpollEvent

	quiescing bool
	doneCh    chan struct{}

	rec *rtbr.Record

	// sections holds each active slot's open read-side section. A section
	// spans admission to slot teardown (or keepalive recycle), pinning this
	// thread's epoch at its oldest in-flight request so no arena holding a
	// live input or output buffer can be reset underneath it.
	sections []*rtbr.SectionHandle

	// overrideDeadline lets a worker goroutine (running on a thread other
	// than this one) advance a slot's deadline via SetDeadline without
	// taking a lock: it stores a UnixNano deadline, applied by the owning
	// loop on its next iteration and then cleared. The override only has
	// to take effect by the owning loop's next timeout scan, so a relaxed,
	// eventually-consistent update is enough.
	overrideDeadline []atomic.Int64
}

// New constructs a Thread and its listener, but does not start its loop.
func New(cfg Config) (*Thread, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	listenFd, err := netutil.ListenWithRetry(context.Background(), cfg.Host, cfg.Port)
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}
	wakeFd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		unix.Close(listenFd)
		return nil, err
	}

	inputPool := cfg.InputPool
	if inputPool == nil {
		vma, err := arena.NewReservation(constants.DefaultPoolSize, constants.DefaultReservationAlign)
		if err != nil {
			unix.Close(epfd)
			unix.Close(listenFd)
			unix.Close(wakeFd)
			return nil, err
		}
		inputPool, err = arena.NewPool(vma, constants.DefaultBumpSize, false, cfg.Global, 0)
		if err != nil {
			unix.Close(epfd)
			unix.Close(listenFd)
			unix.Close(wakeFd)
			return nil, err
		}
	}

	t := &Thread{
		cfg:              cfg,
		epfd:             epfd,
		listenFd:         listenFd,
		wakeFd:           wakeFd,
		slots:            make([]conn.Slot, cfg.MaxTotalConnections),
		parsers:          make([]httpparse.Parser, cfg.MaxTotalConnections),
		fdToSlot:         make(map[int]*conn.Slot, cfg.MaxTotalConnections),
		freeIdx:          make([]uint32, cfg.MaxTotalConnections),
		ring:             NewRing(cfg.MaxActiveConnections + 1),
		resp:             &RespStack{},
		events:           make([]unix.EpollEvent, constants.InitialEventBatch),
		doneCh:           make(chan struct{}),
		overrideDeadline: make([]atomic.Int64, cfg.MaxTotalConnections),
		genState:         uint64(time.Now().UnixNano()) ^ (uint64(cfg.Index+1) << 56),
		inputPool:        inputPool,
		sections:         make([]*rtbr.SectionHandle, cfg.MaxTotalConnections),
	}
	for i := range t.slots {
		t.slots[i].IOThread = cfg.Index
		t.slots[i].Index = uint32(i)
		t.freeIdx[i] = uint32(len(t.slots) - 1 - i)
	}

	if err := epollAdd(epfd, listenFd, unix.EPOLLIN); err != nil {
		t.Close()
		return nil, err
	}
	if err := epollAdd(epfd, wakeFd, unix.EPOLLIN); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

func epollAdd(epfd, fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	return unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func epollMod(epfd, fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	return unix.EpollCtl(epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

// Close releases the thread's file descriptors. Safe to call after Run
// has returned, or instead of Run if construction succeeded but the
// thread was never started.
func (t *Thread) Close() {
	unix.Close(t.epfd)
	unix.Close(t.listenFd)
	unix.Close(t.wakeFd)
}

// Done reports when the thread's loop has exited after quiescing.
func (t *Thread) Done() <-chan struct{} { return t.doneCh }

// Index returns this thread's configured index, the high byte of every
// request id it mints.
func (t *Thread) Index() int { return t.cfg.Index }

// ListenFd returns the thread's listening socket, for tests that need to
// discover an OS-assigned ephemeral port.
func (t *Thread) ListenFd() int { return t.listenFd }

// SetDeadline overrides connIdx's deadline from any goroutine. gen must
// match the slot's generation at the time of the call or the override is
// rejected; the comparison is best-effort (read without synchronization,
// like the rest of this cross-goroutine path) and only ever causes a
// spurious false, never a misapplied deadline against a slot that has
// since moved on to a new generation.
func (t *Thread) SetDeadline(connIdx uint32, gen uint32, d time.Duration) bool {
	if int(connIdx) >= len(t.slots) {
		return false
	}
	if t.slots[connIdx].Generation != gen {
		return false
	}
	t.overrideDeadline[connIdx].Store(time.Now().Add(d).UnixNano())
	return true
}

// TCPInfo reports the underlying socket's TCP state for connIdx, validated
// against gen the same way SetDeadline is.
func (t *Thread) TCPInfo(connIdx uint32, gen uint32) (rttMicros, rttVarMicros uint32, state uint8, ok bool) {
	if int(connIdx) >= len(t.slots) {
		return 0, 0, 0, false
	}
	slot := &t.slots[connIdx]
	if slot.Generation != gen || slot.Fd <= 0 {
		return 0, 0, 0, false
	}
	rtt, rttvar, st, err := netutil.TCPInfo(slot.Fd)
	if err != nil {
		return 0, 0, 0, false
	}
	return rtt, rttvar, st, true
}

// applyDeadlineOverrides folds any pending SetDeadline calls into their
// slots' Deadline field before the timeout scan runs.
func (t *Thread) applyDeadlineOverrides() {
	for i := range t.overrideDeadline {
		ns := t.overrideDeadline[i].Swap(0)
		if ns == 0 {
			continue
		}
		slot := &t.slots[i]
		if slot.State() != conn.StateReading && slot.State() != conn.StateProcessing {
			continue
		}
		slot.Deadline = time.Unix(0, ns)
		slot.HasDeadlineOverride = true
	}
}

// TryRead steals one request from this thread's ring without blocking.
func (t *Thread) TryRead() (interfaces.Request, bool) { return t.ring.Dequeue() }

// PostResponse queues resp for this thread to drain on its next
// iteration and wakes the thread if it's parked in epoll_wait.
func (t *Thread) PostResponse(r Response) {
	t.resp.Push(r)
	t.wake()
}

// RequestQuiesce sets this thread's local quiesce flag, picked up on its
// next loop iteration.
func (t *Thread) RequestQuiesce() {
	t.quiescing = true
	t.wake()
}

func (t *Thread) wake() {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	_, _ = unix.Write(t.wakeFd, buf[:])
}

// Run executes the thread's loop until it quiesces or ctx is done: pin
// to an OS thread, optionally set CPU affinity, then loop until told to
// stop.
func (t *Thread) Run(ctx context.Context) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(t.doneCh)

	if len(t.cfg.CPUAffinity) > 0 {
		cpu := t.cfg.CPUAffinity[t.cfg.Index%len(t.cfg.CPUAffinity)]
		var mask unix.CPUSet
		mask.Set(cpu)
		if err := unix.SchedSetaffinity(0, &mask); err != nil && t.cfg.Logger != nil {
			t.cfg.Logger.Printf("iothread %d: failed to set CPU affinity to %d: %v", t.cfg.Index, cpu, err)
		}
	}

	t.rec = rtbr.Ensure(t.cfg.Global)
	defer rtbr.Release(t.rec)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		t.drainResponses()
		t.applyDeadlineOverrides()

		timeoutMS := t.nextTimeoutMillis()
		n, err := unix.EpollWait(t.epfd, t.events, timeoutMS)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if t.cfg.Logger != nil {
				t.cfg.Logger.Printf("iothread %d: epoll_wait: %v", t.cfg.Index, err)
			}
			continue
		}
		if n == len(t.events) {
			t.events = make([]unix.EpollEvent, len(t.events)*2)
		}

		for _, bucket := range t.partition(t.events[:n]) {
			for _, ev := range bucket {
				t.handleEvent(ev)
			}
		}

		t.drainResponses()

		if waiting := t.ring.Len(); waiting > 0 && t.cfg.WorkerEventFd > 0 {
			var buf [8]byte
			binary.LittleEndian.PutUint64(buf[:], uint64(waiting))
			_, _ = unix.Write(t.cfg.WorkerEventFd, buf[:])
		}

		t.scanTimeouts()

		if t.quiescing {
			if t.quiesceStep() {
				return
			}
		}

		t.rec.Poll(false)
	}
}

// partition buckets epoll events by priority: worker wake +
// already-in-flight connections first, then IDLE connections, then the
// listener. Processing strictly in this order keeps a burst of new
// accepts from starving in-flight work.
func (t *Thread) partition(events []unix.EpollEvent) [3][]unix.EpollEvent {
	var buckets [3][]unix.EpollEvent
	for _, ev := range events {
		fd := int(ev.Fd)
		switch {
		case fd == t.wakeFd:
			buckets[0] = append(buckets[0], ev)
		case fd == t.listenFd:
			buckets[2] = append(buckets[2], ev)
		default:
			if slot, ok := t.fdToSlot[fd]; ok && slot.State() != conn.StateIdle {
				buckets[0] = append(buckets[0], ev)
			} else {
				buckets[1] = append(buckets[1], ev)
			}
		}
	}
	return buckets
}

func (t *Thread) handleEvent(ev unix.EpollEvent) {
	fd := int(ev.Fd)
	switch {
	case fd == t.wakeFd:
		var buf [8]byte
		_, _ = unix.Read(t.wakeFd, buf[:])
	case fd == t.listenFd:
		t.handleAccept()
	default:
		slot, ok := t.fdToSlot[fd]
		if !ok {
			return
		}
		if ev.Events&unix.EPOLLRDHUP != 0 {
			slot.RemoteClosed = true
		}
		if ev.Events&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0 {
			t.handleReadable(slot)
		}
		if ev.Events&unix.EPOLLOUT != 0 {
			t.handleWritable(slot)
		}
	}
}

func (t *Thread) handleAccept() {
	for {
		fd, _, err := netutil.Accept4(t.listenFd)
		if err != nil {
			if err != unix.EAGAIN {
				if t.cfg.Logger != nil {
					t.cfg.Logger.Printf("iothread %d: accept4: %v", t.cfg.Index, err)
				}
			}
			return
		}

		idx, ok := t.popFreeSlot()
		if !ok {
			unix.Close(fd)
			if t.cfg.Observer != nil {
				t.cfg.Observer.ObserveRefusedConn(t.cfg.Index)
			}
			continue
		}

		_ = netutil.TuneAccepted(fd)
		slot := &t.slots[idx]
		_ = slot.Accept(fd, t.nextGeneration())
		t.parsers[idx].Reset()
		t.fdToSlot[fd] = slot
		t.numConns++
		if t.cfg.Observer != nil {
			t.cfg.Observer.ObserveConnAccepted(t.cfg.Index)
		}

		if err := epollAdd(t.epfd, fd, unix.EPOLLIN|unix.EPOLLRDHUP); err != nil {
			t.forceClose(slot)
			continue
		}

		t.handleReadable(slot) // optimistic read; data often arrives with the SYN
	}
}

// growInput (re)carves slot's input buffer from the thread's private arena
// pool at the given size, copying any bytes already read. The old carve is
// bump garbage; it is reclaimed wholesale when the pool cycles its arena.
func (t *Thread) growInput(slot *conn.Slot, size uintptr) bool {
	addr, _, err := t.inputPool.Alloc(size, 8)
	if err != nil {
		return false
	}
	buf := t.inputPool.Bytes(addr, size)
	if slot.InputLen > 0 {
		copy(buf, slot.InputBuf[:slot.InputLen])
	}
	slot.InputBuf = buf
	return true
}

func (t *Thread) handleReadable(slot *conn.Slot) {
	if slot.State() == conn.StateIdle {
		if t.activeConns >= t.cfg.MaxActiveConnections {
			if t.cfg.Observer != nil {
				t.cfg.Observer.ObserveRefusedActiveConn(t.cfg.Index)
			}
			t.forceClose(slot)
			return
		}
		slot.InputLen = 0
		if !t.growInput(slot, constants.InitialInputBufSize) {
			if t.cfg.Observer != nil {
				t.cfg.Observer.ObserveOOMFailure(t.cfg.Index)
			}
			t.forceClose(slot)
			return
		}
		_ = slot.BeginReading()
		t.activeConns++
		if t.rec != nil {
			t.sections[slot.Index] = t.rec.Begin(rtbr.Prepare("request"))
		}
		// The generation is per-request, not per-connection: redrawing it
		// here makes a recycled slot's previous request id undecodable the
		// moment a new request starts on it.
		slot.Generation = t.nextGeneration()
		if !slot.HasDeadlineOverride && t.cfg.RequestTimeout > 0 {
			slot.Deadline = time.Now().Add(t.cfg.RequestTimeout)
		}
	}
	if slot.State() != conn.StateReading {
		return
	}

	for {
		if slot.InputLen == len(slot.InputBuf) {
			// Geometric growth; a request that outgrows the input arena's
			// size class is an input-side OOM, closing the connection.
			if !t.growInput(slot, uintptr(2*len(slot.InputBuf))) {
				if t.cfg.Observer != nil {
					t.cfg.Observer.ObserveOOMFailure(t.cfg.Index)
				}
				t.forceClose(slot)
				return
			}
		}
		n, err := unix.Read(slot.Fd, slot.InputBuf[slot.InputLen:])
		if err != nil {
			if err == unix.EAGAIN {
				return
			}
			if err == unix.ECONNRESET {
				if t.cfg.Observer != nil {
					t.cfg.Observer.ObserveClientReset(t.cfg.Index)
				}
			} else if t.cfg.Observer != nil {
				t.cfg.Observer.ObserveReadError(t.cfg.Index)
			}
			t.forceClose(slot)
			return
		}
		if n == 0 {
			if t.cfg.Observer != nil {
				t.cfg.Observer.ObserveMalformedReq(t.cfg.Index)
			}
			t.forceClose(slot)
			return
		}
		slot.InputLen += n

		res, done, perr := t.parsers[slot.Index].Feed(slot.InputBuf[:slot.InputLen])
		if perr != nil {
			if t.cfg.Observer != nil {
				t.cfg.Observer.ObserveMalformedReq(t.cfg.Index)
			}
			t.forceClose(slot)
			return
		}
		if !done {
			continue
		}

		slot.KeepAlive = res.KeepAlive
		id := reqid.Encode(reqid.Fields{
			IOThread: uint8(t.cfg.Index),
			ConnIdx:  slot.Index,
			Gen:      slot.Generation,
		})
		req := interfaces.Request{ID: id, Method: res.Method, URI: res.URI, Body: res.Body}
		if !t.ring.Enqueue(req) {
			// Ring sized to MaxActiveConnections+1 rounded up; this
			// indicates a sizing invariant violation, not recoverable.
			t.forceClose(slot)
			return
		}
		_ = slot.CompleteMessage(id)
		t.parsers[slot.Index].Reset()
		// Drop epoll interest while the request is in flight: pipelined
		// bytes are not accepted, and a level-triggered EPOLLIN/EPOLLRDHUP
		// left armed would spin the loop until the response arrives.
		_ = epollMod(t.epfd, slot.Fd, 0)
		return
	}
}

func (t *Thread) handleWritable(slot *conn.Slot) {
	if slot.State() != conn.StateWriting {
		return
	}
	for slot.OutputOff < len(slot.OutputBuf) {
		n, err := unix.Write(slot.Fd, slot.OutputBuf[slot.OutputOff:])
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if err == unix.EAGAIN {
				_ = epollMod(t.epfd, slot.Fd, unix.EPOLLOUT|unix.EPOLLRDHUP)
				return
			}
			if err == unix.EPIPE {
				if t.cfg.Observer != nil {
					t.cfg.Observer.ObserveClientReset(t.cfg.Index)
				}
			} else if t.cfg.Observer != nil {
				t.cfg.Observer.ObserveWriteError(t.cfg.Index)
			}
			t.forceClose(slot)
			return
		}
		slot.OutputOff += n
	}

	if t.cfg.Observer != nil {
		t.cfg.Observer.ObserveRequestCompleted(t.cfg.Index)
	}
	slot.Quiescing = t.quiescing
	written := slot.OutputBuf
	_ = slot.FinishWrite()
	if slot.State() == conn.StateIdle {
		t.activeConns--
		t.endSection(slot.Index)
		t.releaseOutputBuffer(written)
		_ = epollMod(t.epfd, slot.Fd, unix.EPOLLIN|unix.EPOLLRDHUP)
	} else {
		t.destroySlot(slot, conn.StateWriting)
	}
}

// endSection closes the read-side section opened when the slot was
// admitted, if one is still open.
func (t *Thread) endSection(idx uint32) {
	if sec := t.sections[idx]; sec != nil && t.rec != nil {
		t.rec.End(sec)
		t.sections[idx] = nil
	}
}

// nextGeneration draws the random 28-bit generation a freshly accepted slot
// is stamped with (xorshift64*, folded down to the generation width). Zero
// is skipped: reqid.Decode treats an expected generation of zero as "don't
// check", which a minted id must never be able to claim.
func (t *Thread) nextGeneration() uint32 {
	for {
		x := t.genState
		x ^= x >> 12
		x ^= x << 25
		x ^= x >> 27
		t.genState = x
		gen := uint32(x*0x2545F4914F6CDD1D>>36) & (1<<28 - 1)
		if gen != 0 {
			return gen
		}
	}
}

// releaseOutputBuffer hands buf back to the configured owner, if any. A nil
// buf (no response was ever attached, or the buffer was already reclaimed)
// is a no-op.
func (t *Thread) releaseOutputBuffer(buf []byte) {
	if buf == nil || t.cfg.ReleaseBuffer == nil {
		return
	}
	t.cfg.ReleaseBuffer(buf)
}

func (t *Thread) drainResponses() {
	for _, r := range t.resp.Drain() {
		f, ok := reqid.Decode(r.RequestID, 1<<8, 0)
		if !ok {
			continue
		}
		idx := f.ConnIdx
		if int(idx) >= len(t.slots) {
			continue
		}
		slot := &t.slots[idx]
		if slot.State() != conn.StateProcessing || slot.RequestID != r.RequestID {
			continue // stale response for a recycled/closed slot; drop silently
		}
		if r.Buf == nil {
			if t.cfg.Observer != nil {
				t.cfg.Observer.ObserveOOMFailure(t.cfg.Index)
			}
			t.forceClose(slot)
			continue
		}
		_ = slot.BeginWriting(r.Buf)
		t.handleWritable(slot)
	}
}

func (t *Thread) scanTimeouts() {
	now := time.Now()
	for i := range t.slots {
		slot := &t.slots[i]
		if slot.Expired(now) {
			if t.cfg.Observer != nil {
				t.cfg.Observer.ObserveRequestTimeout(t.cfg.Index)
			}
			t.forceClose(slot)
		}
	}
}

// nextTimeoutMillis computes the earliest deadline over active
// connections so epoll_wait returns in time to expire it.
func (t *Thread) nextTimeoutMillis() int {
	if t.quiescing {
		return 50
	}
	var earliest time.Time
	now := time.Now()
	for i := range t.slots {
		slot := &t.slots[i]
		if slot.State() != conn.StateReading && slot.State() != conn.StateProcessing {
			continue
		}
		if slot.Deadline.IsZero() {
			continue
		}
		if earliest.IsZero() || slot.Deadline.Before(earliest) {
			earliest = slot.Deadline
		}
	}
	if earliest.IsZero() {
		return -1
	}
	d := earliest.Sub(now)
	if d < 0 {
		return 0
	}
	ms := int(d / time.Millisecond)
	if ms == 0 {
		return 1
	}
	return ms
}

func (t *Thread) forceClose(slot *conn.Slot) {
	prior := slot.State()
	if err := slot.ForceClose(); err != nil {
		return
	}
	t.destroySlot(slot, prior)
}

// destroySlot tears a CLOSING slot all the way down to FREE. prior is the
// state the slot held before CLOSING, which decides whether it was counted
// against the active-connection cap.
func (t *Thread) destroySlot(slot *conn.Slot, prior conn.State) {
	if slot.State() != conn.StateClosing {
		return
	}
	fd := slot.Fd
	_ = unix.EpollCtl(t.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	unix.Close(fd)
	delete(t.fdToSlot, fd)
	t.numConns--
	switch prior {
	case conn.StateReading, conn.StateProcessing, conn.StateWriting:
		t.activeConns--
	}
	if t.cfg.Observer != nil {
		t.cfg.Observer.ObserveConnClosed(t.cfg.Index)
	}
	t.endSection(slot.Index)
	t.releaseOutputBuffer(slot.OutputBuf)
	_ = slot.Release()
	t.pushFreeSlot(slot.Index)
}

func (t *Thread) popFreeSlot() (uint32, bool) {
	if len(t.freeIdx) == 0 {
		return 0, false
	}
	idx := t.freeIdx[len(t.freeIdx)-1]
	t.freeIdx = t.freeIdx[:len(t.freeIdx)-1]
	return idx, true
}

func (t *Thread) pushFreeSlot(idx uint32) {
	t.freeIdx = append(t.freeIdx, idx)
}

// quiesceStep advances per-thread shutdown: close the listener once, close
// idle connections, and report whether the thread has fully drained.
func (t *Thread) quiesceStep() bool {
	if t.listenFd >= 0 {
		_ = unix.EpollCtl(t.epfd, unix.EPOLL_CTL_DEL, t.listenFd, nil)
		unix.Close(t.listenFd)
		t.listenFd = -1
	}

	for i := range t.slots {
		slot := &t.slots[i]
		if slot.State() == conn.StateIdle {
			t.forceClose(slot)
		}
	}
	return t.numConns == 0
}
