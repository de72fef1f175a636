// Package httpcore provides the main API for serving HTTP requests over a
// fixed pool of epoll-driven I/O threads.
package httpcore

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/appnexus/httpcore/internal/arena"
	"github.com/appnexus/httpcore/internal/constants"
	"github.com/appnexus/httpcore/internal/interfaces"
	"github.com/appnexus/httpcore/internal/iothread"
	"github.com/appnexus/httpcore/internal/logging"
	"github.com/appnexus/httpcore/internal/queue"
	"github.com/appnexus/httpcore/internal/reqid"
	"github.com/appnexus/httpcore/internal/rtbr"
)

// Params configures a Server.
type Params struct {
	// Host and Port are the listening address. Every I/O thread binds its
	// own socket to the same host:port with SO_REUSEPORT so the kernel
	// load-balances accepts across threads.
	Host string
	Port int

	// NumThreads is the number of I/O threads to run. Zero defaults to
	// constants.DefaultIOThreads.
	NumThreads int

	// MaxTotalConnections and MaxActiveConnections bound the connection
	// slot table and the admission-controlled active set, per thread.
	MaxTotalConnections  int
	MaxActiveConnections int

	// RequestTimeout bounds how long a connection may sit in READING or
	// PROCESSING before the I/O thread force-closes it. Zero disables the
	// default and leaves connections to SetDeadline overrides only.
	RequestTimeout time.Duration

	// MaxResponseSize bounds any single GetOutputBuffer request, pool path
	// or large-allocation overflow path alike.
	MaxResponseSize int

	// BumpSize is the chunk size of each arena carved for the shared
	// output-buffer pool; allocations larger than BumpSize/2 overflow to
	// the bounded heap path instead.
	BumpSize uintptr

	// PoolSize is the address space carved from the process-wide VMA
	// reservation for the output-buffer pool.
	PoolSize uintptr

	// TotalLargeAllocationLimit bounds the aggregate size of allocations
	// served off the heap overflow path at any one time.
	TotalLargeAllocationLimit uintptr

	// RTBRDelayTicks and RTBRHardPollPeriod tune the reclamation epoch
	// guard band and the throttle on the dead-thread sweep.
	RTBRDelayTicks     uint64
	RTBRHardPollPeriod time.Duration

	// CPUAffinity optionally pins thread i to CPU CPUAffinity[i%len].
	CPUAffinity []int
}

// DefaultParams returns Params filled in with the package defaults,
// listening on the given host:port.
func DefaultParams(host string, port int) Params {
	return Params{
		Host:                      host,
		Port:                      port,
		NumThreads:                constants.DefaultIOThreads,
		MaxTotalConnections:       constants.DefaultMaxTotalConnections,
		MaxActiveConnections:      constants.DefaultMaxActiveConnections,
		RequestTimeout:            constants.DefaultRequestTimeout,
		MaxResponseSize:           constants.DefaultMaxResponseSize,
		BumpSize:                  constants.DefaultBumpSize,
		PoolSize:                  constants.DefaultPoolSize,
		TotalLargeAllocationLimit: constants.DefaultTotalLargeAllocationLimit,
		RTBRDelayTicks:            constants.DefaultRTBRDelayTicks,
		RTBRHardPollPeriod:        constants.DefaultHardPollPeriod,
	}
}

func (p *Params) applyDefaults() {
	if p.NumThreads == 0 {
		p.NumThreads = constants.DefaultIOThreads
	}
	if p.MaxTotalConnections == 0 {
		p.MaxTotalConnections = constants.DefaultMaxTotalConnections
	}
	if p.MaxActiveConnections == 0 {
		p.MaxActiveConnections = constants.DefaultMaxActiveConnections
	}
	if p.MaxResponseSize == 0 {
		p.MaxResponseSize = constants.DefaultMaxResponseSize
	}
	if p.BumpSize == 0 {
		p.BumpSize = constants.DefaultBumpSize
	}
	if p.PoolSize == 0 {
		p.PoolSize = constants.DefaultPoolSize
	}
	if p.TotalLargeAllocationLimit == 0 {
		p.TotalLargeAllocationLimit = constants.DefaultTotalLargeAllocationLimit
	}
	if p.RTBRHardPollPeriod == 0 {
		p.RTBRHardPollPeriod = constants.DefaultHardPollPeriod
	}
}

func (p Params) validate() error {
	if p.Host == "" {
		return NewError("CONFIG", ErrCodeConfig, "Host must not be empty")
	}
	if p.Port < 0 || p.Port > 65535 {
		return NewError("CONFIG", ErrCodeConfig, "Port out of range")
	}
	if p.NumThreads <= 0 || p.NumThreads > constants.MaxIOThreads {
		return NewError("CONFIG", ErrCodeConfig, fmt.Sprintf("NumThreads must be in (0, %d]", constants.MaxIOThreads))
	}
	if p.MaxActiveConnections > p.MaxTotalConnections {
		return NewError("CONFIG", ErrCodeConfig, "MaxActiveConnections must not exceed MaxTotalConnections")
	}
	return nil
}

// Options carries optional collaborators a Server's caller may supply.
type Options struct {
	// Context is the parent context Start uses when it is called with a
	// nil context; cancelling it ends every I/O thread's loop at its next
	// pass, without draining in-flight connections. Defaults to
	// context.Background().
	Context context.Context

	// Logger receives structured diagnostics from every I/O thread.
	// Defaults to logging.Default().
	Logger interfaces.Logger

	// Observer receives per-event metrics callbacks. Defaults to a
	// MetricsObserver backed by the Server's own Metrics.
	Observer interfaces.Observer
}

// State is a Server's coarse lifecycle phase.
type State string

const (
	StateCreated   State = "created"
	StateRunning   State = "running"
	StateQuiescing State = "quiescing"
	StateStopped   State = "stopped"
)

// Server owns a fixed pool of I/O threads, the shared output-buffer arena
// pool they allocate responses from, and the bounded heap overflow path
// for responses too large for the pool. It is the external-collaborator
// boundary's home: Server itself implements interfaces.Worker by routing
// each call to the I/O thread a request id names.
type Server struct {
	params Params

	threads []*iothread.Thread

	outputPool      *arena.Pool
	largeAllocUsed  atomic.Int64
	largeAllocLimit int64
	maxResponseSize int

	workerEventFd int

	metrics  *Metrics
	observer interfaces.Observer
	logger   interfaces.Logger

	rtbrGlobal *rtbr.Global

	defaultCtx context.Context
	ctx        context.Context
	cancel     context.CancelFunc
	eg         *errgroup.Group

	rrCounter atomic.Uint64

	started   atomic.Bool
	quiescing atomic.Bool
}

// NewServer constructs a Server and its I/O threads' listeners, but does
// not start their loops; call Start to begin serving.
func NewServer(params Params, options *Options) (*Server, error) {
	params.applyDefaults()
	if err := params.validate(); err != nil {
		return nil, err
	}
	if options == nil {
		options = &Options{}
	}

	logger := options.Logger
	if logger == nil {
		logger = logging.Default()
	}

	metrics := NewMetrics(params.NumThreads)
	var observer interfaces.Observer = options.Observer
	if observer == nil {
		observer = NewMetricsObserver(metrics)
	}

	global := rtbr.NewGlobal(params.RTBRDelayTicks, params.RTBRHardPollPeriod)

	vma, err := arena.NewReservation(params.PoolSize, constants.DefaultReservationAlign)
	if err != nil {
		return nil, WrapError("NEW_SERVER", err)
	}
	spares := constants.FreelistReserveEntries + int(params.TotalLargeAllocationLimit/params.BumpSize)
	outputPool, err := arena.NewPool(vma, params.BumpSize, true, global, spares)
	if err != nil {
		return nil, WrapError("NEW_SERVER", err)
	}

	workerEventFd, err := newSemaphoreEventFd()
	if err != nil {
		return nil, WrapError("NEW_SERVER", err)
	}

	s := &Server{
		params:          params,
		outputPool:      outputPool,
		largeAllocLimit: int64(params.TotalLargeAllocationLimit),
		maxResponseSize: params.MaxResponseSize,
		metrics:         metrics,
		observer:        observer,
		logger:          logger,
		rtbrGlobal:      global,
		defaultCtx:      options.Context,
	}

	s.threads = make([]*iothread.Thread, params.NumThreads)
	for i := 0; i < params.NumThreads; i++ {
		// Input buffers are single-owner: each thread gets its own private
		// pool over the shared reservation, so the read path never pays
		// the shared pool's CAS traffic.
		inputPool, err := arena.NewPool(vma, params.BumpSize, false, global, 0)
		if err != nil {
			for j := 0; j < i; j++ {
				s.threads[j].Close()
			}
			closeEventFd(workerEventFd)
			return nil, WrapError("NEW_SERVER", fmt.Errorf("iothread %d input pool: %w", i, err))
		}
		th, err := iothread.New(iothread.Config{
			Index:                i,
			Host:                 params.Host,
			Port:                 params.Port,
			MaxTotalConnections:  params.MaxTotalConnections,
			MaxActiveConnections: params.MaxActiveConnections,
			RequestTimeout:       params.RequestTimeout,
			WorkerEventFd:        workerEventFd,
			CPUAffinity:          params.CPUAffinity,
			Logger:               logger,
			Observer:             observer,
			Global:               global,
			InputPool:            inputPool,
			ReleaseBuffer:        s.releaseOutputBuffer,
		})
		if err != nil {
			for j := 0; j < i; j++ {
				s.threads[j].Close()
			}
			closeEventFd(workerEventFd)
			return nil, WrapError("NEW_SERVER", fmt.Errorf("iothread %d: %w", i, err))
		}
		s.threads[i] = th
	}
	s.workerEventFd = workerEventFd

	return s, nil
}

// newSemaphoreEventFd creates the shared eventfd workers block on in
// EFD_SEMAPHORE mode: each blocking read decrements the counter by one and
// returns, so N queued requests wake at most N blocked readers rather
// than every reader racing to drain one large count.
func newSemaphoreEventFd() (int, error) {
	return unix.Eventfd(0, unix.EFD_SEMAPHORE|unix.EFD_CLOEXEC)
}

func readEventFd(fd int, buf []byte) (int, error) {
	return unix.Read(fd, buf)
}

func closeEventFd(fd int) {
	unix.Close(fd)
}

// Start launches every I/O thread's loop under a shared errgroup.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = s.defaultCtx
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	eg, egCtx := errgroup.WithContext(s.ctx)
	for _, th := range s.threads {
		th := th
		eg.Go(func() error {
			th.Run(egCtx)
			return nil
		})
	}
	s.eg = eg
	s.started.Store(true)
	s.logger.Printf("httpcore: server started on %s:%d with %d I/O threads", s.params.Host, s.params.Port, len(s.threads))
	return nil
}

// Serve is a convenience wrapper combining NewServer and Start.
func Serve(ctx context.Context, params Params, options *Options) (*Server, error) {
	s, err := NewServer(params, options)
	if err != nil {
		return nil, err
	}
	if err := s.Start(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// State reports the server's coarse lifecycle phase.
func (s *Server) State() State {
	if s == nil || !s.started.Load() {
		return StateCreated
	}
	if s.quiescing.Load() {
		return StateQuiescing
	}
	if s.ctx != nil {
		select {
		case <-s.ctx.Done():
			return StateStopped
		default:
		}
	}
	return StateRunning
}

// Info summarizes the server's configuration and lifecycle state.
type Info struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	NumThreads int    `json:"num_threads"`
	State      State  `json:"state"`
}

// Info returns a point-in-time summary of the server.
func (s *Server) Info() Info {
	if s == nil {
		return Info{}
	}
	return Info{
		Host:       s.params.Host,
		Port:       s.params.Port,
		NumThreads: len(s.threads),
		State:      s.State(),
	}
}

// ListenFd returns the listening socket of I/O thread i, for callers (tests,
// diagnostics) that need to discover an OS-assigned ephemeral port.
func (s *Server) ListenFd(i int) int {
	return s.threads[i].ListenFd()
}

// Metrics returns the server's metrics aggregator.
func (s *Server) Metrics() *Metrics {
	if s == nil {
		return nil
	}
	return s.metrics
}

// WriteStats renders the `iothread.<i>.<name>_sum: <value>` stats stream,
// clearing rate counters if reset is true.
func (s *Server) WriteStats(w io.Writer, reset bool) error {
	return s.metrics.WriteStats(w, reset)
}

// Quiesce requests every I/O thread stop admitting new connections and
// drain in-flight work, without blocking for drain to complete.
func (s *Server) Quiesce() {
	if s == nil || !s.quiescing.CompareAndSwap(false, true) {
		return
	}
	for _, th := range s.threads {
		th.RequestQuiesce()
	}
}

// Close quiesces the server (if not already quiescing), waits for every
// I/O thread to fully drain, and releases their resources. Errors from
// individual threads failing to drain in time are aggregated and
// returned together rather than stopping at the first one.
func (s *Server) Close() error {
	if s == nil {
		return nil
	}

	var result *multierror.Error
	if s.started.Load() {
		s.Quiesce()
		for _, th := range s.threads {
			select {
			case <-th.Done():
			case <-time.After(shutdownGrace(s.params)):
				result = multierror.Append(result, fmt.Errorf("iothread %d did not quiesce within grace period", th.Index()))
			}
		}
	}

	if s.cancel != nil {
		s.cancel()
	}
	if s.eg != nil {
		if err := s.eg.Wait(); err != nil {
			result = multierror.Append(result, err)
		}
	}

	for _, th := range s.threads {
		th.Close()
	}
	if s.workerEventFd > 0 {
		closeEventFd(s.workerEventFd)
	}

	return result.ErrorOrNil()
}

func shutdownGrace(p Params) time.Duration {
	if p.RequestTimeout > 0 {
		return p.RequestTimeout + time.Second
	}
	return 5 * time.Second
}

// TryRead implements interfaces.Worker: it steals from each I/O thread's
// ring in round-robin starting order, so no single thread is starved of
// worker attention under sustained load from many workers.
func (s *Server) TryRead() (interfaces.Request, bool) {
	n := len(s.threads)
	start := int(s.rrCounter.Add(1)) % n
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		if req, ok := s.threads[idx].TryRead(); ok {
			return req, true
		}
	}
	return interfaces.Request{}, false
}

// Read implements interfaces.Worker: it spins on TryRead, blocking on the
// shared worker eventfd (semaphore mode, so each blocked reader wakes
// exactly once per queued request) between attempts.
func (s *Server) Read() interfaces.Request {
	for {
		if req, ok := s.TryRead(); ok {
			return req
		}
		var buf [8]byte
		_, _ = readEventFd(s.workerEventFd, buf[:])
	}
}

// Write implements interfaces.Worker: it decodes requestID's I/O-thread
// field and posts the response to that thread's response stack. An id
// that fails to decode (corrupted or fabricated) is dropped silently; a
// tampered id must never crash the server.
func (s *Server) Write(requestID uint64, buf []byte) error {
	f, ok := reqid.Decode(requestID, len(s.threads), 0)
	if !ok {
		return nil
	}
	s.threads[f.IOThread].PostResponse(iothread.Response{RequestID: requestID, Buf: buf})
	return nil
}

// GetOutputBuffer implements interfaces.Worker: requests at or under half
// the pool's arena chunk size are served from the shared lock-free arena
// pool; larger requests (up to MaxResponseSize) overflow to a bounded heap
// path tracked by an atomic counter capped at TotalLargeAllocationLimit.
// Anything over MaxResponseSize, or that would exceed either cap, returns
// nil.
func (s *Server) GetOutputBuffer(requestID uint64, size int) []byte {
	if size <= 0 || size > s.maxResponseSize {
		return nil
	}
	f, ok := reqid.Decode(requestID, len(s.threads), 0)
	if !ok {
		return nil
	}

	if uintptr(size) <= s.outputPool.BumpSize()/2 {
		addr, _, err := s.outputPool.Alloc(uintptr(size), 8)
		if err != nil {
			s.observer.ObserveOOMFailure(int(f.IOThread))
			return nil
		}
		return s.outputPool.Bytes(addr, uintptr(size))
	}

	for {
		cur := s.largeAllocUsed.Load()
		next := cur + int64(size)
		if next > s.largeAllocLimit {
			s.observer.ObserveOOMFailure(int(f.IOThread))
			return nil
		}
		if s.largeAllocUsed.CompareAndSwap(cur, next) {
			if size <= queue.MaxPooledSize {
				return queue.GetBuffer(uint32(size))
			}
			return make([]byte, size)
		}
	}
}

// releaseOutputBuffer credits size back to the large-allocation budget and,
// for anything small enough to have come from a bucket, returns it to the
// pool. Pool-path buffers (at or under half the arena chunk size) are left
// alone: their memory is reclaimed by the arena's own generation swap, not
// by this accounting.
func (s *Server) releaseOutputBuffer(buf []byte) {
	if uintptr(len(buf)) <= s.outputPool.BumpSize()/2 {
		return
	}
	s.largeAllocUsed.Add(-int64(len(buf)))
	queue.PutBuffer(buf)
}

// SetDeadline implements interfaces.Worker, routing to the owning I/O
// thread's cross-goroutine deadline override.
func (s *Server) SetDeadline(requestID uint64, d time.Duration) bool {
	f, ok := reqid.Decode(requestID, len(s.threads), 0)
	if !ok {
		return false
	}
	return s.threads[f.IOThread].SetDeadline(f.ConnIdx, f.Gen, d)
}

// GetTCPInfo implements interfaces.Worker, routing to the owning I/O
// thread's socket.
func (s *Server) GetTCPInfo(requestID uint64) (interfaces.TCPInfo, bool) {
	f, ok := reqid.Decode(requestID, len(s.threads), 0)
	if !ok {
		return interfaces.TCPInfo{}, false
	}
	rtt, rttvar, state, ok := s.threads[f.IOThread].TCPInfo(f.ConnIdx, f.Gen)
	if !ok {
		return interfaces.TCPInfo{}, false
	}
	return interfaces.TCPInfo{RTTMicros: rtt, RTTVarMicros: rttvar, State: state}, true
}

var _ interfaces.Worker = (*Server)(nil)
