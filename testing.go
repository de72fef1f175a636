package httpcore

import (
	"sync"
	"time"

	"github.com/appnexus/httpcore/internal/interfaces"
)

// MockWorker is a test double for interfaces.Worker. It queues requests
// handed to it by test code and records every response/deadline/tcp-info
// call for later assertion.
type MockWorker struct {
	mu sync.Mutex

	pending []interfaces.Request
	cond    *sync.Cond

	responses  []mockResponse
	deadlines  map[uint64]time.Duration
	tcpInfo    map[uint64]interfaces.TCPInfo
	nextBuf    func(requestID uint64, size int) []byte

	tryReadCalls int
	readCalls    int
	writeCalls   int
}

type mockResponse struct {
	RequestID uint64
	Buf       []byte
}

// NewMockWorker creates an empty MockWorker.
func NewMockWorker() *MockWorker {
	w := &MockWorker{
		deadlines: make(map[uint64]time.Duration),
		tcpInfo:   make(map[uint64]interfaces.TCPInfo),
	}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// Enqueue makes req available to the next TryRead/Read call.
func (w *MockWorker) Enqueue(req interfaces.Request) {
	w.mu.Lock()
	w.pending = append(w.pending, req)
	w.mu.Unlock()
	w.cond.Broadcast()
}

// SetTCPInfo seeds the value GetTCPInfo returns for requestID.
func (w *MockWorker) SetTCPInfo(requestID uint64, info interfaces.TCPInfo) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tcpInfo[requestID] = info
}

// SetOutputBufferFunc overrides GetOutputBuffer's allocation strategy;
// useful for simulating allocation failure by returning nil.
func (w *MockWorker) SetOutputBufferFunc(f func(requestID uint64, size int) []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextBuf = f
}

// TryRead implements interfaces.Worker.
func (w *MockWorker) TryRead() (interfaces.Request, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tryReadCalls++
	if len(w.pending) == 0 {
		return interfaces.Request{}, false
	}
	req := w.pending[0]
	w.pending = w.pending[1:]
	return req, true
}

// Read implements interfaces.Worker, blocking until a request is queued.
func (w *MockWorker) Read() interfaces.Request {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.readCalls++
	for len(w.pending) == 0 {
		w.cond.Wait()
	}
	req := w.pending[0]
	w.pending = w.pending[1:]
	return req
}

// Write implements interfaces.Worker.
func (w *MockWorker) Write(requestID uint64, buf []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writeCalls++
	w.responses = append(w.responses, mockResponse{RequestID: requestID, Buf: buf})
	return nil
}

// GetOutputBuffer implements interfaces.Worker.
func (w *MockWorker) GetOutputBuffer(requestID uint64, size int) []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.nextBuf != nil {
		return w.nextBuf(requestID, size)
	}
	return make([]byte, size)
}

// SetDeadline implements interfaces.Worker.
func (w *MockWorker) SetDeadline(requestID uint64, d time.Duration) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.deadlines[requestID] = d
	return true
}

// GetTCPInfo implements interfaces.Worker.
func (w *MockWorker) GetTCPInfo(requestID uint64) (interfaces.TCPInfo, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	info, ok := w.tcpInfo[requestID]
	return info, ok
}

// Responses returns a copy of every response recorded so far.
func (w *MockWorker) Responses() []mockResponse {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]mockResponse, len(w.responses))
	copy(out, w.responses)
	return out
}

// CallCounts reports how many times each Worker method has been invoked.
func (w *MockWorker) CallCounts() map[string]int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return map[string]int{
		"try_read": w.tryReadCalls,
		"read":     w.readCalls,
		"write":    w.writeCalls,
	}
}

var _ interfaces.Worker = (*MockWorker)(nil)
