// Package interfaces provides internal interface definitions for httpcore.
// These are separate from the public package to avoid circular imports
// between the façade and the internal packages it wires together.
package interfaces

import "time"

// Request is the worker-visible view of an admitted HTTP request: a
// request id plus the slices the parser carved out of the connection's
// input buffer. Buffers remain valid only until the worker calls Write or
// the request's deadline expires.
type Request struct {
	ID     uint64
	Method string
	URI    []byte
	Body   []byte
}

// TCPInfo mirrors the subset of Linux's struct tcp_info that get_tcp_info
// exposes to a worker.
type TCPInfo struct {
	RTTMicros    uint32
	RTTVarMicros uint32
	State        uint8
}

// Worker is the external-collaborator boundary: whatever drives request
// processing consumes admitted requests and produces responses through
// exactly these calls.
type Worker interface {
	// TryRead returns the next admitted request without blocking, or
	// ok=false if none is currently available.
	TryRead() (req Request, ok bool)

	// Read blocks until TryRead would succeed.
	Read() Request

	// Write delivers a response for requestID. A nil buf signals a
	// worker-side allocation failure; the core treats this as an OOM on
	// the output side and closes the connection.
	Write(requestID uint64, buf []byte) error

	// GetOutputBuffer hands out a size-byte buffer from the arena pool for
	// the worker to fill in place, or nil if none could be allocated.
	GetOutputBuffer(requestID uint64, size int) []byte

	// SetDeadline overrides a request's deadline; ok is false if
	// requestID does not decode to a live slot.
	SetDeadline(requestID uint64, d time.Duration) (ok bool)

	// GetTCPInfo reports the underlying socket's TCP state; ok is false
	// if requestID does not decode to a live slot.
	GetTCPInfo(requestID uint64) (info TCPInfo, ok bool)
}

// Logger is the narrow logging surface internal packages depend on,
// letting them take internal/logging.Logger without importing it directly.
type Logger interface {
	Printf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// Observer is the narrow metrics-observation surface internal packages
// depend on; httpcore.MetricsObserver satisfies it.
type Observer interface {
	ObserveConnAccepted(iothread int)
	ObserveConnClosed(iothread int)
	ObserveReadError(iothread int)
	ObserveRequestTimeout(iothread int)
	ObserveWriteError(iothread int)
	ObserveClientReset(iothread int)
	ObserveRefusedConn(iothread int)
	ObserveRefusedActiveConn(iothread int)
	ObserveMalformedReq(iothread int)
	ObserveOOMFailure(iothread int)
	ObserveRequestCompleted(iothread int)
}
