// Package constants holds the tunable defaults for the httpcore substrate.
package constants

import "time"

// Core sizing defaults.
const (
	// DefaultBumpSize is the arena chunk size handed out by the shared pool.
	DefaultBumpSize = 16 << 20 // 16 MiB

	// DefaultPoolSize is the per-pool reservation carved from the VMA.
	DefaultPoolSize = 4 << 30 // 4 GiB

	// DefaultReservationSize is the one-time process-wide VMA reservation.
	DefaultReservationSize = 1 << 40 // 1 TiB

	// DefaultReservationAlign is the alignment of the reserved VMA.
	DefaultReservationAlign = 1 << 30 // 1 GiB

	// DefaultTotalLargeAllocationLimit bounds the off-pool heap path used
	// for responses larger than BUMP_SIZE/2.
	DefaultTotalLargeAllocationLimit = 256 << 20 // 256 MiB

	// DefaultMaxResponseSize bounds any single response body.
	DefaultMaxResponseSize = 64 << 20 // 64 MiB

	// DefaultMaxTotalConnections is the fixed connection-slot table size.
	DefaultMaxTotalConnections = 65536

	// DefaultMaxActiveConnections caps connections past admission control.
	DefaultMaxActiveConnections = 32768

	// MaxIOThreads is the implementation-chosen hard cap on I/O threads.
	MaxIOThreads = 255

	// DefaultIOThreads is used when NumThreads is left at zero.
	DefaultIOThreads = 4

	// InitialEventBatch is the initial epoll_wait event array size; it
	// doubles (amortized growth) whenever a wait saturates it.
	InitialEventBatch = 128

	// InitialInputBufSize is the first input-buffer carve for a connection
	// entering READING; it doubles (fresh carve + copy) whenever a request
	// outgrows it, up to the input arena's size class.
	InitialInputBufSize = 4 << 10

	// SlotGenerationBits is the width of the per-connection generation
	// counter packed into a request id.
	SlotGenerationBits = 28

	// ConnIndexBits is the width of the connection-slot index packed into
	// a request id.
	ConnIndexBits = 28

	// IOThreadIndexBits is the width of the I/O-thread index packed into a
	// request id.
	IOThreadIndexBits = 8
)

// RTBR tunables.
const (
	// DefaultRTBRDelayTicks is the epoch guard-band (§4.E poll_easy).
	DefaultRTBRDelayTicks = 1 << 20

	// DefaultHardPollPeriod throttles an_rtbr_poll_hard.
	DefaultHardPollPeriod = 10 * time.Millisecond

	// InitialRecordSlices is the RTBR global record table's starting
	// slice count (geometric doubling thereafter).
	InitialRecordSlices = 8
)

// Timeouts.
const (
	// DefaultRequestTimeout is the RequestTimeout DefaultParams starts from,
	// and the value config.Load fills in when request_timeout_ms is zero.
	DefaultRequestTimeout = 30 * time.Second

	// QuiesceDrainPollInterval is a drain-polling interval; Server.Close
	// waits on each thread's Done channel and does not use it.
	QuiesceDrainPollInterval = 5 * time.Millisecond
)

// Freelist sizing.
const (
	// FreelistReserveEntries is the constant "2" in a freelist's
	// `capacity = 2 + allocation_limit/bump_size` sizing.
	FreelistReserveEntries = 2
)
