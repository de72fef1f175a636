// Package conn implements the connection slot state machine:
// FREE -> IDLE -> READING -> PROCESSING -> {WRITING, CLOSING} -> ... -> FREE.
// A Slot is owned exclusively by one I/O thread for its entire lifetime;
// workers never mutate a Slot directly, only produce a response addressed
// by the slot's encoded request id (see internal/reqid).
package conn

import (
	"errors"
	"time"
)

// State is one position in the connection state machine.
type State uint8

const (
	StateFree State = iota
	StateIdle
	StateReading
	StateProcessing
	StateWriting
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateFree:
		return "FREE"
	case StateIdle:
		return "IDLE"
	case StateReading:
		return "READING"
	case StateProcessing:
		return "PROCESSING"
	case StateWriting:
		return "WRITING"
	case StateClosing:
		return "CLOSING"
	default:
		return "UNKNOWN"
	}
}

// ErrIllegalTransition is returned by a Slot method called from a state it
// doesn't support. This is a protocol break: the caller is expected to
// treat it as a programmer error, not a recoverable condition.
var ErrIllegalTransition = errors.New("conn: illegal state transition")

// Slot is one pre-allocated connection entry, identified by
// (IOThread, Index, Generation). The zero value is a released (FREE) slot
// ready for Accept.
type Slot struct {
	IOThread   int
	Index      uint32
	Generation uint32

	Fd           int
	state        State
	RemoteClosed bool
	KeepAlive    bool
	Quiescing    bool // the owning thread's quiesce flag, sampled at FinishWrite

	Deadline            time.Time
	HasDeadlineOverride bool

	RequestID uint64

	InputBuf []byte
	InputLen int

	OutputBuf []byte
	OutputOff int

	// Next/Prev are intrusive list links reserved for the owning thread;
	// internal/iothread leaves them unset and tracks slots through its slot
	// table and free-index stack instead.
	Next, Prev *Slot
}

// State returns the slot's current state.
func (s *Slot) State() State { return s.state }

// Accept transitions FREE → IDLE: a socket was just accepted into this
// slot. Resets per-connection bookkeeping but preserves Fd/Generation,
// which the caller sets before or via the arguments here.
func (s *Slot) Accept(fd int, generation uint32) error {
	if s.state != StateFree {
		return ErrIllegalTransition
	}
	s.Fd = fd
	s.Generation = generation
	s.state = StateIdle
	s.RemoteClosed = false
	s.Quiescing = false
	s.KeepAlive = true
	s.InputLen = 0
	s.OutputBuf = nil
	s.OutputOff = 0
	s.RequestID = 0
	s.HasDeadlineOverride = false
	return nil
}

// BeginReading transitions IDLE → READING, performed by the caller only
// after admission control (active-conn cap) has passed.
func (s *Slot) BeginReading() error {
	if s.state != StateIdle {
		return ErrIllegalTransition
	}
	s.state = StateReading
	return nil
}

// CompleteMessage transitions READING → PROCESSING once the parser
// reports a full message and the core has minted requestID.
func (s *Slot) CompleteMessage(requestID uint64) error {
	if s.state != StateReading {
		return ErrIllegalTransition
	}
	s.state = StateProcessing
	s.RequestID = requestID
	return nil
}

// BeginWriting transitions PROCESSING → WRITING once a response
// descriptor arrives from a worker.
func (s *Slot) BeginWriting(buf []byte) error {
	if s.state != StateProcessing {
		return ErrIllegalTransition
	}
	s.state = StateWriting
	s.OutputBuf = buf
	s.OutputOff = 0
	return nil
}

// ForceClose transitions any non-FREE state to CLOSING: used for
// admission refusal, timeouts, parser errors, and peer resets.
func (s *Slot) ForceClose() error {
	if s.state == StateFree {
		return ErrIllegalTransition
	}
	s.state = StateClosing
	return nil
}

// FinishWrite transitions WRITING -> IDLE (recycle) or WRITING -> CLOSING:
// a slot recycles only when keepalive is on, the peer hasn't closed its
// half, and the owning thread isn't quiescing.
func (s *Slot) FinishWrite() error {
	if s.state != StateWriting {
		return ErrIllegalTransition
	}
	if s.KeepAlive && !s.RemoteClosed && !s.Quiescing {
		s.state = StateIdle
		// The input buffer is arena-backed and per-request: dropping the
		// handle here (rather than reusing it) lets the arena generation
		// it came from retire; the next request carves a fresh one.
		s.InputBuf = nil
		s.InputLen = 0
		s.OutputBuf = nil
		s.OutputOff = 0
		s.RequestID = 0
		s.HasDeadlineOverride = false
	} else {
		s.state = StateClosing
	}
	return nil
}

// Release transitions CLOSING → FREE once in-flight work has drained and
// the fd has been closed by the caller.
func (s *Slot) Release() error {
	if s.state != StateClosing {
		return ErrIllegalTransition
	}
	s.state = StateFree
	s.Fd = -1
	s.InputBuf = nil
	s.InputLen = 0
	s.OutputBuf = nil
	s.OutputOff = 0
	s.RequestID = 0
	s.HasDeadlineOverride = false
	return nil
}

// Expired reports whether the slot has an active deadline that now has
// passed. Only READING and PROCESSING are subject to the request timeout;
// WRITING is not timed out once a response has started draining.
func (s *Slot) Expired(now time.Time) bool {
	if s.state != StateReading && s.state != StateProcessing {
		return false
	}
	return !s.Deadline.IsZero() && now.After(s.Deadline)
}

// SetDeadline applies an explicit deadline override, picked up on the next
// I/O-thread timeout scan.
func (s *Slot) SetDeadline(d time.Duration, now time.Time) {
	s.Deadline = now.Add(d)
	s.HasDeadlineOverride = true
}
