package httpcore

import (
	"errors"
	"fmt"
	"syscall"
)

// Error represents a structured httpcore error with context and errno mapping.
type Error struct {
	Op       string        // Operation that failed (e.g., "READ", "WRITE", "ADMIT")
	ConnID   uint64        // Connection slot id (0 if not applicable)
	IOThread int           // I/O thread index (-1 if not applicable)
	Code     ErrorCode     // High-level error category
	Errno    syscall.Errno // Kernel errno (0 if not applicable)
	Msg      string        // Human-readable message
	Inner    error         // Wrapped error
}

func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}

	if e.ConnID != 0 {
		parts = append(parts, fmt.Sprintf("conn=%d", e.ConnID))
	}

	if e.IOThread >= 0 {
		parts = append(parts, fmt.Sprintf("iothread=%d", e.IOThread))
	}

	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("httpcore: %s (%s)", msg, parts[0])
	}

	return fmt.Sprintf("httpcore: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is provides errors.Is support for code-level comparison.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}

	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}

	return false
}

// ErrorCode represents the high-level error taxonomy.
type ErrorCode string

const (
	// ErrCodeTransient covers short-lived, retryable I/O failures
	// (EAGAIN/EINTR-class conditions the caller should simply retry).
	ErrCodeTransient ErrorCode = "transient"

	// ErrCodePeerReset means the remote end reset or closed the connection
	// mid-request (ECONNRESET, EPIPE, or a zero-length read on a live fd).
	ErrCodePeerReset ErrorCode = "peer reset"

	// ErrCodeAdmissionRefused means a new connection was rejected because
	// MAX_ACTIVE_CONNECTIONS or MAX_TOTAL_CONNECTIONS was already reached.
	ErrCodeAdmissionRefused ErrorCode = "admission refused"

	// ErrCodeTimeout means a connection exceeded its per-request deadline
	// and was force-closed by the timeout scanner.
	ErrCodeTimeout ErrorCode = "timeout"

	// ErrCodeMalformed means the byte stream failed HTTP/1.x parsing.
	ErrCodeMalformed ErrorCode = "malformed request"

	// ErrCodeOOM means an arena/pool allocation failed after exhausting
	// the freelist and the bounded large-allocation overflow path.
	ErrCodeOOM ErrorCode = "out of memory"

	// ErrCodeProtocolBreak covers internal invariant violations: a
	// connection slot found in an unexpected state, a double free, a
	// generation mismatch on a decoded request id.
	ErrCodeProtocolBreak ErrorCode = "protocol break"

	// ErrCodeConfig means a Tunables value failed validation at startup.
	ErrCodeConfig ErrorCode = "invalid configuration"
)

// Error constructors.

// NewError creates a new structured error.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{
		Op:       op,
		IOThread: -1,
		Code:     code,
		Msg:      msg,
	}
}

// NewErrorWithErrno creates a new structured error carrying a raw errno.
func NewErrorWithErrno(op string, code ErrorCode, errno syscall.Errno) *Error {
	return &Error{
		Op:       op,
		IOThread: -1,
		Code:     code,
		Errno:    errno,
		Msg:      errno.Error(),
	}
}

// NewConnError creates a new connection-scoped error.
func NewConnError(op string, connID uint64, code ErrorCode, msg string) *Error {
	return &Error{
		Op:       op,
		ConnID:   connID,
		IOThread: -1,
		Code:     code,
		Msg:      msg,
	}
}

// NewIOThreadError creates a new I/O-thread-scoped error.
func NewIOThreadError(op string, connID uint64, iothread int, code ErrorCode, msg string) *Error {
	return &Error{
		Op:       op,
		ConnID:   connID,
		IOThread: iothread,
		Code:     code,
		Msg:      msg,
	}
}

// WrapError wraps an existing error with httpcore context.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	if he, ok := inner.(*Error); ok {
		return &Error{
			Op:       op,
			ConnID:   he.ConnID,
			IOThread: he.IOThread,
			Code:     he.Code,
			Errno:    he.Errno,
			Msg:      he.Msg,
			Inner:    he.Inner,
		}
	}

	code := ErrCodeTransient
	if errno, ok := inner.(syscall.Errno); ok {
		code = mapErrnoToCode(errno)
		return &Error{
			Op:       op,
			IOThread: -1,
			Code:     code,
			Errno:    errno,
			Msg:      errno.Error(),
			Inner:    inner,
		}
	}

	return &Error{
		Op:       op,
		IOThread: -1,
		Code:     code,
		Msg:      inner.Error(),
		Inner:    inner,
	}
}

// mapErrnoToCode maps a raw syscall errno to an httpcore error code.
func mapErrnoToCode(errno syscall.Errno) ErrorCode {
	switch errno {
	case syscall.ECONNRESET, syscall.EPIPE:
		return ErrCodePeerReset
	case syscall.EAGAIN, syscall.EINTR:
		return ErrCodeTransient
	case syscall.ETIMEDOUT:
		return ErrCodeTimeout
	case syscall.ENOMEM, syscall.ENOSPC:
		return ErrCodeOOM
	case syscall.EINVAL, syscall.E2BIG:
		return ErrCodeMalformed
	default:
		return ErrCodeTransient
	}
}

// IsCode reports whether err carries the given error code.
func IsCode(err error, code ErrorCode) bool {
	var he *Error
	if errors.As(err, &he) {
		return he.Code == code
	}
	return false
}

// IsErrno reports whether err carries the given raw errno.
func IsErrno(err error, errno syscall.Errno) bool {
	var he *Error
	if errors.As(err, &he) {
		return he.Errno == errno
	}
	return false
}
