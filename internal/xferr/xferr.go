// Package xferr defines the sentinel error kinds shared across the
// transfer engines, transport wrappers, and the client/server state
// machines.
package xferr

import "github.com/pkg/errors"

// Frame-level errors, raised while decoding or validating a single packet.
var (
	ErrMalformedFrame        = errors.New("malformed frame")
	ErrInvalidSequenceNumber = errors.New("invalid sequence number")
	ErrInvalidAckNumber      = errors.New("invalid ack number")
	ErrNotAck                = errors.New("message is not an ack")
	ErrNotFin                = errors.New("message is not a fin")
	ErrUnexpectedFin         = errors.New("unexpected fin message")
	ErrInvalidOperation      = errors.New("invalid operation code")
)

// Session-level errors, raised while establishing or running a session.
var (
	ErrConnectionRefused    = errors.New("connection refused")
	ErrConnectionLost       = errors.New("connection lost")
	ErrProtocolMismatch     = errors.New("protocol mismatch")
	ErrRetransmissionNeeded = errors.New("retransmission needed")
)

// Resource-level errors, raised by the file-store facade or its callers.
var (
	ErrFileAlreadyExists = errors.New("file already exists")
	ErrFileTooBig        = errors.New("file too big")
	ErrFileDoesNotExist  = errors.New("file does not exist")
	ErrInvalidDirectory  = errors.New("invalid directory")
)

// Lifecycle errors, observed when a goroutine's own socket is torn down.
var (
	ErrSocketShutdown = errors.New("socket shutdown")
)

// ConnectionClosingNeeded signals that the caller should abandon the
// current operation and run the graceful close sequence instead of
// propagating further. Cause is the error that made the step fail:
// usually one of the sentinels above, otherwise a filename-resolution
// or file-open error.
type ConnectionClosingNeeded struct {
	Cause error
}

func (e *ConnectionClosingNeeded) Error() string {
	return "connection closing needed: " + e.Cause.Error()
}

func (e *ConnectionClosingNeeded) Unwrap() error {
	return e.Cause
}

// NeedsClosing wraps cause in a ConnectionClosingNeeded, unless it already is one.
func NeedsClosing(cause error) *ConnectionClosingNeeded {
	var existing *ConnectionClosingNeeded
	if errors.As(cause, &existing) {
		return existing
	}
	return &ConnectionClosingNeeded{Cause: cause}
}
