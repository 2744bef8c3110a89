package server

import (
	"errors"

	"github.com/hexium/at28prog/internal/frame"
)

// Status is the process-wide error latch. It holds the most recent
// unhandled condition and is consumed and cleared once per main-loop
// iteration.
type Status int

const (
	StatusOK Status = iota
	StatusReset
	StatusCorrupt
	StatusUnexpected
	StatusUnknown
)

// String returns a human-readable description of the status.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusReset:
		return "reset requested"
	case StatusCorrupt:
		return "inbound frame corrupt"
	case StatusUnexpected:
		return "unexpected frame"
	case StatusUnknown:
		return "unknown error"
	default:
		return "invalid status"
	}
}

// statusOf maps a transport or bus error to the latch value it should
// leave behind.
func statusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, frame.ErrReset):
		return StatusReset
	case errors.Is(err, frame.ErrCorrupt):
		return StatusCorrupt
	case errors.Is(err, frame.ErrUnexpected):
		return StatusUnexpected
	default:
		return StatusUnknown
	}
}
