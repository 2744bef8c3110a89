// Package frame implements the length-prefixed, acknowledgement-based
// message layer the programmer speaks over its serial link.
//
// A frame is a single length octet followed by that many payload bytes.
// A zero-length frame is an acknowledgement; acks are the protocol's only
// flow-control mechanism. The fixed payload cap keeps every frame within
// one small buffer on the controller side.
package frame

import (
	"errors"
	"fmt"
	"io"
)

// MaxPayload is the largest payload a single frame may carry.
const MaxPayload = 63

// Command opcodes. Each opcode is the first payload byte of a command
// frame; the remaining bytes are its big-endian arguments.
const (
	OpRead  byte = 'r' // opcode + 16-bit address -> 1-byte reply
	OpWrite byte = 'w' // opcode + 16-bit address + value -> empty reply
	OpDump  byte = 'd' // opcode only -> ack'd stream of chunks
	OpLoad  byte = 'l' // opcode + 16-bit length -> ack, then ack'd chunks
)

// Reset is the sentinel byte of a reset frame. A 1-byte frame carrying it
// aborts the peer's in-flight ack-wait; at idle it is silently ignored.
const Reset byte = 'r'

var (
	// ErrCorrupt indicates an inbound frame whose declared length could
	// not be satisfied from the stream, or exceeded the receive buffer.
	ErrCorrupt = errors.New("corrupt frame")

	// ErrReset indicates the peer answered an ack-wait with a reset frame.
	ErrReset = errors.New("reset requested by peer")

	// ErrUnexpected indicates a reply that was neither an ack nor a reset.
	ErrUnexpected = errors.New("unexpected frame")
)

// Transport frames and unframes messages over a raw byte stream. It is
// not safe for concurrent use; the protocol allows exactly one exchange
// in flight at a time.
type Transport struct {
	rw io.ReadWriter
}

// New returns a Transport speaking the framed protocol over rw.
func New(rw io.ReadWriter) *Transport {
	return &Transport{rw: rw}
}

// Receive blocks until the next frame arrives and copies its payload into
// buf, returning the payload length (0 for an ack frame). If sendAck is
// set the frame is immediately acknowledged with a zero-length frame.
//
// Errors reading the length octet are returned untouched so callers can
// tell an idle timeout or closed stream from a broken frame. A declared
// length that exceeds buf drains the whole payload off the stream and
// leaves buf untouched; that and a payload cut short before the
// stream's read deadline yield an error wrapping ErrCorrupt.
func (t *Transport) Receive(buf []byte, sendAck bool) (int, error) {
	var hdr [1]byte
	if _, err := io.ReadFull(t.rw, hdr[:]); err != nil {
		return 0, err
	}

	n := int(hdr[0])
	if n > len(buf) {
		// Drain the declared payload so the stream is not left mid-frame.
		io.CopyN(io.Discard, t.rw, int64(n))
		return 0, fmt.Errorf("declared length %d exceeds buffer %d: %w", n, len(buf), ErrCorrupt)
	}
	if n > 0 {
		if _, err := io.ReadFull(t.rw, buf[:n]); err != nil {
			return 0, fmt.Errorf("frame truncated: %w", ErrCorrupt)
		}
	}

	if sendAck {
		if err := t.Send(nil, false); err != nil {
			return 0, err
		}
	}
	return n, nil
}

// Send writes payload as a single frame. With waitForAck set it then
// blocks for the peer's reply: an empty frame is success, a 1-byte reset
// frame yields ErrReset and anything else ErrUnexpected.
func (t *Transport) Send(payload []byte, waitForAck bool) error {
	if len(payload) > MaxPayload {
		return fmt.Errorf("payload of %d bytes exceeds frame limit of %d", len(payload), MaxPayload)
	}

	// Header and payload go out in one write so a slow scheduler cannot
	// split the frame on the wire.
	msg := make([]byte, 1+len(payload))
	msg[0] = byte(len(payload))
	copy(msg[1:], payload)
	if _, err := t.rw.Write(msg); err != nil {
		return err
	}

	if waitForAck {
		var reply [MaxPayload]byte
		n, err := t.Receive(reply[:], false)
		if err != nil {
			return err
		}
		switch {
		case n == 0:
			return nil
		case n == 1 && reply[0] == Reset:
			return ErrReset
		default:
			return fmt.Errorf("wanted ack, got %d-byte frame: %w", n, ErrUnexpected)
		}
	}
	return nil
}
