// Package client is the host-side counterpart of the programmer's framed
// protocol: single-byte reads and writes, full-device dumps and image
// loads, all flow-controlled by per-chunk acknowledgements.
package client

import (
	"fmt"
	"io"

	"github.com/hexium/at28prog/internal/bus"
	"github.com/hexium/at28prog/internal/frame"
)

// Progress is called after each transferred chunk with the running byte
// count. Implementations should return quickly; the transfer blocks
// while it runs.
type Progress func(transferred int)

// Client issues commands to the programmer over a raw byte stream.
type Client struct {
	t *frame.Transport
}

// New returns a Client speaking the framed protocol over rw.
func New(rw io.ReadWriter) *Client {
	return &Client{t: frame.New(rw)}
}

// ReadByte returns the byte stored at addr.
func (c *Client) ReadByte(addr uint16) (byte, error) {
	msg := []byte{frame.OpRead, byte(addr >> 8), byte(addr)}
	if err := c.t.Send(msg, false); err != nil {
		return 0, err
	}

	var reply [frame.MaxPayload]byte
	n, err := c.t.Receive(reply[:], false)
	if err != nil {
		return 0, err
	}
	if n != 1 {
		return 0, fmt.Errorf("read reply carried %d bytes, want 1", n)
	}
	return reply[0], nil
}

// WriteByte programs val at addr. The programmer's empty completion
// frame doubles as the acknowledgement.
func (c *Client) WriteByte(addr uint16, val byte) error {
	msg := []byte{frame.OpWrite, byte(addr >> 8), byte(addr), val}
	return c.t.Send(msg, true)
}

// Dump reads size bytes of device contents into w, acknowledging each
// chunk. For a partial dump the programmer is still streaming the full
// device when size is reached; the chunk already in flight is drained
// and the programmer's ack-wait answered with a reset frame so the link
// is left clean.
func (c *Client) Dump(w io.Writer, size int, progress Progress) error {
	if size <= 0 || size > bus.DeviceSize {
		return fmt.Errorf("dump size %d outside device range 1-%d", size, bus.DeviceSize)
	}
	if err := c.t.Send([]byte{frame.OpDump}, false); err != nil {
		return err
	}

	var chunk [frame.MaxPayload]byte
	cnt := 0
	for cnt < size {
		n, err := c.t.Receive(chunk[:], true)
		if err != nil {
			return err
		}
		keep := chunk[:n]
		if cnt+n > size {
			keep = keep[:size-cnt]
		}
		if _, err := w.Write(keep); err != nil {
			return err
		}
		cnt += len(keep)
		if progress != nil {
			progress(cnt)
		}
	}

	if size < bus.DeviceSize {
		// The programmer is already blocked sending its next chunk.
		// Take it first; only then is it waiting for an ack the reset
		// can answer.
		if _, err := c.t.Receive(chunk[:], false); err != nil {
			return err
		}
		if err := c.Reset(); err != nil {
			return err
		}
	}
	return nil
}

// Load streams size bytes from r onto the device, starting at address
// zero, waiting for the programmer's acknowledgement of every chunk.
func (c *Client) Load(r io.Reader, size int, progress Progress) error {
	if size <= 0 || size > bus.DeviceSize {
		return fmt.Errorf("load size %d outside device range 1-%d", size, bus.DeviceSize)
	}

	cmd := []byte{frame.OpLoad, byte(size >> 8), byte(size)}
	if err := c.t.Send(cmd, true); err != nil {
		return err
	}

	var chunk [frame.MaxPayload]byte
	sent := 0
	for sent < size {
		n := len(chunk)
		if size-sent < n {
			n = size - sent
		}
		if _, err := io.ReadFull(r, chunk[:n]); err != nil {
			return fmt.Errorf("image source ended early: %w", err)
		}
		if err := c.t.Send(chunk[:n], true); err != nil {
			return err
		}
		sent += n
		if progress != nil {
			progress(sent)
		}
	}
	return nil
}

// Reset sends the reset sentinel without waiting for a reply.
func (c *Client) Reset() error {
	return c.t.Send([]byte{frame.Reset}, false)
}
