// Package server implements the programmer's firmware core: the command
// dispatch loop that turns frames received from the host into timed
// EEPROM bus operations and response frames.
//
// Execution is single-threaded and blocking. There is exactly one
// protocol exchange in flight at any time, so the bus mode state needs
// no locking; nothing outside the bus package touches pin directions or
// control lines.
package server

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"time"

	"periph.io/x/conn/v3/gpio"

	"github.com/hexium/at28prog/internal/bus"
	"github.com/hexium/at28prog/internal/frame"
)

// Option configures a Server.
type Option func(*Server)

// WithActivityLED lights pin while a command is being processed and
// blinks it when an error was latched.
func WithActivityLED(pin gpio.PinIO) Option {
	return func(s *Server) { s.led = pin }
}

// WithBlinkInterval sets the on/off hold time of the error blink
// pattern. Zero disables the waits, which tests use.
func WithBlinkInterval(d time.Duration) Option {
	return func(s *Server) { s.blink = d }
}

// Server is the command processor.
type Server struct {
	t      *frame.Transport
	rom    *bus.EEPROM
	led    gpio.PinIO
	blink  time.Duration
	status Status
}

// New returns a Server that reads commands from rw and executes them
// against rom.
func New(rw io.ReadWriter, rom *bus.EEPROM, opts ...Option) *Server {
	s := &Server{
		t:     frame.New(rw),
		rom:   rom,
		blink: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes the main loop: receive a frame, dispatch it, surface and
// clear the latched error. It returns when ctx is cancelled (checked
// between commands; close the underlying stream to interrupt a blocked
// receive) or when the stream ends.
func (s *Server) Run(ctx context.Context) error {
	buf := make([]byte, frame.MaxPayload)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := s.t.Receive(buf, false)
		if err != nil {
			switch {
			case errors.Is(err, os.ErrDeadlineExceeded):
				// Idle. Keep waiting for the host.
				continue
			case errors.Is(err, frame.ErrCorrupt):
				s.status = StatusCorrupt
				s.reportStatus()
				continue
			default:
				return err
			}
		}

		s.setLED(gpio.High)
		s.dispatch(buf[:n])
		s.setLED(gpio.Low)
		s.reportStatus()
	}
}

// dispatch decodes one command frame and runs the matching operation.
// The opcode together with the declared frame length selects the
// operation; any other combination is latched as unknown and produces no
// reply, so a confused host can never corrupt device state.
func (s *Server) dispatch(msg []byte) {
	if len(msg) == 0 {
		// Stray ack at idle. Nothing to do.
		return
	}

	op := msg[0]
	switch {
	case op == frame.OpRead && len(msg) == 3:
		val, err := s.rom.ReadByte(binary.BigEndian.Uint16(msg[1:3]))
		if err != nil {
			s.fail(err)
			return
		}
		if err := s.t.Send([]byte{val}, false); err != nil {
			s.fail(err)
		}

	case op == frame.OpWrite && len(msg) == 4:
		if err := s.writeOne(binary.BigEndian.Uint16(msg[1:3]), msg[3]); err != nil {
			s.fail(err)
			return
		}
		// Empty frame signals completion of the write.
		if err := s.t.Send(nil, false); err != nil {
			s.fail(err)
		}

	case op == frame.OpDump && len(msg) == 1:
		s.dump()

	case op == frame.OpLoad && len(msg) == 3:
		// Acknowledge the command itself, then take over the receive
		// side of the ack'd chunk stream.
		if err := s.t.Send(nil, false); err != nil {
			s.fail(err)
			return
		}
		s.load(int(binary.BigEndian.Uint16(msg[1:3])))

	case op == frame.Reset && len(msg) == 1:
		// Reset at idle: nothing is in flight, silently ignore.

	default:
		s.status = StatusUnknown
	}
}

// writeOne programs a single byte, entering write mode around it. The
// bus is released on the way out, failure included.
func (s *Server) writeOne(addr uint16, val byte) error {
	if err := s.rom.EnterWrite(); err != nil {
		return err
	}
	defer s.rom.EnterStandby()
	return s.rom.WriteByte(addr, val)
}

// dump streams the full device contents to the host in ack'd chunks of
// up to MaxPayload bytes. The first transport failure aborts the dump;
// ReadByte has already returned the bus to standby by then.
func (s *Server) dump() {
	var chunk [frame.MaxPayload]byte
	fill := 0
	for addr := 0; addr < bus.DeviceSize; addr++ {
		val, err := s.rom.ReadByte(uint16(addr))
		if err != nil {
			s.fail(err)
			return
		}
		chunk[fill] = val
		fill++
		if fill == len(chunk) {
			if err := s.t.Send(chunk[:], true); err != nil {
				s.fail(err)
				return
			}
			fill = 0
		}
	}
	if fill > 0 {
		if err := s.t.Send(chunk[:fill], true); err != nil {
			s.fail(err)
		}
	}
}

// load receives total bytes of image data in ack'd chunks and programs
// them sequentially from address zero, pacing writes to respect the
// device's write cycle time. Write mode is entered once for the whole
// transfer and released on the way out, abort included.
func (s *Server) load(total int) {
	if err := s.rom.EnterWrite(); err != nil {
		s.fail(err)
		return
	}
	defer s.rom.EnterStandby()

	buf := make([]byte, frame.MaxPayload)
	addr := 0
	for addr < total {
		n, err := s.t.Receive(buf, true)
		if err != nil {
			s.fail(err)
			return
		}
		for _, b := range buf[:n] {
			if err := s.rom.WriteByte(uint16(addr), b); err != nil {
				s.fail(err)
				return
			}
			addr++
			s.rom.Pace()
		}
	}
}

// fail latches the status matching err.
func (s *Server) fail(err error) {
	s.status = statusOf(err)
}

// reportStatus surfaces a latched error on the activity LED and clears
// the latch, so no error persists across loop iterations.
func (s *Server) reportStatus() {
	if s.status != StatusOK && s.led != nil {
		for i := 0; i < 5; i++ {
			s.led.Out(gpio.High)
			s.pause()
			s.led.Out(gpio.Low)
			s.pause()
		}
	}
	s.status = StatusOK
}

func (s *Server) setLED(l gpio.Level) {
	if s.led != nil {
		s.led.Out(l)
	}
}

func (s *Server) pause() {
	if s.blink > 0 {
		time.Sleep(s.blink)
	}
}
