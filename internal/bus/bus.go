// Package bus drives the programmer's side of the shared EEPROM bus: a
// three-state mode controller for the data lines, a driver for the
// 74HC595 address shift register, and byte-level read/write primitives
// built on both.
//
// All electrical state changes go through the Controller. The invariant
// it maintains is that at no instant do the controller and the EEPROM
// drive the data bus simultaneously: a mode change always asserts
// standby-safe control-line levels before touching pin directions.
package bus

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// Mode is the controller's electrical relationship to the data bus.
type Mode int

const (
	// Standby releases the bus and deselects the EEPROM.
	Standby Mode = iota
	// Read lets the EEPROM drive the bus.
	Read
	// Write lets the controller drive the bus.
	Write
)

func (m Mode) String() string {
	switch m {
	case Standby:
		return "standby"
	case Read:
		return "read"
	case Write:
		return "write"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Timings holds the settling and strobe delays the bus sequencing inserts
// after electrical state changes. Zero durations skip the wait entirely,
// which is what the emulated-device tests use.
type Timings struct {
	// Settle is the wait after a mode transition or address change.
	Settle time.Duration

	// Pulse is the high and low hold time of shift clock and write
	// strobe pulses.
	Pulse time.Duration

	// WriteCycle is the pause between successive byte programs during a
	// bulk load, covering the device's internal write cycle.
	WriteCycle time.Duration
}

// DefaultTimings returns delays suitable for an AT28C256 on a Raspberry
// Pi class board.
func DefaultTimings() Timings {
	return Timings{
		Settle:     10 * time.Microsecond,
		Pulse:      10 * time.Microsecond,
		WriteCycle: 10 * time.Millisecond,
	}
}

func sleep(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}

// Controller owns the bus mode state. Exactly one mode is active at any
// time; pin directions and the three control lines are a pure function
// of it.
type Controller struct {
	pins *Pins
	t    Timings
	mode Mode
}

// NewController returns a Controller for the given pin set. The bus is
// not touched until Init or one of the mode entries is called.
func NewController(pins *Pins, t Timings) *Controller {
	return &Controller{pins: pins, t: t, mode: Standby}
}

// Mode returns the active bus mode.
func (c *Controller) Mode() Mode {
	return c.mode
}

// Init drives the static shift register lines to their operating levels
// and forces the bus into standby. Called once at startup.
func (c *Controller) Init() error {
	if err := c.pins.validate(); err != nil {
		return err
	}
	if p := c.pins.ShiftOE; p != nil {
		if err := p.Out(gpio.Low); err != nil { // outputs enabled
			return err
		}
	}
	if p := c.pins.ShiftCLR; p != nil {
		if err := p.Out(gpio.High); err != nil { // clear inactive
			return err
		}
	}
	if p := c.pins.ActivityLED; p != nil {
		if err := p.Out(gpio.Low); err != nil {
			return err
		}
	}
	// Force the transition even though the zero value is already Standby.
	c.mode = Read
	return c.EnterStandby()
}

// EnterStandby releases the data bus and deselects the EEPROM. A no-op
// when already in standby.
func (c *Controller) EnterStandby() error {
	if c.mode == Standby {
		return nil
	}
	if err := c.dataBusInput(); err != nil {
		return err
	}
	if err := c.pins.OE.Out(gpio.High); err != nil {
		return err
	}
	if err := c.pins.CE.Out(gpio.High); err != nil {
		return err
	}
	if err := c.pins.WE.Out(gpio.High); err != nil {
		return err
	}
	sleep(c.t.Settle)
	c.mode = Standby
	return nil
}

// EnterRead selects the EEPROM and lets it drive the data bus. A no-op
// when already in read mode.
func (c *Controller) EnterRead() error {
	if c.mode == Read {
		return nil
	}
	// Bus direction first: the controller must have released the lines
	// before OE turns the device's drivers on.
	if err := c.dataBusInput(); err != nil {
		return err
	}
	if err := c.pins.CE.Out(gpio.Low); err != nil {
		return err
	}
	if err := c.pins.OE.Out(gpio.Low); err != nil {
		return err
	}
	if err := c.pins.WE.Out(gpio.High); err != nil {
		return err
	}
	sleep(c.t.Settle)
	c.mode = Read
	return nil
}

// EnterWrite selects the EEPROM with its outputs disabled and takes over
// the data bus. The write strobe itself stays deasserted; WriteByte
// pulses it. A no-op when already in write mode.
func (c *Controller) EnterWrite() error {
	if c.mode == Write {
		return nil
	}
	// Control lines first: OE must have turned the device's drivers off
	// before the controller starts driving the lines.
	if err := c.pins.CE.Out(gpio.Low); err != nil {
		return err
	}
	if err := c.pins.OE.Out(gpio.High); err != nil {
		return err
	}
	if err := c.pins.WE.Out(gpio.High); err != nil {
		return err
	}
	for _, d := range c.pins.Data {
		if err := d.Out(gpio.Low); err != nil {
			return err
		}
	}
	sleep(c.t.Settle)
	c.mode = Write
	return nil
}

func (c *Controller) dataBusInput() error {
	for _, d := range c.pins.Data {
		if err := d.In(gpio.Float, gpio.NoEdge); err != nil {
			return err
		}
	}
	return nil
}
