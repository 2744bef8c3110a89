package bus

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
)

// EEPROM provides byte-level access to the AT28C256 on top of the mode
// controller and the address shift register.
type EEPROM struct {
	ctl   *Controller
	shift *ShiftRegister
	t     Timings
}

// New wires up a Controller, ShiftRegister and EEPROM for the given pin
// set and initializes the bus into standby.
func New(pins *Pins, t Timings) (*EEPROM, error) {
	ctl := NewController(pins, t)
	if err := ctl.Init(); err != nil {
		return nil, err
	}
	return NewEEPROM(ctl, NewShiftRegister(pins, t), t), nil
}

// NewEEPROM builds the access primitives from an existing controller and
// shift register driver.
func NewEEPROM(ctl *Controller, shift *ShiftRegister, t Timings) *EEPROM {
	return &EEPROM{ctl: ctl, shift: shift, t: t}
}

// Mode returns the active bus mode.
func (e *EEPROM) Mode() Mode {
	return e.ctl.Mode()
}

// EnterWrite switches the bus to write mode. Bulk writers call this once
// and amortize the mode entry across many WriteByte calls.
func (e *EEPROM) EnterWrite() error {
	return e.ctl.EnterWrite()
}

// EnterStandby releases the bus.
func (e *EEPROM) EnterStandby() error {
	return e.ctl.EnterStandby()
}

// ReadByte returns the byte stored at addr. The bus is left in standby on
// return, trading a few microseconds of mode re-entry per byte for the
// guarantee that an aborted caller never leaves the device selected.
func (e *EEPROM) ReadByte(addr uint16) (byte, error) {
	if err := e.ctl.EnterRead(); err != nil {
		return 0, err
	}
	if err := e.shift.LoadAddress(addr); err != nil {
		return 0, err
	}
	sleep(e.t.Settle)

	var val byte
	for i, d := range e.ctl.pins.Data {
		if d.Read() == gpio.High {
			val |= 1 << i
		}
	}

	if err := e.ctl.EnterStandby(); err != nil {
		return 0, err
	}
	return val, nil
}

// WriteByte programs val at addr. The bus must already be in write mode;
// unlike ReadByte this primitive never switches modes itself. The
// falling-to-rising edge of the write strobe is what programs the byte.
// The device's internal write cycle outlasts this call: callers pace
// successive writes with Pace.
func (e *EEPROM) WriteByte(addr uint16, val byte) error {
	if m := e.ctl.Mode(); m != Write {
		return fmt.Errorf("bus in %s mode, write requires write mode", m)
	}
	if err := e.shift.LoadAddress(addr); err != nil {
		return err
	}
	for i, d := range e.ctl.pins.Data {
		if err := d.Out(gpio.Level(val>>i&1 == 1)); err != nil {
			return err
		}
	}
	sleep(e.t.Settle)

	if err := e.ctl.pins.WE.Out(gpio.Low); err != nil {
		return err
	}
	sleep(e.t.Pulse)
	if err := e.ctl.pins.WE.Out(gpio.High); err != nil {
		return err
	}
	sleep(e.t.Settle)
	return nil
}

// Pace waits out the device's write cycle time between successive bulk
// writes.
func (e *EEPROM) Pace() {
	sleep(e.t.WriteCycle)
}
