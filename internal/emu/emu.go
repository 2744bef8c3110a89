// Package emu emulates the programmer's peripherals at the GPIO level:
// an AT28C256 EEPROM and the 74HC595 address shift register, wired to
// pins that implement gpio.PinIO.
//
// The emulation is pin-accurate for the behaviors the firmware relies
// on: the shift register samples SER on every rising shift-clock edge
// and latches on the rising latch-clock edge, the EEPROM drives the data
// bus only while selected with outputs enabled, and a byte is committed
// on the rising edge of the write strobe. Every pin reconfiguration is
// recorded in an op log, and driving the bus from both sides at once
// trips a sticky contention flag, so tests can assert the electrical
// invariants directly.
package emu

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"

	"github.com/hexium/at28prog/internal/bus"
)

type pinRole int

const (
	roleData pinRole = iota
	roleCE
	roleOE
	roleWE
	roleSER
	roleSCLK
	roleRCLK
	roleAux
)

// Chip is the emulated board: EEPROM, shift register and passive pins.
// All state is guarded by one mutex so a test client may inspect the
// chip while the firmware loop runs in another goroutine.
type Chip struct {
	mu sync.Mutex

	mem   [bus.DeviceSize]byte
	shift uint16
	addr  uint16

	data              [8]*Pin
	ce, oe, we        *Pin
	ser, sclk, rclk   *Pin
	shiftOE, shiftCLR *Pin
	led               *Pin
	contention        bool
	log               []string
}

// NewChip returns an emulated board with all memory erased to 0xFF, the
// state a factory-fresh EEPROM ships in.
func NewChip() *Chip {
	c := &Chip{}
	for i := range c.mem {
		c.mem[i] = 0xFF
	}
	for i := range c.data {
		c.data[i] = c.newPin(fmt.Sprintf("IO%d", i), i, roleData, gpio.Low)
	}
	// Control lines idle inactive (pulled high on the board).
	c.we = c.newPin("WE", 8, roleWE, gpio.High)
	c.oe = c.newPin("OE", 9, roleOE, gpio.High)
	c.ce = c.newPin("CE", 10, roleCE, gpio.High)
	c.ser = c.newPin("SER", 11, roleSER, gpio.Low)
	c.sclk = c.newPin("SCLK", 12, roleSCLK, gpio.Low)
	c.rclk = c.newPin("RCLK", 13, roleRCLK, gpio.Low)
	c.shiftOE = c.newPin("SHIFT_OE", 14, roleAux, gpio.Low)
	c.shiftCLR = c.newPin("SHIFT_CLR", 15, roleAux, gpio.High)
	c.led = c.newPin("LED", 16, roleAux, gpio.Low)
	return c
}

func (c *Chip) newPin(name string, num int, role pinRole, level gpio.Level) *Pin {
	return &Pin{chip: c, name: name, num: num, role: role, level: level}
}

// Pins returns the pin set to hand to bus.New.
func (c *Chip) Pins() *bus.Pins {
	p := &bus.Pins{
		CE:          c.ce,
		OE:          c.oe,
		WE:          c.we,
		ShiftSER:    c.ser,
		ShiftSCLK:   c.sclk,
		ShiftRCLK:   c.rclk,
		ShiftOE:     c.shiftOE,
		ShiftCLR:    c.shiftCLR,
		ActivityLED: c.led,
	}
	for i, d := range c.data {
		p.Data[i] = d
	}
	return p
}

// Peek returns the byte stored at addr, bypassing the bus.
func (c *Chip) Peek(addr uint16) byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mem[int(addr)%bus.DeviceSize]
}

// Poke stores val at addr, bypassing the bus.
func (c *Chip) Poke(addr uint16, val byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mem[int(addr)%bus.DeviceSize] = val
}

// LoadImage fills memory from the start of img, up to the device size.
func (c *Chip) LoadImage(img []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	copy(c.mem[:], img)
}

// LatchedAddr returns the address currently presented by the shift
// register's parallel outputs.
func (c *Chip) LatchedAddr() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addr
}

// Contention reports whether the controller and the EEPROM have ever
// driven the data bus simultaneously. The flag is sticky.
func (c *Chip) Contention() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.contention
}

// logCap bounds the op log; a full-device transfer touches pins a few
// million times. When the cap is reached the oldest half is dropped.
const logCap = 1 << 16

func (c *Chip) record(op string) {
	if len(c.log) == logCap {
		c.log = append(c.log[:0], c.log[logCap/2:]...)
	}
	c.log = append(c.log, op)
}

// Log returns a copy of the recorded pin operations. The log is bounded;
// only the most recent operations are retained.
func (c *Chip) Log() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.log...)
}

// ResetLog clears the recorded pin operations.
func (c *Chip) ResetLog() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log = c.log[:0]
}

// chipDrivesBus reports whether the EEPROM's output drivers are on:
// selected, outputs enabled, write strobe deasserted.
func (c *Chip) chipDrivesBus() bool {
	return c.ce.level == gpio.Low && c.oe.level == gpio.Low && c.we.level == gpio.High
}

func (c *Chip) controllerDrivesBus() bool {
	for _, d := range c.data {
		if d.isOut {
			return true
		}
	}
	return false
}

func (c *Chip) checkContention() {
	if c.chipDrivesBus() && c.controllerDrivesBus() {
		c.contention = true
	}
}

// controllerDataByte assembles the byte the controller is driving onto
// the bus.
func (c *Chip) controllerDataByte() byte {
	var v byte
	for i, d := range c.data {
		if d.isOut && d.level == gpio.High {
			v |= 1 << i
		}
	}
	return v
}

// pinChanged reacts to an output level transition on a control pin.
// Called with the chip lock held.
func (c *Chip) pinChanged(p *Pin, prev, cur gpio.Level) {
	rising := prev == gpio.Low && cur == gpio.High
	switch p.role {
	case roleSCLK:
		if rising {
			c.shift <<= 1
			if c.ser.level == gpio.High {
				c.shift |= 1
			}
		}
	case roleRCLK:
		if rising {
			c.addr = c.shift
		}
	case roleWE:
		// Data is latched on the rising strobe edge, but only while the
		// device is selected with its outputs off.
		if rising && c.ce.level == gpio.Low && c.oe.level == gpio.High {
			c.mem[int(c.addr)%bus.DeviceSize] = c.controllerDataByte()
		}
	}
	c.checkContention()
}
