package emu

import (
	"errors"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// Pin is a single emulated GPIO line. It implements gpio.PinIO; reads
// and writes are routed through the owning Chip so the device model sees
// every edge.
type Pin struct {
	chip  *Chip
	name  string
	num   int
	role  pinRole
	isOut bool
	level gpio.Level
	pull  gpio.Pull
}

// String implements conn.Resource.
func (p *Pin) String() string { return p.name }

// Halt implements conn.Resource.
func (p *Pin) Halt() error { return nil }

// Name implements pin.Pin.
func (p *Pin) Name() string { return p.name }

// Number implements pin.Pin.
func (p *Pin) Number() int { return p.num }

// Function implements pin.Pin.
func (p *Pin) Function() string {
	p.chip.mu.Lock()
	defer p.chip.mu.Unlock()
	if p.isOut {
		return "Out"
	}
	return "In"
}

// In configures the pin as an input, releasing any level the controller
// was driving.
func (p *Pin) In(pull gpio.Pull, edge gpio.Edge) error {
	c := p.chip
	c.mu.Lock()
	defer c.mu.Unlock()
	p.isOut = false
	p.pull = pull
	c.record(p.name + "/in")
	c.checkContention()
	return nil
}

// Read returns the level on the line. While the EEPROM drives the bus a
// data pin reads the addressed memory bit; otherwise the last driven
// level is returned.
func (p *Pin) Read() gpio.Level {
	c := p.chip
	c.mu.Lock()
	defer c.mu.Unlock()
	if p.role == roleData && !p.isOut && c.chipDrivesBus() {
		bit := c.mem[int(c.addr)%len(c.mem)] >> p.num & 1
		return gpio.Level(bit == 1)
	}
	return p.level
}

// WaitForEdge implements gpio.PinIn. Edges are not modeled.
func (p *Pin) WaitForEdge(timeout time.Duration) bool { return false }

// Pull implements gpio.PinIn.
func (p *Pin) Pull() gpio.Pull { return p.pull }

// DefaultPull implements gpio.PinIn.
func (p *Pin) DefaultPull() gpio.Pull { return gpio.Float }

// Out drives the pin to the given level, configuring it as an output if
// it was not one already.
func (p *Pin) Out(l gpio.Level) error {
	c := p.chip
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := p.level
	p.isOut = true
	p.level = l
	c.record(p.name + "/out/" + l.String())
	c.pinChanged(p, prev, l)
	return nil
}

// PWM implements gpio.PinOut. Not modeled.
func (p *Pin) PWM(duty gpio.Duty, freq physic.Frequency) error {
	return errors.New("emu: pwm not supported")
}

var _ gpio.PinIO = (*Pin)(nil)
