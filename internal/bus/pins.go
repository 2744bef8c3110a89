package bus

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
)

// DeviceSize is the capacity of the AT28C256 in bytes.
const DeviceSize = 32768

// Pins is the fixed GPIO assignment of the programmer board.
//
// The EEPROM control lines (CE, OE, WE) are active-low. The data lines are
// bidirectional and must only be reconfigured through the Controller so
// the chip and the controller never drive them at the same time.
type Pins struct {
	// Data is the 8-bit data bus, LSB first.
	Data [8]gpio.PinIO

	// AT28C256 control lines.
	CE gpio.PinIO
	OE gpio.PinIO
	WE gpio.PinIO

	// 74HC595 shift register lines.
	ShiftSER  gpio.PinIO
	ShiftSCLK gpio.PinIO
	ShiftRCLK gpio.PinIO

	// Optional shift register lines. Boards that hardwire them can leave
	// these nil.
	ShiftOE  gpio.PinIO
	ShiftCLR gpio.PinIO

	// ActivityLED is optional.
	ActivityLED gpio.PinIO
}

func (p *Pins) validate() error {
	for i, d := range p.Data {
		if d == nil {
			return fmt.Errorf("data pin %d not assigned", i)
		}
	}
	for _, l := range []struct {
		name string
		pin  gpio.PinIO
	}{
		{"CE", p.CE},
		{"OE", p.OE},
		{"WE", p.WE},
		{"SER", p.ShiftSER},
		{"SCLK", p.ShiftSCLK},
		{"RCLK", p.ShiftRCLK},
	} {
		if l.pin == nil {
			return fmt.Errorf("%s pin not assigned", l.name)
		}
	}
	return nil
}
