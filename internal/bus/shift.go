package bus

import "periph.io/x/conn/v3/gpio"

// ShiftRegister serializes 16-bit addresses into the 74HC595 pair that
// feeds the EEPROM's address lines.
type ShiftRegister struct {
	ser  gpio.PinIO
	sclk gpio.PinIO
	rclk gpio.PinIO
	t    Timings
}

// NewShiftRegister returns a driver for the shift register lines in pins.
func NewShiftRegister(pins *Pins, t Timings) *ShiftRegister {
	return &ShiftRegister{
		ser:  pins.ShiftSER,
		sclk: pins.ShiftSCLK,
		rclk: pins.ShiftRCLK,
		t:    t,
	}
}

// LoadAddress shifts addr into the register MSB-first, one shift clock
// pulse per bit, then pulses the latch clock once to present the address
// on the register's parallel outputs. The only precondition is that no
// EEPROM bus access is mid-flight.
func (s *ShiftRegister) LoadAddress(addr uint16) error {
	for i := 15; i >= 0; i-- {
		bit := gpio.Level(addr>>i&1 == 1)
		if err := s.ser.Out(bit); err != nil {
			return err
		}
		sleep(s.t.Pulse)
		if err := s.pulse(s.sclk); err != nil {
			return err
		}
	}
	sleep(s.t.Pulse)
	return s.pulse(s.rclk)
}

// pulse raises pin then lowers it, holding each level for the configured
// pulse time so the register's setup/hold requirements are met regardless
// of how fast the host toggles GPIO.
func (s *ShiftRegister) pulse(pin gpio.PinIO) error {
	if err := pin.Out(gpio.High); err != nil {
		return err
	}
	sleep(s.t.Pulse)
	if err := pin.Out(gpio.Low); err != nil {
		return err
	}
	sleep(s.t.Pulse)
	return nil
}
