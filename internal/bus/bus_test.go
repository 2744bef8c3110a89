package bus_test

import (
	"testing"

	"github.com/hexium/at28prog/internal/bus"
	"github.com/hexium/at28prog/internal/emu"
)

func newTestBus(t *testing.T) (*bus.EEPROM, *emu.Chip) {
	t.Helper()
	chip := emu.NewChip()
	rom, err := bus.New(chip.Pins(), bus.Timings{})
	if err != nil {
		t.Fatalf("bus.New() error = %v", err)
	}
	return rom, chip
}

func TestWriteReadRoundTrip(t *testing.T) {
	rom, chip := newTestBus(t)

	tests := []struct {
		addr uint16
		val  byte
	}{
		{0x0000, 0x00},
		{0x0001, 0xFF},
		{0x0010, 0xAB},
		{0x1234, 0x55},
		{0x7FFF, 0xA5},
	}

	for _, tc := range tests {
		if err := rom.EnterWrite(); err != nil {
			t.Fatalf("EnterWrite() error = %v", err)
		}
		if err := rom.WriteByte(tc.addr, tc.val); err != nil {
			t.Fatalf("WriteByte(0x%04x, 0x%02x) error = %v", tc.addr, tc.val, err)
		}
		if err := rom.EnterStandby(); err != nil {
			t.Fatalf("EnterStandby() error = %v", err)
		}

		got, err := rom.ReadByte(tc.addr)
		if err != nil {
			t.Fatalf("ReadByte(0x%04x) error = %v", tc.addr, err)
		}
		if got != tc.val {
			t.Errorf("ReadByte(0x%04x) = 0x%02x, want 0x%02x", tc.addr, got, tc.val)
		}
		if chip.Peek(tc.addr) != tc.val {
			t.Errorf("chip memory at 0x%04x = 0x%02x, want 0x%02x", tc.addr, chip.Peek(tc.addr), tc.val)
		}
	}

	if chip.Contention() {
		t.Error("data bus was driven from both sides")
	}
}

func TestReadByte_LeavesBusInStandby(t *testing.T) {
	rom, chip := newTestBus(t)
	chip.Poke(0x0042, 0x99)

	if _, err := rom.ReadByte(0x0042); err != nil {
		t.Fatalf("ReadByte() error = %v", err)
	}
	if rom.Mode() != bus.Standby {
		t.Errorf("mode after ReadByte = %v, want standby", rom.Mode())
	}
}

func TestWriteByte_RequiresWriteMode(t *testing.T) {
	rom, _ := newTestBus(t)

	if err := rom.WriteByte(0x0000, 0x42); err == nil {
		t.Error("WriteByte() in standby succeeded, want error")
	}

	if err := rom.EnterWrite(); err != nil {
		t.Fatalf("EnterWrite() error = %v", err)
	}
	if err := rom.WriteByte(0x0000, 0x42); err != nil {
		t.Errorf("WriteByte() in write mode error = %v", err)
	}
}

func TestModeEntry_Idempotent(t *testing.T) {
	chip := emu.NewChip()
	ctl := bus.NewController(chip.Pins(), bus.Timings{})
	if err := ctl.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	tests := []struct {
		name  string
		enter func() error
	}{
		{"standby", ctl.EnterStandby},
		{"read", ctl.EnterRead},
		{"write", ctl.EnterWrite},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.enter(); err != nil {
				t.Fatalf("first entry error = %v", err)
			}
			chip.ResetLog()
			if err := tc.enter(); err != nil {
				t.Fatalf("second entry error = %v", err)
			}
			if ops := chip.Log(); len(ops) != 0 {
				t.Errorf("repeated entry touched %d pins: %v", len(ops), ops)
			}
		})
	}
}

func TestModeTransitions_NoContention(t *testing.T) {
	chip := emu.NewChip()
	ctl := bus.NewController(chip.Pins(), bus.Timings{})
	if err := ctl.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	sequence := []func() error{
		ctl.EnterRead,
		ctl.EnterStandby,
		ctl.EnterWrite,
		ctl.EnterStandby,
		ctl.EnterRead,
		ctl.EnterWrite,
		ctl.EnterRead,
		ctl.EnterStandby,
	}
	for i, enter := range sequence {
		if err := enter(); err != nil {
			t.Fatalf("transition %d error = %v", i, err)
		}
		if chip.Contention() {
			t.Fatalf("contention after transition %d", i)
		}
	}
}

func TestLoadAddress_MSBFirst(t *testing.T) {
	chip := emu.NewChip()
	sr := bus.NewShiftRegister(chip.Pins(), bus.Timings{})

	for _, addr := range []uint16{0x0000, 0x0001, 0x8000, 0x7FFF, 0xAAAA, 0x1234} {
		if err := sr.LoadAddress(addr); err != nil {
			t.Fatalf("LoadAddress(0x%04x) error = %v", addr, err)
		}
		if got := chip.LatchedAddr(); got != addr {
			t.Errorf("LatchedAddr() = 0x%04x, want 0x%04x", got, addr)
		}
	}
}

func TestNew_MissingPin(t *testing.T) {
	chip := emu.NewChip()
	pins := chip.Pins()
	pins.CE = nil

	if _, err := bus.New(pins, bus.Timings{}); err == nil {
		t.Error("bus.New() with missing CE pin succeeded, want error")
	}
}
