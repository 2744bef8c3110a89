package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/hexium/at28prog/internal/bus"
	"github.com/hexium/at28prog/internal/serial"
	"github.com/hexium/at28prog/internal/server"
)

// Fixed GPIO assignment of the programmer hat (BCM pin names).
var pinout = struct {
	data              [8]string
	ce, oe, we        string
	ser, sclk, rclk   string
	shiftOE, shiftCLR string
	led               string
}{
	data:     [8]string{"GPIO5", "GPIO6", "GPIO13", "GPIO19", "GPIO26", "GPIO16", "GPIO20", "GPIO21"},
	ce:       "GPIO22",
	oe:       "GPIO27",
	we:       "GPIO17",
	ser:      "GPIO23",
	sclk:     "GPIO24",
	rclk:     "GPIO25",
	shiftOE:  "GPIO7",
	shiftCLR: "GPIO8",
	led:      "GPIO18",
}

// serveReadTimeout bounds how long the firmware loop waits for the next
// payload byte; idle waiting for a command is unbounded.
const serveReadTimeout = 120 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the programmer firmware loop",
		Long: `Run the programmer side of the protocol on a board with GPIO access
to the EEPROM bus, answering commands on the given serial port until
interrupted.`,
		RunE: runServe,
	}
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	if portFlag == "" {
		return fmt.Errorf("serve requires --port (the serial link to the host)")
	}

	if _, err := host.Init(); err != nil {
		return fmt.Errorf("gpio host initialization failed: %w", err)
	}

	pins, err := resolvePins()
	if err != nil {
		return err
	}

	rom, err := bus.New(pins, bus.DefaultTimings())
	if err != nil {
		return fmt.Errorf("bus initialization failed: %w", err)
	}

	port, err := serial.Open(portFlag, baudFlag)
	if err != nil {
		return fmt.Errorf("failed to open port: %w", err)
	}
	defer port.Close()
	port.SetReadTimeout(serveReadTimeout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Unblock a pending receive when the context goes away.
	go func() {
		<-ctx.Done()
		port.Close()
	}()

	fmt.Printf("Serving on %s @ %d baud\n", portFlag, baudFlag)
	srv := server.New(port, rom, server.WithActivityLED(pins.ActivityLED))
	if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func resolvePins() (*bus.Pins, error) {
	byName := func(name string) (gpio.PinIO, error) {
		p := gpioreg.ByName(name)
		if p == nil {
			return nil, fmt.Errorf("gpio pin %s not found", name)
		}
		return p, nil
	}

	var pins bus.Pins
	var err error
	for i, name := range pinout.data {
		if pins.Data[i], err = byName(name); err != nil {
			return nil, err
		}
	}
	if pins.CE, err = byName(pinout.ce); err != nil {
		return nil, err
	}
	if pins.OE, err = byName(pinout.oe); err != nil {
		return nil, err
	}
	if pins.WE, err = byName(pinout.we); err != nil {
		return nil, err
	}
	if pins.ShiftSER, err = byName(pinout.ser); err != nil {
		return nil, err
	}
	if pins.ShiftSCLK, err = byName(pinout.sclk); err != nil {
		return nil, err
	}
	if pins.ShiftRCLK, err = byName(pinout.rclk); err != nil {
		return nil, err
	}
	if pins.ShiftOE, err = byName(pinout.shiftOE); err != nil {
		return nil, err
	}
	if pins.ShiftCLR, err = byName(pinout.shiftCLR); err != nil {
		return nil, err
	}
	if pins.ActivityLED, err = byName(pinout.led); err != nil {
		return nil, err
	}
	return &pins, nil
}
