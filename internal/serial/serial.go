// Package serial wraps the programmer's serial link with the blocking
// read semantics the framed protocol expects: a read returns data or
// fails with os.ErrDeadlineExceeded once the configured deadline passes.
package serial

import (
	"fmt"
	"os"
	"time"

	"go.bug.st/serial"
)

// pollInterval is the granularity at which a blocking read checks its
// deadline.
const pollInterval = 100 * time.Millisecond

// Port is an open serial connection to the programmer.
type Port struct {
	port        serial.Port
	portName    string
	baudRate    int
	readTimeout time.Duration
}

// Open opens portName at the given baud rate, 8N1. The default read
// deadline is 30 seconds; use SetReadTimeout to change it.
func Open(portName string, baudRate int) (*Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open port %s: %w", portName, err)
	}

	if err := port.SetReadTimeout(pollInterval); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	return &Port{
		port:        port,
		portName:    portName,
		baudRate:    baudRate,
		readTimeout: 30 * time.Second,
	}, nil
}

// SetReadTimeout sets how long a Read blocks waiting for the first byte
// before giving up with os.ErrDeadlineExceeded.
func (p *Port) SetReadTimeout(d time.Duration) {
	p.readTimeout = d
}

// Close closes the serial port.
func (p *Port) Close() error {
	if p.port != nil {
		return p.port.Close()
	}
	return nil
}

// Write writes data to the serial port.
func (p *Port) Write(data []byte) (int, error) {
	return p.port.Write(data)
}

// Read blocks until at least one byte arrives, the underlying port
// fails, or the read deadline passes.
func (p *Port) Read(buf []byte) (int, error) {
	deadline := time.Now().Add(p.readTimeout)
	for {
		n, err := p.port.Read(buf)
		if n > 0 || err != nil {
			return n, err
		}
		if !time.Now().Before(deadline) {
			return 0, fmt.Errorf("no data within %v: %w", p.readTimeout, os.ErrDeadlineExceeded)
		}
	}
}

// Flush discards any buffered inbound data.
func (p *Port) Flush() error {
	return p.port.ResetInputBuffer()
}

// PortName returns the port name.
func (p *Port) PortName() string {
	return p.portName
}

// BaudRate returns the configured baud rate.
func (p *Port) BaudRate() int {
	return p.baudRate
}

// ListPorts returns the available serial ports.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, err
	}
	return ports, nil
}
