// Package detect locates the serial port the programmer board is
// attached to using USB metadata, so the common single-board setup needs
// no --port flag.
package detect

import (
	"fmt"
	"strings"

	"go.bug.st/serial/enumerator"
)

// Arduino-compatible vendor IDs seen on programmer boards: genuine
// boards and the usual CH340/FTDI clones.
var knownVendorIDs = map[string]bool{
	"2341": true, // Arduino
	"2a03": true, // Arduino (older)
	"1a86": true, // CH340
	"0403": true, // FTDI
}

// Find returns the name of the first serial port that looks like a
// programmer board.
func Find() (string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return "", fmt.Errorf("failed to list ports: %w", err)
	}

	for _, p := range ports {
		if !p.IsUSB {
			continue
		}
		if strings.Contains(strings.ToLower(p.Product), "arduino") {
			return p.Name, nil
		}
		if knownVendorIDs[strings.ToLower(p.VID)] {
			return p.Name, nil
		}
	}

	return "", fmt.Errorf("no programmer board found; specify the port manually")
}
