// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package powerbox

import (
	"strings"
	"time"

	"go.bug.st/serial"
)

// Serial line defaults of the appliance firmware (9600 8N1).
const (
	DefaultBaudRate = 9600
	DefaultDataBits = 8
)

// SerialConfig holds serial port configuration parameters.
type SerialConfig struct {
	// Address is the serial port address (e.g., "COM3" on Windows, "/dev/ttyUSB0" on Linux).
	Address string
	// BaudRate is the serial port speed, 9600 for the stock firmware.
	BaudRate int
	// DataBits is the number of data bits (usually 8).
	DataBits int
	// StopBits specifies the number of stop bits. Use serial.OneStopBit or serial.TwoStopBits.
	StopBits serial.StopBits
	// Parity specifies the parity mode. Use serial.NoParity, serial.OddParity, serial.EvenParity.
	Parity serial.Parity
	// Timeout bounds a single read on the port. Exhausting it with nothing
	// received is reported as ErrNoResponse.
	Timeout time.Duration
}

// mode converts the configuration to the go.bug.st/serial port mode.
func (sc SerialConfig) mode() *serial.Mode {
	return &serial.Mode{
		BaudRate: sc.BaudRate,
		DataBits: sc.DataBits,
		Parity:   sc.Parity,
		StopBits: sc.StopBits,
	}
}

// ParseParity maps "none", "odd", "even", "mark" and "space" to serial.Parity.
// Unknown values map to NoParity.
func ParseParity(p string) serial.Parity {
	switch strings.ToLower(p) {
	case "odd", "o":
		return serial.OddParity
	case "even", "e":
		return serial.EvenParity
	case "mark", "m":
		return serial.MarkParity
	case "space", "s":
		return serial.SpaceParity
	default: // Includes "none"
		return serial.NoParity
	}
}

// ParseStopBits maps 1 and 2 to serial.StopBits. Returns OneStopBit for invalid values.
func ParseStopBits(s int) serial.StopBits {
	if s == 2 {
		return serial.TwoStopBits
	}
	return serial.OneStopBit
}

// ListPorts returns the serial ports present on the host.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}
