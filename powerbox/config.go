// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package powerbox

import (
	"errors"
	"time"
)

// Constants defining default values and ranges for the client parameters.
const (
	// Byte budget for a command acknowledgement or short query reply.
	DefaultReplyBudget = 64
	ReplyBudgetMin     = 8
	ReplyBudgetMax     = 1024

	// Byte budget for the status line. 14 ports with current readings and
	// all sensors fit in well under 500 bytes.
	DefaultStatusBudget = 500
	StatusBudgetMin     = 16
	StatusBudgetMax     = 4096

	// Handshake attempts before the device is declared absent.
	DefaultHandshakeAttempts = 3
	HandshakeAttemptsMin     = 1
	HandshakeAttemptsMax     = 10

	// Wait between two handshake attempts.
	DefaultHandshakeBackoff = 5 * time.Second
	HandshakeBackoffMax     = time.Minute

	// Read timeout of the serial port.
	DefaultReadTimeout = 2 * time.Second
	ReadTimeoutMin     = 10 * time.Millisecond
	ReadTimeoutMax     = 30 * time.Second
)

// Config defines a power box client configuration.
type Config struct {
	// Serial port settings
	Serial SerialConfig

	// ReplyBudget is the max_bytes passed to the transport for acknowledgements,
	// the ping reply and per-port queries. At most ReplyBudget-1 bytes are kept.
	ReplyBudget int

	// StatusBudget is the max_bytes used for the description and status lines.
	StatusBudget int

	// HandshakeAttempts is the total number of ping attempts made by Open.
	HandshakeAttempts int

	// HandshakeBackoff is the pause between two ping attempts.
	// Zero selects the default; use a negative value to disable the pause.
	HandshakeBackoff time.Duration
}

// Valid applies defaults and checks configuration validity.
func (sf *Config) Valid() error {
	return sf.valid(true)
}

// valid skips the address check when the link is not a serial port of ours.
func (sf *Config) valid(needAddress bool) error {
	if sf == nil {
		return errors.New("invalid nil config")
	}

	if needAddress && sf.Serial.Address == "" {
		return errors.New("serial address (port name) must be configured")
	}
	if sf.Serial.BaudRate == 0 {
		sf.Serial.BaudRate = DefaultBaudRate
	} else if sf.Serial.BaudRate < 0 {
		return errors.New("serial baud rate must be positive")
	}
	if sf.Serial.DataBits == 0 {
		sf.Serial.DataBits = DefaultDataBits
	} else if sf.Serial.DataBits < 5 || sf.Serial.DataBits > 8 {
		return errors.New("serial data bits must be in [5, 8]")
	}
	if sf.Serial.Timeout == 0 {
		sf.Serial.Timeout = DefaultReadTimeout
	} else if sf.Serial.Timeout < ReadTimeoutMin || sf.Serial.Timeout > ReadTimeoutMax {
		return errors.New("serial read timeout out of range [10ms, 30s]")
	}

	if sf.ReplyBudget == 0 {
		sf.ReplyBudget = DefaultReplyBudget
	} else if sf.ReplyBudget < ReplyBudgetMin || sf.ReplyBudget > ReplyBudgetMax {
		return errors.New("reply budget out of range [8, 1024]")
	}
	if sf.StatusBudget == 0 {
		sf.StatusBudget = DefaultStatusBudget
	} else if sf.StatusBudget < StatusBudgetMin || sf.StatusBudget > StatusBudgetMax {
		return errors.New("status budget out of range [16, 4096]")
	}

	if sf.HandshakeAttempts == 0 {
		sf.HandshakeAttempts = DefaultHandshakeAttempts
	} else if sf.HandshakeAttempts < HandshakeAttemptsMin || sf.HandshakeAttempts > HandshakeAttemptsMax {
		return errors.New("handshake attempts out of range [1, 10]")
	}
	switch {
	case sf.HandshakeBackoff == 0:
		sf.HandshakeBackoff = DefaultHandshakeBackoff
	case sf.HandshakeBackoff > HandshakeBackoffMax:
		return errors.New("handshake backoff exceeds 1m")
	}

	return nil
}

// DefaultConfig provides a default client configuration.
// NOTE: Serial.Address needs to be set explicitly.
func DefaultConfig() Config {
	return Config{
		Serial: SerialConfig{
			BaudRate: DefaultBaudRate,
			DataBits: DefaultDataBits,
			Timeout:  DefaultReadTimeout,
		},
		ReplyBudget:       DefaultReplyBudget,
		StatusBudget:      DefaultStatusBudget,
		HandshakeAttempts: DefaultHandshakeAttempts,
		HandshakeBackoff:  DefaultHandshakeBackoff,
	}
}
