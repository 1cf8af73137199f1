// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package powerbox

import (
	"io"
	"log/slog"
	"time"
)

// ClientOption client configuration options
type ClientOption struct {
	config    Config
	transport Transport // nil selects a SerialTransport built from config.Serial
	logger    Logger
}

// NewOption creates a new ClientOption with the default config.
// Note: the serial address needs to be set explicitly using SetSerialConfig.
func NewOption() *ClientOption {
	return &ClientOption{
		config: DefaultConfig(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// SetConfig sets the client configuration. It is validated by NewClient.
func (sf *ClientOption) SetConfig(cfg Config) *ClientOption {
	sf.config = cfg
	return sf
}

// SetSerialConfig sets the serial port configuration within the main config.
func (sf *ClientOption) SetSerialConfig(serialCfg SerialConfig) *ClientOption {
	sf.config.Serial = serialCfg
	return sf
}

// SetHandshake sets the number of ping attempts and the pause between them.
// A negative backoff disables the pause.
func (sf *ClientOption) SetHandshake(attempts int, backoff time.Duration) *ClientOption {
	if attempts > 0 {
		sf.config.HandshakeAttempts = attempts
	}
	sf.config.HandshakeBackoff = backoff
	return sf
}

// SetTransport replaces the serial transport, e.g. with a network bridge or a test double.
// The serial address is then optional.
func (sf *ClientOption) SetTransport(t Transport) *ClientOption {
	sf.transport = t
	return sf
}

// SetLogger sets the logger. A nil logger keeps the current one.
func (sf *ClientOption) SetLogger(l Logger) *ClientOption {
	if l != nil {
		sf.logger = l
	}
	return sf
}
