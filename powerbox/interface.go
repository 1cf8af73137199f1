// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package powerbox

// Transport is a line oriented command channel to the appliance.
// Implementations never retry and never interpret replies.
type Transport interface {
	// Open acquires the underlying link.
	Open() error
	// Close releases the underlying link.
	Close() error
	// Send discards unread input and writes cmd atomically.
	Send(cmd string) error
	// SendAndReceive sends cmd and blocks reading one reply line. At most
	// maxBytes-1 bytes are returned, with carriage returns removed.
	SendAndReceive(cmd string, maxBytes int) (string, error)
}

// Logger is the logging surface used by the client.
// Compatible with *slog.Logger and the daemon's logging.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

