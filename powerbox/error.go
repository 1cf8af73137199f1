// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package powerbox

import (
	"errors"
	"fmt"
)

// error defined
var (
	ErrNotConnected      = errors.New("powerbox: not connected")
	ErrDeviceNotDetected = errors.New("powerbox: device not detected")
	ErrNotWritable       = errors.New("powerbox: feature is not writable")
	ErrIndexOutOfRange   = errors.New("powerbox: feature index out of range")
	ErrValueOutOfRange   = errors.New("powerbox: value out of range")
	ErrTableNotBuilt     = errors.New("powerbox: feature table not built")
	ErrNotPort           = errors.New("powerbox: feature is not a physical port")
	ErrInvalidName       = errors.New("powerbox: invalid port name")
)

// Class errors matched by TransportError and ProtocolError through errors.Is.
var (
	ErrTransport = errors.New("powerbox: transport error")
	ErrProtocol  = errors.New("powerbox: protocol error")
)

// Transport causes
var (
	ErrConnectionReset = errors.New("connection reset by device")
	ErrNoResponse      = errors.New("no response from device")
	ErrPortClosed      = errors.New("serial port not open")
)

// Protocol causes
var (
	ErrMissingTag      = errors.New("reply missing expected tag")
	ErrShortReply      = errors.New("reply has too few fields")
	ErrBadField        = errors.New("reply field is not a number")
	ErrUnknownPortType = errors.New("unknown port type in board signature")
	ErrUnexpectedReply = errors.New("unexpected reply")
)

// TransportError reports a failed exchange on the serial line.
type TransportError struct {
	Op  string // open, write, read, close
	Cmd string // command being exchanged, may be empty
	Err error
}

func (e *TransportError) Error() string {
	if e.Cmd == "" {
		return fmt.Sprintf("powerbox: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("powerbox: %s %s: %v", e.Op, e.Cmd, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is makes every TransportError match ErrTransport.
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// ProtocolError reports a reply that could not be interpreted.
// The feature table is left at its last good state whenever one is returned.
type ProtocolError struct {
	Op    string
	Reply string
	Err   error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("powerbox: %s: %v (reply %q)", e.Op, e.Err, e.Reply)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Is makes every ProtocolError match ErrProtocol.
func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }
