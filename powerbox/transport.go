// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package powerbox

import (
	"errors"
	"io"
	"strings"
	"sync"

	"go.bug.st/serial"
)

// port is the subset of serial.Port used by the line transport.
type port interface {
	io.ReadWriteCloser
	ResetInputBuffer() error
}

// SerialTransport implements Transport on a go.bug.st/serial port.
type SerialTransport struct {
	cfg  SerialConfig
	open func(address string, mode *serial.Mode) (port, error)

	mu   sync.Mutex
	port port
}

// NewSerialTransport returns a closed transport for the given port settings.
func NewSerialTransport(cfg SerialConfig) *SerialTransport {
	return &SerialTransport{cfg: cfg, open: openSerialPort(cfg)}
}

func openSerialPort(cfg SerialConfig) func(string, *serial.Mode) (port, error) {
	return func(address string, mode *serial.Mode) (port, error) {
		p, err := serial.Open(address, mode)
		if err != nil {
			return nil, err
		}
		if cfg.Timeout > 0 {
			if err := p.SetReadTimeout(cfg.Timeout); err != nil {
				_ = p.Close()
				return nil, err
			}
		}
		return p, nil
	}
}

// Open opens the serial port. Opening an open transport is a no-op.
func (sf *SerialTransport) Open() error {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if sf.port != nil {
		return nil
	}
	p, err := sf.open(sf.cfg.Address, sf.cfg.mode())
	if err != nil {
		return &TransportError{Op: "open", Cmd: sf.cfg.Address, Err: classifyPortError(err)}
	}
	sf.port = p
	return nil
}

// Close closes the serial port.
func (sf *SerialTransport) Close() error {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if sf.port == nil {
		return nil
	}
	err := sf.port.Close()
	sf.port = nil
	if err != nil {
		return &TransportError{Op: "close", Err: err}
	}
	return nil
}

// Send flushes pending input and writes cmd.
func (sf *SerialTransport) Send(cmd string) error {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.send(cmd)
}

func (sf *SerialTransport) send(cmd string) error {
	if sf.port == nil {
		return &TransportError{Op: "write", Cmd: cmd, Err: ErrPortClosed}
	}
	if err := sf.port.ResetInputBuffer(); err != nil {
		return &TransportError{Op: "flush", Cmd: cmd, Err: err}
	}
	n, err := sf.port.Write([]byte(cmd))
	if err != nil {
		return &TransportError{Op: "write", Cmd: cmd, Err: classifyPortError(err)}
	}
	if n != len(cmd) {
		return &TransportError{Op: "write", Cmd: cmd, Err: io.ErrShortWrite}
	}
	return nil
}

// SendAndReceive writes cmd and reads one reply line.
func (sf *SerialTransport) SendAndReceive(cmd string, maxBytes int) (string, error) {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if err := sf.send(cmd); err != nil {
		return "", err
	}
	line, err := readLine(sf.port, maxBytes)
	if err != nil {
		return line, &TransportError{Op: "read", Cmd: cmd, Err: err}
	}
	return line, nil
}

// readLine reads byte by byte until '\n', keeping at most maxBytes-1 bytes.
// '\r' is dropped. A read returning no data before anything arrived is a
// timeout (ErrNoResponse); one returning no data mid-line is ErrConnectionReset.
// A clean io.EOF at a line boundary returns what was accumulated.
func readLine(r io.Reader, maxBytes int) (string, error) {
	var sb strings.Builder
	buf := make([]byte, 1)
	for sb.Len() < maxBytes-1 {
		n, err := r.Read(buf)
		if n == 0 {
			switch {
			case errors.Is(err, io.EOF) && sb.Len() == 0:
				return "", nil
			case err != nil && !errors.Is(err, io.EOF):
				return sb.String(), classifyPortError(err)
			case sb.Len() == 0:
				return "", ErrNoResponse
			default:
				return sb.String(), ErrConnectionReset
			}
		}
		switch c := buf[0]; c {
		case '\n':
			return sb.String(), nil
		case '\r':
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String(), nil
}

// classifyPortError maps go.bug.st/serial port errors onto transport causes.
func classifyPortError(err error) error {
	var code serial.PortErrorCode = -1
	var pe *serial.PortError
	var pv serial.PortError
	switch {
	case errors.As(err, &pe):
		code = pe.Code()
	case errors.As(err, &pv):
		code = pv.Code()
	}
	switch code {
	case serial.PortClosed, serial.PortNotFound, serial.InvalidSerialPort:
		return errors.Join(ErrPortClosed, err)
	}
	return err
}
