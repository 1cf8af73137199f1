// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package powerbox

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Connection states
const (
	statusInitial uint32 = iota
	statusConnecting
	statusConnected
	statusDisconnected
)

// ProtocolVersion is set on a handle once the ping handshake succeeds.
const ProtocolVersion = 1

// pingBudget reads exactly the 5 bytes of ">POK#".
const pingBudget = len(replyPong) + 1

// Client is a handle on one power box.
//
// A single mutex serializes the transport and the feature table, so a write
// that reclassifies a pwm port can never interleave with a status refresh.
// Operations on a handle that is not open fail fast with ErrNotConnected.
type Client struct {
	option    ClientOption
	transport Transport
	log       Logger

	connStatus uint32 // Uses statusInitial, statusConnecting, etc.

	mu      sync.Mutex
	refs    int // Open calls not yet matched by Close
	version int
	info    DeviceInfo
	table   *Table
}

// Snapshot is a copy of the feature table at one point in time.
type Snapshot struct {
	Device     DeviceInfo
	Features   []Feature
	InputPower float64
	Time       time.Time
}

// NewClient creates a new power box client. The link is opened by Open.
func NewClient(o *ClientOption) (*Client, error) {
	opt := *o
	if err := opt.config.valid(opt.transport == nil); err != nil {
		return nil, fmt.Errorf("powerbox: invalid config: %w", err)
	}
	t := opt.transport
	if t == nil {
		t = NewSerialTransport(opt.config.Serial)
	}
	return &Client{
		option:    opt,
		transport: t,
		log:       opt.logger,
	}, nil
}

func (sf *Client) setConnectStatus(status uint32) {
	atomic.StoreUint32(&sf.connStatus, status)
}

// IsConnected reports whether the handshake succeeded and the handle is open.
func (sf *Client) IsConnected() bool {
	return atomic.LoadUint32(&sf.connStatus) == statusConnected
}

// ProtocolVersion returns the negotiated protocol version, 0 before Open.
func (sf *Client) ProtocolVersion() int {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.version
}

// Open opens the transport and performs the ping handshake. Calling Open on
// an open handle only increments its reference count.
func (sf *Client) Open(ctx context.Context) error {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	if sf.refs > 0 {
		sf.refs++
		sf.log.Debug("power box already open", "port", sf.option.config.Serial.Address, "refs", sf.refs)
		return nil
	}

	sf.setConnectStatus(statusConnecting)
	if err := sf.transport.Open(); err != nil {
		sf.setConnectStatus(statusDisconnected)
		return err
	}
	if err := sf.handshake(ctx); err != nil {
		sf.log.Error("power box not detected", "port", sf.option.config.Serial.Address, "error", err)
		_ = sf.transport.Close()
		sf.setConnectStatus(statusDisconnected)
		return err
	}

	sf.refs = 1
	sf.version = ProtocolVersion
	sf.setConnectStatus(statusConnected)
	sf.log.Info("connected to power box", "port", sf.option.config.Serial.Address)
	return nil
}

// handshake pings the device until it answers ">POK#" or the attempts run out.
func (sf *Client) handshake(ctx context.Context) error {
	attempts := sf.option.config.HandshakeAttempts
	backoff := sf.option.config.HandshakeBackoff

	var lastErr error
	for attempt := 1; ; attempt++ {
		reply, err := sf.exchange(cmdPing, pingBudget)
		if err == nil && reply == replyPong {
			return nil
		}
		if err == nil {
			err = &ProtocolError{Op: "ping", Reply: reply, Err: ErrUnexpectedReply}
		}
		lastErr = err
		if attempt >= attempts {
			break
		}

		sf.log.Warn("power box not detected, retrying",
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)
		if backoff > 0 {
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrDeviceNotDetected, attempts, lastErr)
}

// Close releases one reference. The transport is closed and the feature
// table discarded when the last reference goes.
func (sf *Client) Close() error {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	if sf.refs == 0 {
		return ErrNotConnected
	}
	sf.refs--
	if sf.refs > 0 {
		return nil
	}

	sf.setConnectStatus(statusDisconnected)
	sf.table = nil
	sf.info = DeviceInfo{}
	sf.version = 0
	sf.log.Info("disconnected from power box", "port", sf.option.config.Serial.Address)
	return sf.transport.Close()
}

// lock acquires the handle for one operation on an open link.
// On success the caller must unlock sf.mu.
func (sf *Client) lock(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !sf.IsConnected() {
		return ErrNotConnected
	}
	sf.mu.Lock()
	if sf.refs == 0 {
		sf.mu.Unlock()
		return ErrNotConnected
	}
	return nil
}

// exchange sends cmd and returns the reply line.
func (sf *Client) exchange(cmd string, budget int) (string, error) {
	reply, err := sf.transport.SendAndReceive(cmd, budget)
	if err != nil {
		sf.log.Debug("command failed", "command", cmd, "error", err)
		return reply, err
	}
	sf.log.Debug("command", "command", cmd, "reply", reply)
	return reply, nil
}

// ensureTable builds the feature table on first use.
func (sf *Client) ensureTable() error {
	if sf.table != nil {
		return nil
	}
	return sf.rebuild()
}

// rebuild fetches the description and replaces the table. The previous
// table is kept if anything fails.
func (sf *Client) rebuild() error {
	reply, err := sf.exchange(cmdDescribe, sf.option.config.StatusBudget)
	if err != nil {
		return err
	}
	info, err := parseDescription(reply)
	if err != nil {
		return err
	}
	table, err := BuildTable(info.Signature)
	if err != nil {
		return err
	}
	sf.info = info
	sf.table = table
	sf.log.Info("feature table built",
		"device", info.Name,
		"revision", info.Revision,
		"signature", info.Signature,
		"features", table.Len(),
	)
	return nil
}

// Reload fetches the board description again and rebuilds the feature table.
func (sf *Client) Reload(ctx context.Context) error {
	if err := sf.lock(ctx); err != nil {
		return err
	}
	defer sf.mu.Unlock()
	return sf.rebuild()
}

// Describe returns a copy of the feature table, building it if needed.
func (sf *Client) Describe(ctx context.Context) ([]Feature, error) {
	if err := sf.lock(ctx); err != nil {
		return nil, err
	}
	defer sf.mu.Unlock()
	if err := sf.ensureTable(); err != nil {
		return nil, err
	}
	return sf.table.Features(), nil
}

// DeviceInfo returns the description of the device, building the table if needed.
func (sf *Client) DeviceInfo(ctx context.Context) (DeviceInfo, error) {
	if err := sf.lock(ctx); err != nil {
		return DeviceInfo{}, err
	}
	defer sf.mu.Unlock()
	if err := sf.ensureTable(); err != nil {
		return DeviceInfo{}, err
	}
	return sf.info, nil
}

// FeatureCount returns the number of features, building the table if needed.
func (sf *Client) FeatureCount(ctx context.Context) (int, error) {
	if err := sf.lock(ctx); err != nil {
		return 0, err
	}
	defer sf.mu.Unlock()
	if err := sf.ensureTable(); err != nil {
		return 0, err
	}
	return sf.table.Len(), nil
}

// Refresh requests the status line and applies it to the feature table.
// On error the table keeps its last good values.
func (sf *Client) Refresh(ctx context.Context) error {
	if err := sf.lock(ctx); err != nil {
		return err
	}
	defer sf.mu.Unlock()
	if err := sf.ensureTable(); err != nil {
		return err
	}
	reply, err := sf.exchange(cmdStatus, sf.option.config.StatusBudget)
	if err != nil {
		return err
	}
	return sf.table.ApplyStatus(reply)
}

// Read returns the cached value of the feature at index.
func (sf *Client) Read(index int) (float64, error) {
	f, err := sf.Feature(index)
	if err != nil {
		return 0, err
	}
	return f.Value, nil
}

// Feature returns a copy of the cached feature at index.
func (sf *Client) Feature(index int) (Feature, error) {
	if err := sf.lock(context.Background()); err != nil {
		return Feature{}, err
	}
	defer sf.mu.Unlock()
	if sf.table == nil {
		return Feature{}, ErrTableNotBuilt
	}
	return sf.table.Feature(index)
}

// Write sends value to the feature at index and records it once the device
// accepted the command. Boolean ports already in the requested state are
// not sent again.
func (sf *Client) Write(ctx context.Context, index int, value float64) error {
	if err := sf.lock(ctx); err != nil {
		return err
	}
	defer sf.mu.Unlock()
	if err := sf.ensureTable(); err != nil {
		return err
	}

	plan, err := sf.table.planWrite(index, value)
	if err != nil {
		return err
	}
	if plan.skip {
		sf.log.Debug("write skipped, port already in requested state", "index", index, "value", value)
		return nil
	}
	if _, err := sf.exchange(plan.cmd, sf.option.config.ReplyBudget); err != nil {
		return err
	}
	return sf.table.applyWrite(plan)
}

// QueryPWMConfig reads the mode and temperature offset of every pwm port.
// Modes are applied as transitions, so ports in on/off mode become switches.
func (sf *Client) QueryPWMConfig(ctx context.Context) error {
	if err := sf.lock(ctx); err != nil {
		return err
	}
	defer sf.mu.Unlock()
	if err := sf.ensureTable(); err != nil {
		return err
	}

	for i := 0; i < sf.table.Len(); i++ {
		f := sf.table.features[i]
		var cmd, tag string
		switch f.Kind {
		case KindPWMMode:
			cmd, tag = cmdGetMode(wirePort(f.Port)), tagMode
		case KindPWMOffset:
			cmd, tag = cmdGetOffset(wirePort(f.Port)), tagOffset
		default:
			continue
		}
		reply, err := sf.exchange(cmd, sf.option.config.ReplyBudget)
		if err != nil {
			return err
		}
		field, err := parsePortQuery(reply, tag, wirePort(f.Port))
		if err != nil {
			return &ProtocolError{Op: "query pwm", Reply: reply, Err: err}
		}
		v, err := parseNumber(field)
		if err != nil {
			return &ProtocolError{Op: "query pwm", Reply: reply, Err: err}
		}
		if err := sf.table.applyPWMQuery(i, v); err != nil {
			return &ProtocolError{Op: "query pwm", Reply: reply, Err: err}
		}
	}
	return nil
}

// QueryPortNames reads the name stored on the device for every physical port.
func (sf *Client) QueryPortNames(ctx context.Context) error {
	if err := sf.lock(ctx); err != nil {
		return err
	}
	defer sf.mu.Unlock()
	if err := sf.ensureTable(); err != nil {
		return err
	}

	for port := 1; port <= sf.table.sig.Ports; port++ {
		reply, err := sf.exchange(cmdGetName(wirePort(port)), sf.option.config.ReplyBudget)
		if err != nil {
			return err
		}
		name, err := parsePortQuery(reply, tagName, wirePort(port))
		if err != nil {
			return &ProtocolError{Op: "query name", Reply: reply, Err: err}
		}
		if name = strings.TrimSpace(name); name != "" {
			sf.table.setPortName(port, name)
		}
	}
	return nil
}

// RenamePort stores a new name for a 1-based physical port on the device.
// Nothing is sent when the name is unchanged, sparing the device EEPROM.
func (sf *Client) RenamePort(ctx context.Context, port int, name string) error {
	if err := validName(name); err != nil {
		return err
	}
	if err := sf.lock(ctx); err != nil {
		return err
	}
	defer sf.mu.Unlock()
	if err := sf.ensureTable(); err != nil {
		return err
	}

	index, err := sf.table.portIndex(port)
	if err != nil {
		return err
	}
	if sf.table.features[index].Name == name {
		return nil
	}
	reply, err := sf.exchange(cmdRename(wirePort(port), name), sf.option.config.ReplyBudget)
	if err != nil {
		return err
	}
	if reply != replyRenamed {
		return &ProtocolError{Op: "rename", Reply: reply, Err: ErrUnexpectedReply}
	}
	sf.table.setPortName(port, name)
	return nil
}

// SetPortLabel changes the local label of a port without touching the device.
func (sf *Client) SetPortLabel(port int, name string) error {
	if err := validName(name); err != nil {
		return err
	}
	if err := sf.lock(context.Background()); err != nil {
		return err
	}
	defer sf.mu.Unlock()
	if sf.table == nil {
		return ErrTableNotBuilt
	}
	if _, err := sf.table.portIndex(port); err != nil {
		return err
	}
	sf.table.setPortName(port, name)
	return nil
}

func validName(name string) error {
	if strings.TrimSpace(name) == "" || strings.ContainsAny(name, ">#:\r\n") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// InputPower returns input current times input voltage from the last refresh.
func (sf *Client) InputPower() (float64, error) {
	if err := sf.lock(context.Background()); err != nil {
		return 0, err
	}
	defer sf.mu.Unlock()
	if sf.table == nil {
		return 0, ErrTableNotBuilt
	}
	return sf.table.InputPower(), nil
}

// Snapshot returns a copy of the cached table.
func (sf *Client) Snapshot() (Snapshot, error) {
	if err := sf.lock(context.Background()); err != nil {
		return Snapshot{}, err
	}
	defer sf.mu.Unlock()
	if sf.table == nil {
		return Snapshot{}, ErrTableNotBuilt
	}
	return Snapshot{
		Device:     sf.info,
		Features:   sf.table.Features(),
		InputPower: sf.table.InputPower(),
		Time:       time.Now(),
	}, nil
}
