// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package powerbox

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
)

// fakeTransport answers commands through respond and records what was sent.
type fakeTransport struct {
	mu      sync.Mutex
	respond func(cmd string) (string, error)
	sent    []string
	opens   int
	closes  int
	openErr error
}

func (f *fakeTransport) Open() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	return f.openErr
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeTransport) Send(cmd string) error {
	_, err := f.SendAndReceive(cmd, 0)
	return err
}

func (f *fakeTransport) SendAndReceive(cmd string, _ int) (string, error) {
	f.mu.Lock()
	f.sent = append(f.sent, cmd)
	respond := f.respond
	f.mu.Unlock()
	return respond(cmd)
}

func (f *fakeTransport) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeTransport) lastSent() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeTransport) count(cmd string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.sent {
		if s == cmd {
			n++
		}
	}
	return n
}

// fakeDevice emulates the appliance firmware for one board signature.
type fakeDevice struct {
	mu        sync.Mutex
	signature string
	status    string
	modes     map[int]int
	offsets   map[int]int
	names     map[int]string
	fail      map[string]error
}

func newFakeDevice(signature, status string) *fakeDevice {
	return &fakeDevice{
		signature: signature,
		status:    status,
		modes:     map[int]int{},
		offsets:   map[int]int{},
		names:     map[int]string{},
		fail:      map[string]error{},
	}
}

func (d *fakeDevice) failOn(cmd string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail[cmd] = err
}

func (d *fakeDevice) respond(cmd string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err, ok := d.fail[cmd]; ok {
		return "", err
	}

	var port, value int
	var name string
	switch {
	case cmd == cmdPing:
		return replyPong, nil
	case cmd == cmdDescribe:
		return fmt.Sprintf(">D:PBEX:2:%s#", d.signature), nil
	case cmd == cmdStatus:
		return d.status, nil
	case scan(cmd, ">G:%d#", &port):
		return fmt.Sprintf(">G:%02d:%d#", port, d.modes[port]), nil
	case scan(cmd, ">H:%d#", &port):
		return fmt.Sprintf(">H:%02d:%d#", port, d.offsets[port]), nil
	case scan(cmd, ">N:%d#", &port):
		return fmt.Sprintf(">N:%02d:%s#", port, d.names[port]), nil
	case strings.HasPrefix(cmd, ">M:") && scan(cmd, ">M:%d:%s", &port, &name):
		d.names[port] = strings.TrimSuffix(name, "#")
		return replyRenamed, nil
	case scan(cmd, ">C:%d:%d#", &port, &value):
		d.modes[port] = value
	}
	return cmd, nil
}

func scan(cmd, format string, args ...any) bool {
	n, err := fmt.Sscanf(cmd, format, args...)
	return err == nil && n == len(args)
}

func newTestClient(t *testing.T, ft *fakeTransport) *Client {
	t.Helper()
	opt := NewOption().
		SetSerialConfig(SerialConfig{Address: "/dev/ttyTEST"}).
		SetHandshake(3, -1).
		SetTransport(ft)
	c, err := NewClient(opt)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return c
}

// openDevice returns an open client wired to a fake device.
func openDevice(t *testing.T, signature, status string) (*Client, *fakeTransport, *fakeDevice) {
	t.Helper()
	dev := newFakeDevice(signature, status)
	ft := &fakeTransport{respond: dev.respond}
	c := newTestClient(t, ft)
	if err := c.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, ft, dev
}

// =============================================================================
// Connection
// =============================================================================

func TestOpenRetriesHandshake(t *testing.T) {
	pings := 0
	ft := &fakeTransport{respond: func(cmd string) (string, error) {
		if cmd != cmdPing {
			return "", nil
		}
		pings++
		if pings < 3 {
			return "", &TransportError{Op: "read", Cmd: cmd, Err: ErrNoResponse}
		}
		return replyPong, nil
	}}
	c := newTestClient(t, ft)

	if err := c.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if pings != 3 {
		t.Errorf("pings = %d, want 3", pings)
	}
	if !c.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
	if v := c.ProtocolVersion(); v != ProtocolVersion {
		t.Errorf("ProtocolVersion() = %d, want %d", v, ProtocolVersion)
	}
}

func TestOpenGivesUpAfterThreeAttempts(t *testing.T) {
	ft := &fakeTransport{respond: func(string) (string, error) {
		return ">PERR#", nil
	}}
	c := newTestClient(t, ft)

	err := c.Open(context.Background())
	if !errors.Is(err, ErrDeviceNotDetected) {
		t.Fatalf("Open() error = %v, want ErrDeviceNotDetected", err)
	}
	if n := ft.count(cmdPing); n != 3 {
		t.Errorf("pings = %d, want 3", n)
	}
	if ft.closes != 1 {
		t.Errorf("transport closes = %d, want 1", ft.closes)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after failed handshake")
	}
	if err := c.Refresh(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Refresh() error = %v, want ErrNotConnected", err)
	}
}

func TestOpenTransportFailure(t *testing.T) {
	ft := &fakeTransport{
		openErr: &TransportError{Op: "open", Err: ErrPortClosed},
		respond: func(string) (string, error) { return replyPong, nil },
	}
	c := newTestClient(t, ft)

	if err := c.Open(context.Background()); !errors.Is(err, ErrTransport) {
		t.Fatalf("Open() error = %v, want ErrTransport", err)
	}
	if ft.sendCount() != 0 {
		t.Errorf("sent %d commands on a port that did not open", ft.sendCount())
	}
}

func TestOpenIsReferenceCounted(t *testing.T) {
	dev := newFakeDevice("sp", "")
	ft := &fakeTransport{respond: dev.respond}
	c := newTestClient(t, ft)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := c.Open(ctx); err != nil {
			t.Fatalf("Open() #%d error = %v", i+1, err)
		}
	}
	if ft.opens != 1 || ft.count(cmdPing) != 1 {
		t.Errorf("opens = %d, pings = %d, want 1, 1", ft.opens, ft.count(cmdPing))
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !c.IsConnected() || ft.closes != 0 {
		t.Error("first Close() tore down a handle still referenced")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if c.IsConnected() || ft.closes != 1 {
		t.Errorf("IsConnected() = %v, closes = %d after last Close()", c.IsConnected(), ft.closes)
	}
	if err := c.Close(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("extra Close() error = %v, want ErrNotConnected", err)
	}
}

func TestOperationsRequireOpenHandle(t *testing.T) {
	ft := &fakeTransport{respond: func(string) (string, error) { return replyPong, nil }}
	c := newTestClient(t, ft)
	ctx := context.Background()

	checks := map[string]error{
		"Refresh":      c.Refresh(ctx),
		"Write":        c.Write(ctx, 0, 1),
		"QueryPWM":     c.QueryPWMConfig(ctx),
		"QueryNames":   c.QueryPortNames(ctx),
		"RenamePort":   c.RenamePort(ctx, 1, "x"),
		"SetPortLabel": c.SetPortLabel(1, "x"),
	}
	_, checks["Read"] = c.Read(0)
	_, checks["Describe"] = c.Describe(ctx)
	_, checks["FeatureCount"] = c.FeatureCount(ctx)

	for name, err := range checks {
		if !errors.Is(err, ErrNotConnected) {
			t.Errorf("%s() error = %v, want ErrNotConnected", name, err)
		}
	}
	if ft.sendCount() != 0 {
		t.Errorf("sent %d commands on a closed handle", ft.sendCount())
	}
}

// =============================================================================
// Describe and refresh
// =============================================================================

func TestDescribeBuildsOnce(t *testing.T) {
	c, ft, _ := openDevice(t, "mmmmmmmmppppaa", "")
	ctx := context.Background()

	n, err := c.FeatureCount(ctx)
	if err != nil {
		t.Fatalf("FeatureCount() error = %v", err)
	}
	if n != 38 {
		t.Errorf("FeatureCount() = %d, want 38", n)
	}
	if _, err := c.Describe(ctx); err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	if got := ft.count(cmdDescribe); got != 1 {
		t.Errorf("description requests = %d, want 1", got)
	}

	info, err := c.DeviceInfo(ctx)
	if err != nil {
		t.Fatalf("DeviceInfo() error = %v", err)
	}
	if info.Name != "PBEX" || info.Signature != "mmmmmmmmppppaa" {
		t.Errorf("DeviceInfo() = %+v", info)
	}
}

func TestReloadFailureKeepsTable(t *testing.T) {
	c, _, dev := openDevice(t, "sp", "")
	ctx := context.Background()

	before, err := c.Describe(ctx)
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}

	dev.failOn(cmdDescribe, &TransportError{Op: "read", Cmd: cmdDescribe, Err: ErrNoResponse})
	if err := c.Reload(ctx); !errors.Is(err, ErrTransport) {
		t.Errorf("Reload() error = %v, want ErrTransport", err)
	}

	dev.mu.Lock()
	delete(dev.fail, cmdDescribe)
	dev.signature = "sxp"
	dev.mu.Unlock()
	if err := c.Reload(ctx); !errors.Is(err, ErrUnknownPortType) {
		t.Errorf("Reload() error = %v, want ErrUnknownPortType", err)
	}

	after, err := c.Describe(ctx)
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	if !reflect.DeepEqual(before, after) {
		t.Error("failed reload replaced the feature table")
	}
}

func TestRefresh(t *testing.T) {
	c, ft, _ := openDevice(t, "spf", ">S:1:64:0.5:1.25:2.0:12.0:18.5:55:9.4#")
	ctx := context.Background()

	if err := c.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if ft.count(cmdDescribe) != 1 || ft.count(cmdStatus) != 1 {
		t.Errorf("sent = %v", ft.sent)
	}

	want := map[int]float64{0: 1, 1: 64, 2: 0.5, 3: 1.25, 4: 2.0, 5: 12.0, 8: 18.5, 9: 55, 10: 9.4}
	for index, v := range want {
		got, err := c.Read(index)
		if err != nil {
			t.Fatalf("Read(%d) error = %v", index, err)
		}
		if got != v {
			t.Errorf("Read(%d) = %v, want %v", index, got, v)
		}
	}

	power, err := c.InputPower()
	if err != nil {
		t.Fatalf("InputPower() error = %v", err)
	}
	if power != 24.0 {
		t.Errorf("InputPower() = %v, want 24", power)
	}

	if _, err := c.Read(99); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("Read(99) error = %v, want ErrIndexOutOfRange", err)
	}
}

func TestRefreshShortReplyKeepsValues(t *testing.T) {
	c, _, dev := openDevice(t, "sp", ">S:1:200:0.5:0.7:1.2:12.1#")
	ctx := context.Background()

	if err := c.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	before, _ := c.Describe(ctx)

	dev.mu.Lock()
	dev.status = ">S:0:0:0:0:0#"
	dev.mu.Unlock()
	err := c.Refresh(ctx)
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("Refresh() error = %v, want ErrProtocol", err)
	}

	after, _ := c.Describe(ctx)
	if !reflect.DeepEqual(before, after) {
		t.Error("feature values changed after a short status reply")
	}
}

// =============================================================================
// Writes
// =============================================================================

func TestWriteReadOnlyFeature(t *testing.T) {
	c, ft, _ := openDevice(t, "sapf", "")
	ctx := context.Background()
	if _, err := c.Describe(ctx); err != nil {
		t.Fatalf("Describe() error = %v", err)
	}

	// always-on port, current sensors, inputs, ambient sensor
	for _, index := range []int{1, 3, 4, 5, 6, 7, 10, 11, 12} {
		sent := ft.sendCount()
		if err := c.Write(ctx, index, 1); !errors.Is(err, ErrNotWritable) {
			t.Errorf("Write(%d) error = %v, want ErrNotWritable", index, err)
		}
		if ft.sendCount() != sent {
			t.Errorf("Write(%d) sent a command", index)
		}
	}

	if err := c.Write(ctx, 42, 1); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("Write(42) error = %v, want ErrIndexOutOfRange", err)
	}
}

func TestWriteCommands(t *testing.T) {
	// 0 s, 1 m, 2 p, 3..5 currents, 6..7 inputs, 8 mode, 9 offset
	tests := []struct {
		name  string
		index int
		value float64
		want  string
	}{
		{"switch on", 0, 1, ">O:00#"},
		{"multiplexed on", 1, 1, ">O:01#"},
		{"switch on with a fractional value", 0, 0.5, ">O:00#"},
		{"pwm duty", 2, 128, ">W:02:128#"},
		{"pwm duty clamped high", 2, 300, ">W:02:255#"},
		{"pwm zero is an explicit duty", 2, 0, ">W:02:0#"},
		{"pwm negative clamped", 2, -5, ">W:02:0#"},
		{"set mode", 8, 2, ">C:02:2#"},
		{"set mode non-positive", 8, -1, ">C:02:0#"},
		{"set offset", 9, 4, ">T:02:4#"},
		{"set offset zero", 9, 0, ">T:02:0#"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ft, _ := openDevice(t, "smp", "")
			if err := c.Write(context.Background(), tt.index, tt.value); err != nil {
				t.Fatalf("Write() error = %v", err)
			}
			if got := ft.lastSent(); got != tt.want {
				t.Errorf("command = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWriteBooleanPort(t *testing.T) {
	c, ft, _ := openDevice(t, "s", "")
	ctx := context.Background()
	if _, err := c.Describe(ctx); err != nil {
		t.Fatalf("Describe() error = %v", err)
	}

	sent := ft.sendCount()
	if err := c.Write(ctx, 0, 0); err != nil {
		t.Fatalf("Write(off) error = %v", err)
	}
	if ft.sendCount() != sent {
		t.Error("turning off a port that is already off sent a command")
	}

	if err := c.Write(ctx, 0, 1); err != nil {
		t.Fatalf("Write(on) error = %v", err)
	}
	f, _ := c.Feature(0)
	if !f.State || f.Value != SwitchMax {
		t.Errorf("port = (%v, %v), want (1, on)", f.Value, f.State)
	}

	if err := c.Write(ctx, 0, 0); err != nil {
		t.Fatalf("Write(off) error = %v", err)
	}
	if got := ft.lastSent(); got != ">F:00#" {
		t.Errorf("command = %q, want >F:00#", got)
	}
}

func TestWriteOutOfRange(t *testing.T) {
	// 0 s, 1 p, 2..3 currents, 4..5 inputs, 6 mode, 7 offset
	c, ft, _ := openDevice(t, "sp", "")
	ctx := context.Background()
	if _, err := c.Describe(ctx); err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	sent := ft.sendCount()

	tests := []struct {
		name  string
		index int
		value float64
	}{
		{"switch above max", 0, 42},
		{"switch below min", 0, -7},
		{"mode above max", 6, 4},
		{"offset above max", 7, 11},
	}
	for _, tt := range tests {
		if err := c.Write(ctx, tt.index, tt.value); !errors.Is(err, ErrValueOutOfRange) {
			t.Errorf("%s: Write(%d, %v) error = %v, want ErrValueOutOfRange", tt.name, tt.index, tt.value, err)
		}
	}
	if ft.sendCount() != sent {
		t.Errorf("out of range writes sent %v", ft.sent[sent:])
	}
	f, _ := c.Feature(0)
	if f.State || f.Value != 0 {
		t.Errorf("switch = (%v, %v) after rejected writes, want (0, off)", f.Value, f.State)
	}
}

func TestWriteTransportFailureKeepsTable(t *testing.T) {
	c, _, dev := openDevice(t, "sp", "")
	ctx := context.Background()
	before, err := c.Describe(ctx)
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}

	dev.failOn(">O:00#", &TransportError{Op: "read", Cmd: ">O:00#", Err: ErrConnectionReset})
	dev.failOn(">C:01:1#", &TransportError{Op: "read", Cmd: ">C:01:1#", Err: ErrNoResponse})

	if err := c.Write(ctx, 0, 1); !errors.Is(err, ErrTransport) {
		t.Errorf("Write(port) error = %v, want ErrTransport", err)
	}
	if err := c.Write(ctx, 6, PWMModeOnOff); !errors.Is(err, ErrTransport) {
		t.Errorf("Write(mode) error = %v, want ErrTransport", err)
	}

	after, _ := c.Describe(ctx)
	if !reflect.DeepEqual(before, after) {
		t.Error("failed writes changed the feature table")
	}
}

func TestWriteModeReclassifiesBackingPort(t *testing.T) {
	// 0 s, 1 p, 2 p, 3..5 currents, 6..7 inputs, 8/9 port 2 mode/offset, 10/11 port 3 mode/offset
	c, _, _ := openDevice(t, "spp", "")
	ctx := context.Background()
	before, err := c.Describe(ctx)
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}

	if err := c.Write(ctx, 8, PWMModeOnOff); err != nil {
		t.Fatalf("Write(mode 1) error = %v", err)
	}
	onOff, _ := c.Describe(ctx)
	if onOff[1].Kind != KindSwitch || onOff[1].Max != SwitchMax {
		t.Errorf("port 2 = %s max %v, want switch max 1", onOff[1].Kind, onOff[1].Max)
	}
	if onOff[8].Value != PWMModeOnOff {
		t.Errorf("mode value = %v, want 1", onOff[8].Value)
	}
	for i := range before {
		if i == 1 || i == 8 {
			continue
		}
		if !reflect.DeepEqual(before[i], onOff[i]) {
			t.Errorf("feature %d changed: %+v -> %+v", i, before[i], onOff[i])
		}
	}

	// the reclassified port now takes on/off commands
	if err := c.Write(ctx, 1, 1); err != nil {
		t.Fatalf("Write(port 2) error = %v", err)
	}

	if err := c.Write(ctx, 8, PWMModeVariable); err != nil {
		t.Fatalf("Write(mode 0) error = %v", err)
	}
	restored, _ := c.Describe(ctx)
	if restored[1].Kind != KindPWM || restored[1].Max != PWMMax {
		t.Errorf("port 2 = %s max %v, want pwm max 255", restored[1].Kind, restored[1].Max)
	}
	if restored[2].Kind != KindPWM {
		t.Errorf("port 3 kind = %s, want pwm", restored[2].Kind)
	}
}

// =============================================================================
// PWM configuration and names
// =============================================================================

func TestQueryPWMConfig(t *testing.T) {
	c, ft, dev := openDevice(t, "pp", "")
	dev.modes[0] = PWMModeOnOff
	dev.modes[1] = PWMModeDew
	dev.offsets[1] = 3

	if err := c.QueryPWMConfig(context.Background()); err != nil {
		t.Fatalf("QueryPWMConfig() error = %v", err)
	}
	for _, cmd := range []string{">G:00#", ">H:00#", ">G:01#", ">H:01#"} {
		if ft.count(cmd) != 1 {
			t.Errorf("%s sent %d times, want 1", cmd, ft.count(cmd))
		}
	}

	// 0,1 ports, 2,3 currents, 4,5 inputs, 6/7 port 1, 8/9 port 2
	features, _ := c.Describe(context.Background())
	if features[0].Kind != KindSwitch {
		t.Errorf("port 1 kind = %s, want switch", features[0].Kind)
	}
	if features[1].Kind != KindPWM {
		t.Errorf("port 2 kind = %s, want pwm", features[1].Kind)
	}
	if features[6].Value != PWMModeOnOff || features[8].Value != PWMModeDew || features[9].Value != 3 {
		t.Errorf("modes/offsets = %v %v %v", features[6].Value, features[8].Value, features[9].Value)
	}
}

func TestQueryPWMConfigBadReply(t *testing.T) {
	c, _, dev := openDevice(t, "p", "")
	dev.modes[0] = 9

	err := c.QueryPWMConfig(context.Background())
	if !errors.Is(err, ErrProtocol) || !errors.Is(err, ErrValueOutOfRange) {
		t.Errorf("QueryPWMConfig() error = %v, want ErrProtocol/ErrValueOutOfRange", err)
	}
}

func TestPortNames(t *testing.T) {
	c, ft, dev := openDevice(t, "ss", "")
	ctx := context.Background()
	dev.names[0] = "Mount"
	dev.names[1] = "Camera"

	if err := c.QueryPortNames(ctx); err != nil {
		t.Fatalf("QueryPortNames() error = %v", err)
	}
	features, _ := c.Describe(ctx)
	if features[0].Name != "Mount" || features[2].Name != "Mount Current (A)" {
		t.Errorf("names = %q, %q", features[0].Name, features[2].Name)
	}

	if err := c.RenamePort(ctx, 2, "Focuser"); err != nil {
		t.Fatalf("RenamePort() error = %v", err)
	}
	if got := ft.lastSent(); got != ">M:01:Focuser#" {
		t.Errorf("command = %q, want >M:01:Focuser#", got)
	}
	if dev.names[1] != "Focuser" {
		t.Errorf("device name = %q, want Focuser", dev.names[1])
	}

	sent := ft.sendCount()
	if err := c.RenamePort(ctx, 2, "Focuser"); err != nil {
		t.Fatalf("RenamePort() error = %v", err)
	}
	if ft.sendCount() != sent {
		t.Error("rename to the current name sent a command")
	}

	features, _ = c.Describe(ctx)
	if features[1].Name != "Focuser" || features[3].Name != "Focuser Current (A)" {
		t.Errorf("names = %q, %q", features[1].Name, features[3].Name)
	}
}

func TestPortNamesRelabelPWMSelectors(t *testing.T) {
	// 0 s, 1 p, 2..3 currents, 4..5 inputs, 6 mode, 7 offset
	c, _, dev := openDevice(t, "sp", "")
	ctx := context.Background()
	dev.names[1] = "Dew Heater"

	if err := c.QueryPortNames(ctx); err != nil {
		t.Fatalf("QueryPortNames() error = %v", err)
	}
	features, _ := c.Describe(ctx)
	if features[6].Name != "Dew Heater Mode" || features[7].Name != "Dew Heater Temperature Offset" {
		t.Errorf("selector names = %q, %q", features[6].Name, features[7].Name)
	}

	if err := c.RenamePort(ctx, 2, "Guide Heater"); err != nil {
		t.Fatalf("RenamePort() error = %v", err)
	}
	features, _ = c.Describe(ctx)
	if features[6].Name != "Guide Heater Mode" || features[7].Name != "Guide Heater Temperature Offset" {
		t.Errorf("selector names after rename = %q, %q", features[6].Name, features[7].Name)
	}
	if features[0].Name == "Guide Heater" {
		t.Error("rename of port 2 relabelled port 1")
	}
}

func TestRenamePortErrors(t *testing.T) {
	c, _, dev := openDevice(t, "ss", "")
	ctx := context.Background()

	for _, name := range []string{"", "  ", "a:b", "x#", ">y"} {
		if err := c.RenamePort(ctx, 1, name); !errors.Is(err, ErrInvalidName) {
			t.Errorf("RenamePort(%q) error = %v, want ErrInvalidName", name, err)
		}
	}
	if err := c.RenamePort(ctx, 3, "Dew"); !errors.Is(err, ErrNotPort) {
		t.Errorf("RenamePort(3) error = %v, want ErrNotPort", err)
	}

	dev.failOn(">M:00:Dew#", nil)
	if err := c.RenamePort(ctx, 1, "Dew"); !errors.Is(err, ErrUnexpectedReply) {
		t.Errorf("RenamePort() error = %v, want ErrUnexpectedReply", err)
	}
}

func TestSnapshot(t *testing.T) {
	c, _, _ := openDevice(t, "s", ">S:1:0.4:1.0:12.0#")
	ctx := context.Background()

	if _, err := c.Snapshot(); !errors.Is(err, ErrTableNotBuilt) {
		t.Errorf("Snapshot() before build error = %v, want ErrTableNotBuilt", err)
	}
	if err := c.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	snap, err := c.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if len(snap.Features) != 4 || snap.InputPower != 12.0 || snap.Device.Signature != "s" {
		t.Errorf("Snapshot() = %+v", snap)
	}
}

// =============================================================================
// Concurrency
// =============================================================================

func TestConcurrentRefreshAndWrite(t *testing.T) {
	// 0 s, 1 p, 2 p, 3..5 currents, 6..7 inputs, 8/9 port 2 mode/offset, 10/11 port 3 mode/offset
	c, _, _ := openDevice(t, "spp", ">S:1:100:50:0.1:0.2:0.3:1.0:12.0#")
	ctx := context.Background()
	if err := c.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	const rounds = 50
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			if err := c.Refresh(ctx); err != nil {
				t.Errorf("Refresh() error = %v", err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			mode := PWMModeVariable
			if i%2 == 0 {
				mode = PWMModeOnOff
			}
			if err := c.Write(ctx, 8, float64(mode)); err != nil {
				t.Errorf("Write(mode %d) error = %v", mode, err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			snap, err := c.Snapshot()
			if err != nil {
				t.Errorf("Snapshot() error = %v", err)
				return
			}
			port := snap.Features[1]
			switch {
			case port.Kind == KindSwitch && port.Max != SwitchMax,
				port.Kind == KindPWM && port.Max != PWMMax:
				t.Errorf("port 2 torn: kind %s max %v", port.Kind, port.Max)
				return
			}
		}
	}()
	wg.Wait()

	// the last mode written was 0 (variable), so port 2 is pwm again
	f, err := c.Feature(1)
	if err != nil {
		t.Fatal(err)
	}
	if f.Kind != KindPWM || f.Max != PWMMax {
		t.Errorf("port 2 = %s max %v, want pwm max 255", f.Kind, f.Max)
	}
}

func TestNewClientWithTransportNeedsNoAddress(t *testing.T) {
	if _, err := NewClient(NewOption()); err == nil {
		t.Error("NewClient() without address or transport expected error")
	}
	dev := newFakeDevice("s", "")
	c, err := NewClient(NewOption().SetTransport(&fakeTransport{respond: dev.respond}).SetHandshake(1, -1))
	if err != nil {
		t.Fatalf("NewClient() with transport error = %v", err)
	}
	if err := c.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	_ = c.Close()
}
