// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package powerbox

import "fmt"

// Kind is the type of a feature.
type Kind int

// Feature kinds.
const (
	KindSwitch        Kind = iota // switched port
	KindMultiplexed               // multiplexed switched port
	KindPWM                       // pwm port
	KindAlwaysOn                  // always-on port
	KindOutputCurrent             // per-port output current sensor
	KindInputCurrent              // input current sensor
	KindInputVoltage              // input voltage sensor
	KindTemperature               // temperature sensor
	KindHumidity                  // humidity sensor
	KindDewpoint                  // dewpoint sensor
	KindPWMMode                   // pwm port mode selector
	KindPWMOffset                 // pwm port temperature offset selector
)

var kindNames = [...]string{
	KindSwitch:        "switch",
	KindMultiplexed:   "multiplexed",
	KindPWM:           "pwm",
	KindAlwaysOn:      "always-on",
	KindOutputCurrent: "output-current",
	KindInputCurrent:  "input-current",
	KindInputVoltage:  "input-voltage",
	KindTemperature:   "temperature",
	KindHumidity:      "humidity",
	KindDewpoint:      "dewpoint",
	KindPWMMode:       "pwm-mode",
	KindPWMOffset:     "pwm-offset",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// IsPort reports whether k is a physical port control.
func (k Kind) IsPort() bool {
	return k <= KindAlwaysOn
}

// IsBoolean reports whether a port of kind k is driven on/off.
func (k Kind) IsBoolean() bool {
	return k == KindSwitch || k == KindMultiplexed || k == KindAlwaysOn
}

// IsSensor reports whether k is a read-only measurement.
func (k Kind) IsSensor() bool {
	return k >= KindOutputCurrent && k <= KindDewpoint
}

// PWM port operating modes, as selected by a KindPWMMode feature.
const (
	PWMModeVariable = 0 // duty set by the host
	PWMModeOnOff    = 1 // port behaves as a plain switch
	PWMModeDew      = 2 // automatic dew heater
	PWMModePID      = 3 // temperature PID
)

// Port value ranges.
const (
	SwitchMax = 1
	PWMMax    = 255
)

// Feature is one addressable control or sensor.
type Feature struct {
	Index       int
	Kind        Kind
	Writable    bool
	Port        int // 1-based backing port
	Value       float64
	State       bool // on/off for ports, present for sensors
	Min         float64
	Max         float64
	Unit        string
	Name        string
	Description string
}

// Table is the ordered feature model of one appliance.
type Table struct {
	sig      Signature
	features []Feature
	layout   Layout
}

// Signature returns the parsed board signature the table was built from.
func (t *Table) Signature() Signature { return t.sig }

// Len returns the number of features.
func (t *Table) Len() int { return len(t.features) }

// Feature returns a copy of the feature at index.
func (t *Table) Feature(index int) (Feature, error) {
	if index < 0 || index >= len(t.features) {
		return Feature{}, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, index, len(t.features))
	}
	return t.features[index], nil
}

// Features returns a copy of all features.
func (t *Table) Features() []Feature {
	out := make([]Feature, len(t.features))
	copy(out, t.features)
	return out
}

// Layout returns the status field layout of the table.
func (t *Table) Layout() Layout { return t.layout }

// ApplyModeTransition sets the mode selector at modeIndex to mode and
// reclassifies its backing port: PWMModeOnOff makes it a switch with max 1,
// any other mode makes it a pwm port with max 255. Both entries change together.
func (t *Table) ApplyModeTransition(modeIndex int, mode int) error {
	sel, err := t.Feature(modeIndex)
	if err != nil {
		return err
	}
	if sel.Kind != KindPWMMode {
		return fmt.Errorf("powerbox: feature %d is %s, not a pwm mode selector", modeIndex, sel.Kind)
	}
	if mode < int(sel.Min) || mode > int(sel.Max) {
		return fmt.Errorf("%w: mode %d", ErrValueOutOfRange, mode)
	}
	backing := sel.Port - 1
	if backing < 0 || backing >= t.sig.Ports || t.sig.Pure[backing] != SigPWM {
		return fmt.Errorf("powerbox: mode selector %d has no pwm backing port", modeIndex)
	}

	p := &t.features[backing]
	if mode == PWMModeOnOff {
		p.Kind = KindSwitch
		p.Max = SwitchMax
	} else {
		p.Kind = KindPWM
		p.Max = PWMMax
	}
	if p.Value > p.Max {
		p.Value = p.Max
	}
	t.features[modeIndex].Value = float64(mode)
	return nil
}

// InputPower returns input current times input voltage in watts.
func (t *Table) InputPower() float64 {
	i := t.sig.Ports * 2
	if i+1 >= len(t.features) {
		return 0
	}
	return t.features[i].Value * t.features[i+1].Value
}

// portIndex returns the feature index of a 1-based physical port.
func (t *Table) portIndex(port int) (int, error) {
	if port < 1 || port > t.sig.Ports {
		return 0, fmt.Errorf("%w: port %d", ErrNotPort, port)
	}
	return port - 1, nil
}

// setPortName labels a port, its current sensor and its pwm selectors.
func (t *Table) setPortName(port int, name string) {
	i := port - 1
	t.features[i].Name = name
	t.features[i+t.sig.Ports].Name = name + " Current (A)"
	for j := range t.features {
		f := &t.features[j]
		if f.Port != port {
			continue
		}
		switch f.Kind {
		case KindPWMMode:
			f.Name = name + " Mode"
		case KindPWMOffset:
			f.Name = name + " Temperature Offset"
		}
	}
}
