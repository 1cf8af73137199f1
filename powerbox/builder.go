// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package powerbox

import "fmt"

// LayoutVersion identifies the status line layout produced by BuildTable.
// It matches protocol version 1 negotiated by the ping handshake.
const LayoutVersion = 1

// DecodeRule selects how a status field is written into its feature.
type DecodeRule int

const (
	// DecodePort interprets the field using the port's current kind:
	// on/off for boolean ports, duty for pwm ports.
	DecodePort DecodeRule = iota
	// DecodeMeasurement stores the field as a sensor reading.
	DecodeMeasurement
)

// FieldRule maps one status field to one feature.
type FieldRule struct {
	Offset int // position after the ">S" tag
	Index  int // feature index
	Decode DecodeRule
}

// Layout describes the status line of one board signature.
type Layout struct {
	Version int
	Fields  []FieldRule
}

// Width is the number of status fields the layout consumes.
func (l Layout) Width() int { return len(l.Fields) }

// Sensor ranges.
const (
	CurrentMax     = 50
	InputMax       = 50
	TemperatureMin = -100
	TemperatureMax = 200
	HumidityMax    = 100
	ModeMax        = PWMModePID
	OffsetMax      = 10
)

type portSpec struct {
	kind     Kind
	writable bool
	max      float64
	name     string
	desc     string
}

var portSpecs = map[byte]portSpec{
	SigSwitch:      {KindSwitch, true, SwitchMax, "port %d", "Switched port %d"},
	SigMultiplexed: {KindMultiplexed, true, SwitchMax, "port %d", "Multiplexed port %d"},
	SigPWM:         {KindPWM, true, PWMMax, "PWM port %d", "PWM port %d"},
	SigAlwaysOn:    {KindAlwaysOn, false, SwitchMax, "port %d", "Always-on port %d"},
}

// BuildTable derives the feature table and status layout from a raw board
// signature. Unknown port characters are a ProtocolError.
func BuildTable(raw string) (*Table, error) {
	sig := ParseSignature(raw)
	for i := 0; i < len(sig.Pure); i++ {
		if _, ok := portSpecs[sig.Pure[i]]; !ok {
			return nil, &ProtocolError{
				Op:    "build",
				Reply: raw,
				Err:   fmt.Errorf("%w: %q at %d", ErrUnknownPortType, sig.Pure[i], i),
			}
		}
	}

	t := &Table{
		sig:      sig,
		features: make([]Feature, 0, sig.FeatureCount()),
		layout:   Layout{Version: LayoutVersion},
	}
	add := func(f Feature, rule *DecodeRule) {
		f.Index = len(t.features)
		t.features = append(t.features, f)
		if rule != nil {
			t.layout.Fields = append(t.layout.Fields, FieldRule{
				Offset: len(t.layout.Fields),
				Index:  f.Index,
				Decode: *rule,
			})
		}
	}
	portRule, measureRule := DecodePort, DecodeMeasurement

	// port controls
	for i := 0; i < sig.Ports; i++ {
		spec := portSpecs[sig.Pure[i]]
		add(Feature{
			Kind:        spec.kind,
			Writable:    spec.writable,
			Port:        i + 1,
			Min:         0,
			Max:         spec.max,
			Name:        fmt.Sprintf(spec.name, i+1),
			Description: fmt.Sprintf(spec.desc, i+1),
		}, &portRule)
	}
	// output currents
	for i := 0; i < sig.Ports; i++ {
		add(Feature{
			Kind:        KindOutputCurrent,
			Port:        i + 1,
			Max:         CurrentMax,
			Unit:        "A",
			Name:        fmt.Sprintf("port %d Amps", i+1),
			Description: fmt.Sprintf("Output current of port %d", i+1),
		}, &measureRule)
	}
	// input
	add(Feature{
		Kind:        KindInputCurrent,
		Port:        sig.Ports + 1,
		Max:         InputMax,
		Unit:        "A",
		Name:        "Input amps",
		Description: "Input current",
	}, &measureRule)
	add(Feature{
		Kind:        KindInputVoltage,
		Port:        sig.Ports + 2,
		Max:         InputMax,
		Unit:        "V",
		Name:        "Input volts",
		Description: "Input voltage",
	}, &measureRule)
	// pwm configuration, never part of the status line
	for i := 0; i < sig.Ports; i++ {
		if sig.Pure[i] != SigPWM {
			continue
		}
		add(Feature{
			Kind:        KindPWMMode,
			Writable:    true,
			Port:        i + 1,
			Max:         ModeMax,
			Name:        fmt.Sprintf("PWM Port %d Mode", i+1),
			Description: fmt.Sprintf("Mode of PWM port %d (0 variable, 1 on/off, 2 dew heater, 3 temperature PID)", i+1),
		}, nil)
		add(Feature{
			Kind:        KindPWMOffset,
			Writable:    true,
			Port:        i + 1,
			Max:         OffsetMax,
			Unit:        "°C",
			Name:        fmt.Sprintf("PWM Port %d Offset", i+1),
			Description: fmt.Sprintf("Temperature offset of PWM port %d", i+1),
		}, nil)
	}
	if sig.EnvSensor {
		add(Feature{
			Kind:        KindTemperature,
			Port:        sig.Ports + 3,
			Min:         TemperatureMin,
			Max:         TemperatureMax,
			Unit:        "°C",
			Name:        "Environment temperature",
			Description: "Environment temperature sensor",
		}, &measureRule)
		add(Feature{
			Kind:        KindHumidity,
			Port:        sig.Ports + 4,
			Max:         HumidityMax,
			Unit:        "%",
			Name:        "Environment humidity",
			Description: "Environment humidity sensor",
		}, &measureRule)
		add(Feature{
			Kind:        KindDewpoint,
			Port:        sig.Ports + 5,
			Min:         TemperatureMin,
			Max:         TemperatureMax,
			Unit:        "°C",
			Name:        "Environment dewpoint",
			Description: "Environment dewpoint",
		}, &measureRule)
	}
	for n := 1; n <= sig.Sensors; n++ {
		add(Feature{
			Kind:        KindTemperature,
			Port:        n,
			Min:         TemperatureMin,
			Max:         TemperatureMax,
			Unit:        "°C",
			Name:        fmt.Sprintf("Temperature %d", n),
			Description: fmt.Sprintf("Temperature sensor for PWM port %d", n),
		}, &measureRule)
	}
	return t, nil
}

// DeviceInfo is the parsed description reply.
type DeviceInfo struct {
	Name      string
	Revision  string
	Signature string
}

// parseDescription decodes ">D:<name>:<hwrev>:<signature>#".
func parseDescription(reply string) (DeviceInfo, error) {
	words, err := splitReply(reply, tagDescription)
	if err != nil {
		return DeviceInfo{}, &ProtocolError{Op: "describe", Reply: reply, Err: err}
	}
	if len(words) < 3 {
		return DeviceInfo{}, &ProtocolError{Op: "describe", Reply: reply, Err: ErrShortReply}
	}
	return DeviceInfo{Name: words[0], Revision: words[1], Signature: words[2]}, nil
}
