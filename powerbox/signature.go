// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package powerbox

import "strings"

// Board signature alphabet.
const (
	SigSwitch      byte = 's' // switched port
	SigMultiplexed byte = 'm' // multiplexed switched port
	SigPWM         byte = 'p' // pwm (dew heater) port
	SigAlwaysOn    byte = 'a' // always-on port
	SigSensor      byte = 't' // discrete temperature sensor
	SigEnvSensor   byte = 'f' // combined temperature, humidity and dewpoint sensor
)

// Status fields contributed by each sensor marker.
const (
	sensorSlots    = 1
	envSensorSlots = 3
)

func isSensorMarker(c byte) bool {
	return c == SigSensor || c == SigEnvSensor
}

// StripSensorMarkers removes sensor markers from a raw board signature and
// returns the port-type string and the physical port count.
func StripSensorMarkers(raw string) (string, int) {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		if !isSensorMarker(raw[i]) {
			sb.WriteByte(raw[i])
		}
	}
	pure := sb.String()
	return pure, len(pure)
}

// CountPWMPorts counts pwm ports in a pure signature.
func CountPWMPorts(pure string) int {
	return strings.Count(pure, string(SigPWM))
}

// CountSensorSlots counts the status fields contributed by sensor markers.
func CountSensorSlots(raw string) int {
	return strings.Count(raw, string(SigSensor))*sensorSlots + envSensorSlots*boolToInt(HasEnvSensor(raw))
}

// HasEnvSensor reports whether a combined sensor is attached.
func HasEnvSensor(raw string) bool {
	return strings.IndexByte(raw, SigEnvSensor) >= 0
}

// CountSensors counts discrete temperature sensors.
func CountSensors(raw string) int {
	return strings.Count(raw, string(SigSensor))
}

// Signature is a parsed board signature.
type Signature struct {
	Raw       string
	Pure      string
	Ports     int
	PWMPorts  int
	Sensors   int
	EnvSensor bool
}

// ParseSignature splits a raw board signature into its port and sensor parts.
func ParseSignature(raw string) Signature {
	pure, ports := StripSensorMarkers(raw)
	return Signature{
		Raw:       raw,
		Pure:      pure,
		Ports:     ports,
		PWMPorts:  CountPWMPorts(pure),
		Sensors:   CountSensors(raw),
		EnvSensor: HasEnvSensor(raw),
	}
}

// SensorSlots is CountSensorSlots of the raw signature.
func (s Signature) SensorSlots() int {
	return s.Sensors*sensorSlots + envSensorSlots*boolToInt(s.EnvSensor)
}

// FeatureCount is the size of the feature table built from s.
func (s Signature) FeatureCount() int {
	return s.Ports*2 + 2 + 2*s.PWMPorts + s.SensorSlots()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
