// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package powerbox

import (
	"fmt"
	"math"
)

// writePlan is the command for one feature write and the table edit to
// apply once the device has accepted it.
type writePlan struct {
	index int
	cmd   string
	value float64
	state bool
	mode  bool // apply as a mode transition
	skip  bool // cached state already matches
}

// planWrite builds the device command for writing value to the feature at index.
func (t *Table) planWrite(index int, value float64) (writePlan, error) {
	f, err := t.Feature(index)
	if err != nil {
		return writePlan{}, err
	}
	if !f.Writable {
		return writePlan{}, fmt.Errorf("%w: %d (%s)", ErrNotWritable, index, f.Name)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return writePlan{}, fmt.Errorf("%w: %v", ErrValueOutOfRange, value)
	}

	p := writePlan{index: index}
	switch {
	case f.Kind == KindPWM:
		// 0 is sent as a duty so the device keeps the port in pwm mode
		duty := clampInt(value, 0, PWMMax)
		p.cmd = cmdDuty(wirePort(f.Port), duty)
		p.value = float64(duty)
		p.state = duty != 0

	case f.Kind.IsBoolean():
		if value < f.Min || value > f.Max {
			return writePlan{}, fmt.Errorf("%w: %v outside [%v, %v]", ErrValueOutOfRange, value, f.Min, f.Max)
		}
		on := value > 0
		p.cmd = cmdOff(wirePort(f.Port))
		if on {
			p.cmd = cmdOn(wirePort(f.Port))
			p.value = f.Max
		}
		p.state = on
		p.skip = f.State == on && f.Value == p.value

	case f.Kind == KindPWMMode, f.Kind == KindPWMOffset:
		if value > f.Max {
			return writePlan{}, fmt.Errorf("%w: %v > %v", ErrValueOutOfRange, value, f.Max)
		}
		v := clampInt(value, 0, int(f.Max))
		if f.Kind == KindPWMMode {
			p.cmd = cmdSetMode(wirePort(f.Port), v)
			p.mode = true
		} else {
			p.cmd = cmdSetOffset(wirePort(f.Port), v)
		}
		p.value = float64(v)
		p.state = true

	default:
		return writePlan{}, fmt.Errorf("%w: %d (%s)", ErrNotWritable, index, f.Kind)
	}
	return p, nil
}

// applyWrite records an accepted write in the table.
func (t *Table) applyWrite(p writePlan) error {
	if p.mode {
		if err := t.ApplyModeTransition(p.index, int(p.value)); err != nil {
			return err
		}
		t.features[p.index].State = p.state
		return nil
	}
	f := &t.features[p.index]
	f.Value = p.value
	f.State = p.state
	return nil
}

// applyPWMQuery stores a queried mode or offset value.
func (t *Table) applyPWMQuery(index int, value float64) error {
	f := &t.features[index]
	if value < f.Min || value > f.Max {
		return fmt.Errorf("%w: %s %v", ErrValueOutOfRange, f.Name, value)
	}
	if f.Kind == KindPWMMode {
		if err := t.ApplyModeTransition(index, int(value)); err != nil {
			return err
		}
	} else {
		f.Value = value
	}
	t.features[index].State = true
	return nil
}

func clampInt(v float64, lo, hi int) int {
	n := int(math.Round(v))
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
