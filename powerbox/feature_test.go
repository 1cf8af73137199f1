// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package powerbox

import (
	"errors"
	"reflect"
	"testing"
)

func TestApplyModeTransition(t *testing.T) {
	// 0 p, 1 p, 2..3 currents, 4..5 inputs, 6/7 port 1, 8/9 port 2
	table := mustBuild(t, "pp")
	if err := table.ApplyStatus(">S:200:90:0:0:0:0#"); err != nil {
		t.Fatalf("ApplyStatus() error = %v", err)
	}
	before := table.Features()

	if err := table.ApplyModeTransition(6, PWMModeOnOff); err != nil {
		t.Fatalf("ApplyModeTransition(1) error = %v", err)
	}
	f, _ := table.Feature(0)
	if f.Kind != KindSwitch || f.Max != SwitchMax {
		t.Errorf("port 1 = %s max %v, want switch max 1", f.Kind, f.Max)
	}
	if f.Value != SwitchMax {
		t.Errorf("port 1 value = %v, want clamped to 1", f.Value)
	}

	after := table.Features()
	for i := range before {
		if i == 0 || i == 6 {
			continue
		}
		if !reflect.DeepEqual(before[i], after[i]) {
			t.Errorf("feature %d changed: %+v -> %+v", i, before[i], after[i])
		}
	}

	for _, mode := range []int{PWMModeVariable, PWMModeDew, PWMModePID} {
		if err := table.ApplyModeTransition(6, PWMModeOnOff); err != nil {
			t.Fatalf("ApplyModeTransition(1) error = %v", err)
		}
		if err := table.ApplyModeTransition(6, mode); err != nil {
			t.Fatalf("ApplyModeTransition(%d) error = %v", mode, err)
		}
		f, _ := table.Feature(0)
		if f.Kind != KindPWM || f.Max != PWMMax {
			t.Errorf("mode %d: port 1 = %s max %v, want pwm max 255", mode, f.Kind, f.Max)
		}
		sel, _ := table.Feature(6)
		if sel.Value != float64(mode) {
			t.Errorf("selector value = %v, want %d", sel.Value, mode)
		}
	}
}

func TestApplyModeTransitionErrors(t *testing.T) {
	table := mustBuild(t, "sp")

	if err := table.ApplyModeTransition(99, 1); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("index 99 error = %v, want ErrIndexOutOfRange", err)
	}
	if err := table.ApplyModeTransition(0, 1); err == nil {
		t.Error("transition on a port control expected error")
	}
	if err := table.ApplyModeTransition(6, 4); !errors.Is(err, ErrValueOutOfRange) {
		t.Errorf("mode 4 error = %v, want ErrValueOutOfRange", err)
	}
}

func TestKind(t *testing.T) {
	if KindPWMOffset.String() != "pwm-offset" || Kind(42).String() != "Kind(42)" {
		t.Errorf("String() = %q, %q", KindPWMOffset, Kind(42))
	}
	for k := KindSwitch; k <= KindPWMOffset; k++ {
		if k.IsPort() && k.IsSensor() {
			t.Errorf("%s is both port and sensor", k)
		}
	}
	if !KindAlwaysOn.IsBoolean() || KindPWM.IsBoolean() {
		t.Error("IsBoolean() mismatch")
	}
}
