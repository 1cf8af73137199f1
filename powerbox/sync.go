// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package powerbox

import (
	"fmt"
	"strings"
)

type fieldUpdate struct {
	index int
	value float64
	state bool
}

// ApplyStatus decodes a ">S:..." status line through the table layout.
// All fields are decoded before any feature changes, so a short or
// malformed reply leaves the table exactly as it was.
func (t *Table) ApplyStatus(reply string) error {
	words, err := splitReply(reply, tagStatus)
	if err != nil {
		return &ProtocolError{Op: "status", Reply: reply, Err: err}
	}
	if want := t.layout.Width(); len(words) < want {
		return &ProtocolError{
			Op:    "status",
			Reply: reply,
			Err:   fmt.Errorf("%w: got %d, want %d", ErrShortReply, len(words), want),
		}
	}

	updates := make([]fieldUpdate, 0, len(t.layout.Fields))
	for _, rule := range t.layout.Fields {
		u, err := t.decodeField(rule, words[rule.Offset])
		if err != nil {
			return &ProtocolError{
				Op:    "status",
				Reply: reply,
				Err:   fmt.Errorf("field %d: %w", rule.Offset, err),
			}
		}
		updates = append(updates, u)
	}

	for _, u := range updates {
		f := &t.features[u.index]
		f.Value = u.value
		f.State = u.state
	}
	return nil
}

func (t *Table) decodeField(rule FieldRule, field string) (fieldUpdate, error) {
	f := t.features[rule.Index]
	u := fieldUpdate{index: rule.Index}

	if rule.Decode == DecodePort && f.Kind.IsBoolean() {
		// any non-zero token means on
		if strings.TrimSpace(field) == "0" {
			return u, nil
		}
		u.state = true
		u.value = f.Max
		return u, nil
	}

	v, err := parseNumber(field)
	if err != nil {
		return u, err
	}
	u.value = v
	if rule.Decode == DecodePort {
		u.state = v != 0
	} else {
		u.state = true
	}
	return u, nil
}
