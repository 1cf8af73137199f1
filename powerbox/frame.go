// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package powerbox

import (
	"fmt"
	"strconv"
	"strings"
)

// Frame delimiters of the ASCII command protocol.
const (
	FrameStart     = '>'
	FrameEnd       = '#'
	FieldSeparator = ":"
)

// Fixed commands and replies.
const (
	cmdPing        = ">P#"
	replyPong      = ">POK#"
	cmdDescribe    = ">D#"
	cmdStatus      = ">S#"
	replyRenamed   = ">MOK#"
	tagDescription = ">D"
	tagStatus      = ">S"
	tagMode        = ">G"
	tagOffset      = ">H"
	tagName        = ">N"
)

// Commands addressed to a port take the 0-based wire port number.

func cmdOn(wirePort int) string  { return fmt.Sprintf(">O:%02d#", wirePort) }
func cmdOff(wirePort int) string { return fmt.Sprintf(">F:%02d#", wirePort) }

func cmdDuty(wirePort, duty int) string { return fmt.Sprintf(">W:%02d:%d#", wirePort, duty) }

func cmdSetMode(wirePort, mode int) string { return fmt.Sprintf(">C:%02d:%d#", wirePort, mode) }

func cmdSetOffset(wirePort, offset int) string {
	return fmt.Sprintf(">T:%02d:%d#", wirePort, offset)
}

func cmdGetMode(wirePort int) string   { return fmt.Sprintf(">G:%02d#", wirePort) }
func cmdGetOffset(wirePort int) string { return fmt.Sprintf(">H:%02d#", wirePort) }
func cmdGetName(wirePort int) string   { return fmt.Sprintf(">N:%02d#", wirePort) }

func cmdRename(wirePort int, name string) string {
	return fmt.Sprintf(">M:%02d:%s#", wirePort, name)
}

// wirePort converts a 1-based feature port to the 0-based wire number.
func wirePort(port int) int { return port - 1 }

// splitReply validates the leading tag of a reply and returns the fields
// after it. The frame end character is removed from the last field.
func splitReply(reply, tag string) ([]string, error) {
	reply = strings.TrimSpace(reply)
	reply = strings.TrimSuffix(reply, string(FrameEnd))
	words := strings.Split(reply, FieldSeparator)
	if words[0] != tag {
		return nil, fmt.Errorf("%w: want %s", ErrMissingTag, tag)
	}
	return words[1:], nil
}

// parseNumber decodes a numeric status field.
func parseNumber(field string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadField, field)
	}
	return v, nil
}

// parsePortQuery decodes ">X:NN:value#" replies to per-port queries and
// returns the value field.
func parsePortQuery(reply, tag string, wirePort int) (string, error) {
	words, err := splitReply(reply, tag)
	if err != nil {
		return "", err
	}
	if len(words) < 2 {
		return "", ErrShortReply
	}
	if n, err := strconv.Atoi(words[0]); err != nil || n != wirePort {
		return "", fmt.Errorf("%w: port %q, want %02d", ErrUnexpectedReply, words[0], wirePort)
	}
	return words[1], nil
}
