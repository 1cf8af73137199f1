// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package mqtt

import (
	"fmt"
	"strconv"
	"strings"
)

// Payloads of the availability topic.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Topics builds the topic tree below a configured prefix.
//
//	<prefix>/status                  availability (LWT)
//	<prefix>/features                feature table description
//	<prefix>/feature/<index>/state   current value of one feature
//	<prefix>/feature/<index>/set     write requests
//	<prefix>/port/<port>/name/set    rename requests for a 1-based port
type Topics struct {
	Prefix string
}

// Status returns the availability topic.
func (t Topics) Status() string {
	return t.Prefix + "/status"
}

// Features returns the topic carrying the feature table.
func (t Topics) Features() string {
	return t.Prefix + "/features"
}

// FeatureState returns the state topic of feature index.
func (t Topics) FeatureState(index int) string {
	return fmt.Sprintf("%s/feature/%d/state", t.Prefix, index)
}

// FeatureSet returns the command topic of feature index.
func (t Topics) FeatureSet(index int) string {
	return fmt.Sprintf("%s/feature/%d/set", t.Prefix, index)
}

// AllFeatureSets matches the command topic of every feature.
func (t Topics) AllFeatureSets() string {
	return t.Prefix + "/feature/+/set"
}

// ParseFeatureSet extracts the feature index from a command topic.
func (t Topics) ParseFeatureSet(topic string) (int, bool) {
	return parseIndex(topic, t.Prefix+"/feature/", "/set")
}

func parseIndex(topic, prefix, suffix string) (int, bool) {
	rest, ok := strings.CutPrefix(topic, prefix)
	if !ok {
		return 0, false
	}
	idx, ok := strings.CutSuffix(rest, suffix)
	if !ok {
		return 0, false
	}
	index, err := strconv.Atoi(idx)
	if err != nil || index < 0 {
		return 0, false
	}
	return index, true
}

// PortNameSet returns the rename topic of a 1-based port.
func (t Topics) PortNameSet(port int) string {
	return fmt.Sprintf("%s/port/%d/name/set", t.Prefix, port)
}

// AllPortNameSets matches the rename topic of every port.
func (t Topics) AllPortNameSets() string {
	return t.Prefix + "/port/+/name/set"
}

// ParsePortNameSet extracts the port from a rename topic.
func (t Topics) ParsePortNameSet(topic string) (int, bool) {
	return parseIndex(topic, t.Prefix+"/port/", "/name/set")
}
