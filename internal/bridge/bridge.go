// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package bridge mirrors the power box feature table onto MQTT and turns
// set requests into feature writes and port renames.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/riclolsen/go-powerbox/internal/mqtt"
	"github.com/riclolsen/go-powerbox/powerbox"
)

// ErrBadCommand is returned for set payloads that are not a number or a
// boolean word.
var ErrBadCommand = errors.New("bridge: unrecognised command payload")

// Publisher is the subset of the MQTT client the bridge needs.
type Publisher interface {
	PublishRetained(topic string, payload []byte) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// FeatureWriter applies a write to one feature.
type FeatureWriter interface {
	Write(ctx context.Context, index int, value float64) error
}

// PortRenamer stores a port name on the device.
type PortRenamer interface {
	RenamePort(ctx context.Context, port int, name string) error
}

// LabelStore persists port labels so they survive a restart.
type LabelStore interface {
	SetPortLabel(ctx context.Context, port int, name string) error
}

// FeatureState is the payload of a feature state topic.
type FeatureState struct {
	Value float64 `json:"value"`
	State bool    `json:"state"`
	Kind  string  `json:"kind"`
	Name  string  `json:"name"`
}

// FeatureInfo describes one feature in the features topic.
type FeatureInfo struct {
	Index       int     `json:"index"`
	Kind        string  `json:"kind"`
	Writable    bool    `json:"writable"`
	Port        int     `json:"port,omitempty"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	Unit        string  `json:"unit,omitempty"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
}

// Description is the payload of the features topic.
type Description struct {
	Device    string        `json:"device"`
	Revision  string        `json:"revision"`
	Signature string        `json:"signature"`
	Features  []FeatureInfo `json:"features"`
}

// Bridge publishes snapshots and serves set topics.
type Bridge struct {
	pub     Publisher
	writer  FeatureWriter
	renamer PortRenamer
	labels  LabelStore
	topics  mqtt.Topics
	qos     byte
	log     powerbox.Logger

	mu     sync.Mutex
	ctx    context.Context
	layout string
	last   map[int]FeatureState
	onMax  map[int]float64 // value written for "on", ports only
}

// New creates a bridge. log may be nil.
func New(pub Publisher, writer FeatureWriter, topics mqtt.Topics, qos byte, log powerbox.Logger) *Bridge {
	return &Bridge{
		pub:    pub,
		writer: writer,
		topics: topics,
		qos:    qos,
		log:    log,
		ctx:    context.Background(),
		last:   make(map[int]FeatureState),
		onMax:  make(map[int]float64),
	}
}

// SetRenamer enables the port rename topics. labels may be nil.
// It must be called before Start.
func (b *Bridge) SetRenamer(renamer PortRenamer, labels LabelStore) {
	b.renamer = renamer
	b.labels = labels
}

// Start subscribes to the set topics. Writes issued from MQTT use ctx.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	b.ctx = ctx
	b.mu.Unlock()
	if err := b.pub.Subscribe(b.topics.AllFeatureSets(), b.qos, b.handleSet); err != nil {
		return err
	}
	if b.renamer == nil {
		return nil
	}
	return b.pub.Subscribe(b.topics.AllPortNameSets(), b.qos, b.handleRename)
}

// HandleSnapshot publishes the feature table when its layout changed and
// the state of every feature whose value or state changed.
func (b *Bridge) HandleSnapshot(_ context.Context, snap powerbox.Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var errs []error

	clear(b.onMax)
	for _, f := range snap.Features {
		if f.Kind.IsPort() {
			b.onMax[f.Index] = f.Max
		}
	}

	desc := describe(snap)
	if key := layoutKey(desc); key != b.layout {
		payload, err := json.Marshal(desc)
		if err != nil {
			return fmt.Errorf("bridge: encoding features: %w", err)
		}
		if err := b.pub.PublishRetained(b.topics.Features(), payload); err != nil {
			errs = append(errs, err)
		} else {
			b.layout = key
			// states carry names, so republish all of them
			clear(b.last)
		}
	}

	for _, f := range snap.Features {
		st := FeatureState{Value: f.Value, State: f.State, Kind: f.Kind.String(), Name: f.Name}
		if prev, ok := b.last[f.Index]; ok && prev == st {
			continue
		}
		payload, err := json.Marshal(st)
		if err != nil {
			return fmt.Errorf("bridge: encoding feature %d: %w", f.Index, err)
		}
		if err := b.pub.PublishRetained(b.topics.FeatureState(f.Index), payload); err != nil {
			errs = append(errs, err)
			continue
		}
		b.last[f.Index] = st
	}

	return errors.Join(errs...)
}

func (b *Bridge) handleSet(topic string, payload []byte) error {
	index, ok := b.topics.ParseFeatureSet(topic)
	if !ok {
		return fmt.Errorf("bridge: unexpected topic %q", topic)
	}
	value, word, err := ParseCommand(payload)
	if err != nil {
		return err
	}

	b.mu.Lock()
	ctx := b.ctx
	full, isPort := b.onMax[index]
	b.mu.Unlock()

	if word {
		// on/off drive ports only: full duty for pwm, max for switches
		if !isPort {
			return fmt.Errorf("%w: %q applies to ports only, feature %d", ErrBadCommand, payload, index)
		}
		if value != 0 {
			value = full
		}
	}

	if err := b.writer.Write(ctx, index, value); err != nil {
		return fmt.Errorf("bridge: write feature %d: %w", index, err)
	}
	if b.log != nil {
		b.log.Info("feature written from mqtt", "index", index, "value", value)
	}
	return nil
}

func (b *Bridge) handleRename(topic string, payload []byte) error {
	port, ok := b.topics.ParsePortNameSet(topic)
	if !ok {
		return fmt.Errorf("bridge: unexpected topic %q", topic)
	}
	name := strings.TrimSpace(string(payload))

	b.mu.Lock()
	ctx := b.ctx
	b.mu.Unlock()

	if err := b.renamer.RenamePort(ctx, port, name); err != nil {
		return fmt.Errorf("bridge: rename port %d: %w", port, err)
	}
	if b.labels != nil {
		if err := b.labels.SetPortLabel(ctx, port, name); err != nil {
			return fmt.Errorf("bridge: store label of port %d: %w", port, err)
		}
	}
	if b.log != nil {
		b.log.Info("port renamed from mqtt", "port", port, "name", name)
	}
	return nil
}

// ParseCommand accepts a number or on/off/true/false. word reports one of
// the boolean words, whose value is 1 for on and 0 for off.
func ParseCommand(payload []byte) (value float64, word bool, err error) {
	s := strings.ToLower(strings.TrimSpace(string(payload)))
	switch s {
	case "on", "true":
		return 1, true, nil
	case "off", "false":
		return 0, true, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false, fmt.Errorf("%w: %q", ErrBadCommand, s)
	}
	return v, false, nil
}

func describe(snap powerbox.Snapshot) Description {
	d := Description{
		Device:    snap.Device.Name,
		Revision:  snap.Device.Revision,
		Signature: snap.Device.Signature,
		Features:  make([]FeatureInfo, 0, len(snap.Features)),
	}
	for _, f := range snap.Features {
		d.Features = append(d.Features, FeatureInfo{
			Index:       f.Index,
			Kind:        f.Kind.String(),
			Writable:    f.Writable,
			Port:        f.Port,
			Min:         f.Min,
			Max:         f.Max,
			Unit:        f.Unit,
			Name:        f.Name,
			Description: f.Description,
		})
	}
	return d
}

// layoutKey changes whenever a feature is added, reclassified or renamed.
func layoutKey(d Description) string {
	var sb strings.Builder
	sb.WriteString(d.Signature)
	for _, f := range d.Features {
		fmt.Fprintf(&sb, "|%s:%s:%g", f.Kind, f.Name, f.Max)
	}
	return sb.String()
}
