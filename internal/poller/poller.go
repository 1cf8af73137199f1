// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package poller refreshes the power box on a fixed period and hands each
// snapshot to a set of sinks.
package poller

import (
	"context"
	"errors"
	"time"

	"github.com/riclolsen/go-powerbox/powerbox"
)

// failuresBeforeReconnect consecutive transport failures trigger a reconnect.
const failuresBeforeReconnect = 3

// Device is the part of powerbox.Client the poller drives.
type Device interface {
	Refresh(ctx context.Context) error
	Snapshot() (powerbox.Snapshot, error)
}

// Sink consumes snapshots.
type Sink interface {
	HandleSnapshot(ctx context.Context, snap powerbox.Snapshot) error
}

// ReconnectFunc reopens the link after it failed.
type ReconnectFunc func(ctx context.Context) error

type namedSink struct {
	name string
	sink Sink
}

// Poller runs the refresh loop. It is not safe to call Poll concurrently
// with Run.
type Poller struct {
	dev      Device
	interval time.Duration
	log      powerbox.Logger
	sinks    []namedSink

	reconnect     ReconnectFunc
	retryInterval time.Duration
	lastRetry     time.Time
	failures      int // consecutive transport failures

	successful int
	failed     int
}

// New creates a poller refreshing dev every interval.
func New(dev Device, interval time.Duration, log powerbox.Logger) *Poller {
	return &Poller{
		dev:      dev,
		interval: interval,
		log:      log,
	}
}

// AddSink registers a consumer. name is used in logs.
func (p *Poller) AddSink(name string, sink Sink) {
	p.sinks = append(p.sinks, namedSink{name: name, sink: sink})
}

// SetReconnect installs fn to recover a lost link, tried at most once per
// retryInterval.
func (p *Poller) SetReconnect(fn ReconnectFunc, retryInterval time.Duration) {
	p.reconnect = fn
	p.retryInterval = retryInterval
}

// Stats returns the number of successful and failed cycles.
func (p *Poller) Stats() (successful, failed int) {
	return p.successful, p.failed
}

// Run polls immediately and then on every tick until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.log.Info("poller started", "interval", p.interval, "sinks", len(p.sinks))
	p.cycle(ctx)

	for {
		select {
		case <-ctx.Done():
			p.log.Info("poller stopped", "successful", p.successful, "failed", p.failed)
			return nil
		case <-ticker.C:
			p.cycle(ctx)
		}
	}
}

func (p *Poller) cycle(ctx context.Context) {
	err := p.Poll(ctx)
	if err == nil || ctx.Err() != nil {
		return
	}
	p.log.Warn("poll failed", "error", err, "consecutive", p.failures)
	if p.needsReconnect(err) {
		p.tryReconnect(ctx)
	}
}

// Poll runs one refresh and fans the snapshot out. Sink failures are
// logged and do not fail the cycle.
func (p *Poller) Poll(ctx context.Context) error {
	if err := p.dev.Refresh(ctx); err != nil {
		p.fail(err)
		return err
	}
	snap, err := p.dev.Snapshot()
	if err != nil {
		p.fail(err)
		return err
	}
	p.successful++
	p.failures = 0

	for _, s := range p.sinks {
		if err := s.sink.HandleSnapshot(ctx, snap); err != nil {
			p.log.Warn("sink failed", "sink", s.name, "error", err)
		}
	}
	return nil
}

// fail counts a failed cycle. Only transport failures extend the streak
// that leads to a reconnect; any other error ends it.
func (p *Poller) fail(err error) {
	p.failed++
	if errors.Is(err, powerbox.ErrTransport) {
		p.failures++
	} else {
		p.failures = 0
	}
}

func (p *Poller) needsReconnect(err error) bool {
	if p.reconnect == nil {
		return false
	}
	if errors.Is(err, powerbox.ErrNotConnected) {
		return true
	}
	return errors.Is(err, powerbox.ErrTransport) && p.failures >= failuresBeforeReconnect
}

func (p *Poller) tryReconnect(ctx context.Context) {
	now := time.Now()
	if !p.lastRetry.IsZero() && now.Sub(p.lastRetry) < p.retryInterval {
		return
	}
	p.lastRetry = now

	p.log.Info("reconnecting to power box")
	if err := p.reconnect(ctx); err != nil {
		p.log.Error("reconnect failed", "error", err, "retry_in", p.retryInterval)
		return
	}
	p.failures = 0
	p.log.Info("reconnected to power box")
}
