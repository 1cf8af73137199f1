// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package influxdb records power box telemetry in InfluxDB v2.
//
// Writes go through the non-blocking batched write API; failures surface
// asynchronously through the callback set with SetOnError.
package influxdb

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/riclolsen/go-powerbox/internal/config"
	"github.com/riclolsen/go-powerbox/powerbox"
)

const (
	defaultConnectTimeout = 10 * time.Second
	millisecondsPerSecond = 1000

	// Measurement names.
	featureMeasurement = "powerbox_feature"
	powerMeasurement   = "powerbox_power"
)

// Client wraps the InfluxDB client. It is safe for concurrent use.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI

	connected bool
	mu        sync.RWMutex
	onError   func(err error)
}

// Connect creates the client and pings the server.
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = 10
	}

	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batchSize)).
			SetFlushInterval(uint(flushInterval)*millisecondsPerSecond),
	)

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	c := &Client{
		client:    client,
		writeAPI:  client.WriteAPI(cfg.Org, cfg.Bucket),
		connected: true,
	}
	go c.handleWriteErrors(c.writeAPI.Errors())

	return c, nil
}

func (c *Client) handleWriteErrors(errorsCh <-chan error) {
	for err := range errorsCh {
		c.mu.RLock()
		callback := c.onError
		c.mu.RUnlock()

		if callback != nil {
			callback(err)
		}
	}
}

// SetOnError sets the callback for asynchronous write failures.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}

// IsConnected reports whether Close has not been called yet.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// HandleSnapshot queues one point per feature plus the input power.
func (c *Client) HandleSnapshot(_ context.Context, snap powerbox.Snapshot) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	for _, p := range SnapshotPoints(snap) {
		c.writeAPI.WritePoint(p)
	}
	return nil
}

// Close flushes pending points and closes the client.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	c.writeAPI.Flush()
	c.client.Close()
	return nil
}

// SnapshotPoints converts a snapshot into line protocol points.
func SnapshotPoints(snap powerbox.Snapshot) []*write.Point {
	ts := snap.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	points := make([]*write.Point, 0, len(snap.Features)+1)
	for _, f := range snap.Features {
		tags := map[string]string{
			"device":  snap.Device.Name,
			"feature": strconv.Itoa(f.Index),
			"kind":    f.Kind.String(),
			"name":    f.Name,
		}
		if f.Kind.IsPort() || f.Kind == powerbox.KindOutputCurrent {
			tags["port"] = strconv.Itoa(f.Port)
		}
		points = append(points, write.NewPoint(
			featureMeasurement,
			tags,
			map[string]interface{}{
				"value": f.Value,
				"state": f.State,
			},
			ts,
		))
	}

	points = append(points, write.NewPoint(
		powerMeasurement,
		map[string]string{"device": snap.Device.Name},
		map[string]interface{}{"watts": snap.InputPower},
		ts,
	))
	return points
}
