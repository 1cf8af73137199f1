// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Command pbexd keeps a power box online: it polls the device over its
// serial link, mirrors the feature table onto MQTT, records telemetry in
// InfluxDB and persists port labels and the last snapshot in SQLite.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/riclolsen/go-powerbox/internal/bridge"
	"github.com/riclolsen/go-powerbox/internal/config"
	"github.com/riclolsen/go-powerbox/internal/influxdb"
	"github.com/riclolsen/go-powerbox/internal/logging"
	"github.com/riclolsen/go-powerbox/internal/mqtt"
	"github.com/riclolsen/go-powerbox/internal/poller"
	"github.com/riclolsen/go-powerbox/internal/store"
	"github.com/riclolsen/go-powerbox/powerbox"
)

// set at build time via -ldflags "-X main.version=..."
var version = "dev"

const defaultConfigPath = "configs/pbexd.yaml"

func main() {
	configPath := flag.String("config", getConfigPath(), "path to the YAML configuration")
	listPorts := flag.Bool("list-ports", false, "list serial ports and exit")
	flag.Parse()

	if *listPorts {
		if err := printPorts(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func getConfigPath() string {
	if path := os.Getenv("PBEX_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

func printPorts() error {
	ports, err := powerbox.ListPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Println("no serial ports found")
	}
	for _, p := range ports {
		fmt.Println(p)
	}
	return nil
}

func run(ctx context.Context, configPath string) error {
	log := logging.Default()
	log.Info("starting pbexd", "version", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "level", cfg.Logging.Level)

	db, err := store.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database opened", "path", db.Path())

	opt := powerbox.NewOption().
		SetConfig(cfg.ClientConfig()).
		SetLogger(log.With("component", "powerbox"))
	client, err := powerbox.NewClient(opt)
	if err != nil {
		return fmt.Errorf("creating power box client: %w", err)
	}

	d := &daemon{cfg: cfg, client: client, db: db, log: log}
	if err := d.connect(ctx); err != nil {
		return fmt.Errorf("connecting to power box: %w", err)
	}
	defer func() {
		if closeErr := client.Close(); closeErr != nil && !errors.Is(closeErr, powerbox.ErrNotConnected) {
			log.Error("error closing power box", "error", closeErr)
		}
	}()

	p := poller.New(client, cfg.PollInterval(), log.With("component", "poller"))
	p.SetReconnect(d.reconnect, cfg.RetryInterval())
	p.AddSink("store", db)

	if cfg.MQTT.Enabled {
		mqttClient, err := mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.With("component", "mqtt"))
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"prefix", cfg.MQTT.TopicPrefix,
		)

		b := bridge.New(mqttClient, client, mqttClient.Topics(), byte(cfg.MQTT.QoS), log.With("component", "bridge"))
		b.SetRenamer(client, db)
		if err := b.Start(ctx); err != nil {
			return fmt.Errorf("starting MQTT bridge: %w", err)
		}
		p.AddSink("mqtt", b)
	}

	if cfg.InfluxDB.Enabled {
		influxClient, err := influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write failed", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
		p.AddSink("influxdb", influxClient)
	}

	if err := p.Run(ctx); err != nil {
		return err
	}
	log.Info("pbexd stopped")
	return nil
}

// daemon holds what connect and reconnect need.
type daemon struct {
	cfg    *config.Config
	client *powerbox.Client
	db     *store.Store
	log    *logging.Logger
}

// connect opens the link, builds the table and applies the stored labels.
func (d *daemon) connect(ctx context.Context) error {
	if err := d.client.Open(ctx); err != nil {
		return err
	}
	if err := d.setup(ctx); err != nil {
		_ = d.client.Close()
		return err
	}
	return nil
}

func (d *daemon) setup(ctx context.Context) error {
	info, err := d.client.DeviceInfo(ctx)
	if err != nil {
		return err
	}
	d.log.Info("power box detected",
		"device", info.Name,
		"revision", info.Revision,
		"signature", info.Signature,
	)

	if d.cfg.Poll.QueryPWM {
		if err := d.client.QueryPWMConfig(ctx); err != nil {
			d.log.Warn("reading pwm configuration failed", "error", err)
		}
	}
	if d.cfg.Poll.QueryNames {
		if err := d.client.QueryPortNames(ctx); err != nil {
			d.log.Warn("reading port names failed", "error", err)
		}
	}

	labels, err := d.db.PortLabels(ctx)
	if err != nil {
		return err
	}
	for port, name := range labels {
		if err := d.client.SetPortLabel(port, name); err != nil {
			d.log.Warn("stored port label not applied", "port", port, "name", name, "error", err)
		}
	}
	return nil
}

// reconnect drops the link and connects again.
func (d *daemon) reconnect(ctx context.Context) error {
	if err := d.client.Close(); err != nil && !errors.Is(err, powerbox.ErrNotConnected) {
		d.log.Warn("closing power box before reconnect", "error", err)
	}
	return d.connect(ctx)
}
