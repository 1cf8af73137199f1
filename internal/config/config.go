// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package config loads the pbexd daemon configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/riclolsen/go-powerbox/powerbox"
)

// Config is the daemon configuration.
type Config struct {
	Device   DeviceConfig   `yaml:"device"`
	Poll     PollConfig     `yaml:"poll"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DeviceConfig describes the serial link to the power box.
type DeviceConfig struct {
	Port              string `yaml:"port"`
	BaudRate          int    `yaml:"baud_rate"`
	DataBits          int    `yaml:"data_bits"`
	Parity            string `yaml:"parity"`
	StopBits          int    `yaml:"stop_bits"`
	ReadTimeout       int    `yaml:"read_timeout_ms"`
	HandshakeAttempts int    `yaml:"handshake_attempts"`
	HandshakeBackoff  int    `yaml:"handshake_backoff_ms"`
}

// PollConfig controls the refresh loop.
type PollConfig struct {
	Interval      int  `yaml:"interval_ms"`
	QueryPWM      bool `yaml:"query_pwm"`
	QueryNames    bool `yaml:"query_names"`
	RetryInterval int  `yaml:"retry_interval"` // seconds between reconnect attempts
}

// DatabaseConfig contains SQLite settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains broker settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig identifies the broker.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig holds broker credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig holds reconnect delays in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains telemetry settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"` // seconds
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads the configuration file at path, applies environment overrides
// and validates the result.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			BaudRate:          powerbox.DefaultBaudRate,
			DataBits:          powerbox.DefaultDataBits,
			Parity:            "none",
			StopBits:          1,
			ReadTimeout:       int(powerbox.DefaultReadTimeout / time.Millisecond),
			HandshakeAttempts: powerbox.DefaultHandshakeAttempts,
			HandshakeBackoff:  int(powerbox.DefaultHandshakeBackoff / time.Millisecond),
		},
		Poll: PollConfig{
			Interval:      2000,
			QueryPWM:      true,
			QueryNames:    true,
			RetryInterval: 30,
		},
		Database: DatabaseConfig{
			Path:        "./data/pbexd.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "pbexd",
			},
			QoS:         1,
			TopicPrefix: "powerbox",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			URL:           "http://localhost:8086",
			Org:           "pbexd",
			Bucket:        "powerbox",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies PBEX_* environment variables on top of the file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PBEX_DEVICE_PORT"); v != "" {
		cfg.Device.Port = v
	}
	if v := os.Getenv("PBEX_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("PBEX_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("PBEX_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("PBEX_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("PBEX_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("PBEX_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Device.Port == "" {
		errs = append(errs, "device.port is required (or set PBEX_DEVICE_PORT)")
	}
	if c.Device.BaudRate <= 0 {
		errs = append(errs, "device.baud_rate must be positive")
	}
	if c.Device.StopBits != 1 && c.Device.StopBits != 2 {
		errs = append(errs, "device.stop_bits must be 1 or 2")
	}
	switch strings.ToLower(c.Device.Parity) {
	case "none", "odd", "even", "mark", "space":
	default:
		errs = append(errs, "device.parity must be none, odd, even, mark or space")
	}

	if c.Poll.Interval < 100 || c.Poll.Interval > 60000 {
		errs = append(errs, "poll.interval_ms must be between 100 and 60000")
	}
	if c.Poll.RetryInterval < 1 {
		errs = append(errs, "poll.retry_interval must be at least 1 second")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host is required")
		}
		if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
			errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
		if c.MQTT.TopicPrefix == "" || strings.ContainsAny(c.MQTT.TopicPrefix, "+#") {
			errs = append(errs, "mqtt.topic_prefix must be non-empty and free of wildcards")
		}
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required")
		}
		if c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.org and influxdb.bucket are required")
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, "logging.level must be debug, info, warn or error")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ClientConfig converts the device section into a power box client config.
func (c *Config) ClientConfig() powerbox.Config {
	cfg := powerbox.DefaultConfig()
	cfg.Serial = powerbox.SerialConfig{
		Address:  c.Device.Port,
		BaudRate: c.Device.BaudRate,
		DataBits: c.Device.DataBits,
		Parity:   powerbox.ParseParity(c.Device.Parity),
		StopBits: powerbox.ParseStopBits(c.Device.StopBits),
		Timeout:  time.Duration(c.Device.ReadTimeout) * time.Millisecond,
	}
	cfg.HandshakeAttempts = c.Device.HandshakeAttempts
	cfg.HandshakeBackoff = time.Duration(c.Device.HandshakeBackoff) * time.Millisecond
	return cfg
}

// PollInterval returns the refresh period.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Poll.Interval) * time.Millisecond
}

// RetryInterval returns the minimum delay between reconnect attempts.
func (c *Config) RetryInterval() time.Duration {
	return time.Duration(c.Poll.RetryInterval) * time.Second
}
