// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the m2streamd YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Node        string            `yaml:"node"`
	TimeBase    TimeBaseConfig    `yaml:"time_base"`
	Sys         SysConfig         `yaml:"sys"`
	TX          TXConfig          `yaml:"tx"`
	RX          RXConfig          `yaml:"rx"`
	Control     ControlConfig     `yaml:"control"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Capture     CaptureConfig     `yaml:"capture"`
	Generator   GeneratorConfig   `yaml:"generator"`
}

// TimeBaseConfig describes the time domain.
type TimeBaseConfig struct {
	ClockHz      uint64        `yaml:"clock_hz"`
	Initial      uint64        `yaml:"initial"`
	Enabled      bool          `yaml:"enabled"`
	Wake         time.Duration `yaml:"wake"` // clock goroutine wake-up; ticks are paced by clock_hz
	RetryBudget  int           `yaml:"retry_budget"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// SysConfig describes the system clock domain running the pipeline.
type SysConfig struct {
	Period         time.Duration `yaml:"period"`
	SamplerTimeout int           `yaml:"sampler_timeout"`
}

type TXConfig struct {
	FrameCycles      uint32 `yaml:"frame_cycles"`
	MaxPackets       int    `yaml:"max_packets"`
	SchedulerEnabled bool   `yaml:"scheduler_enabled"`
	LatenessWindow   int    `yaml:"lateness_window"`
	IngressDepth     int    `yaml:"ingress_depth"`
}

type RXConfig struct {
	FrameCycles  uint32 `yaml:"frame_cycles"`
	HeaderEnable bool   `yaml:"header_enable"`
	Header       uint64 `yaml:"header"`
	EgressDepth  int    `yaml:"egress_depth"`
}

type ControlConfig struct {
	Addr string `yaml:"addr"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type PersistenceConfig struct {
	Adapter        string        `yaml:"adapter"` // log, redis, mqtt, file
	Interval       time.Duration `yaml:"interval"`
	Timeout        time.Duration `yaml:"timeout"`
	RedisAddr      string        `yaml:"redis_addr"`
	RedisMarkerTTL time.Duration `yaml:"redis_marker_ttl"`
	RedisHistory   int           `yaml:"redis_history"`
	MQTTBroker     string        `yaml:"mqtt_broker"`
	MQTTUsername   string        `yaml:"mqtt_username"`
	MQTTPassword   string        `yaml:"mqtt_password"`
	MQTTPrefix     string        `yaml:"mqtt_prefix"`
	MQTTQoS        byte          `yaml:"mqtt_qos"`
	FilePath       string        `yaml:"file_path"`
}

// CaptureConfig enables the JSONL log of released TX packets.
type CaptureConfig struct {
	Path          string        `yaml:"path"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// GeneratorConfig enables synthetic TX traffic scheduled Lead ahead of now.
type GeneratorConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Lead     time.Duration `yaml:"lead"`
	Header   uint64        `yaml:"header"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Node: "m2stream-0",
		TimeBase: TimeBaseConfig{
			ClockHz:      1_000_000,
			Enabled:      true,
			Wake:         time.Millisecond,
			RetryBudget:  1000,
			PollInterval: 10 * time.Microsecond,
		},
		Sys:         SysConfig{Period: 10 * time.Microsecond, SamplerTimeout: 1024},
		TX:          TXConfig{FrameCycles: 16, MaxPackets: 4, SchedulerEnabled: true, LatenessWindow: 1024, IngressDepth: 256},
		RX:          RXConfig{FrameCycles: 16, HeaderEnable: true, Header: 0x4D32535452454D00, EgressDepth: 1024},
		Control:     ControlConfig{Addr: ":8080"},
		Metrics:     MetricsConfig{Enabled: true, Addr: ":9090"},
		Persistence: PersistenceConfig{Adapter: "log", Interval: 5 * time.Second, Timeout: 2 * time.Second, RedisMarkerTTL: 24 * time.Hour, RedisHistory: 100, MQTTPrefix: "m2stream", MQTTQoS: 1},
		Capture:     CaptureConfig{FlushInterval: time.Second},
		Generator:   GeneratorConfig{Interval: 100 * time.Millisecond, Lead: 20 * time.Millisecond, Header: 0x1122334455667788},
	}
}

// LoadConfig reads filename over the defaults and validates the result.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults refills numeric knobs explicitly set to zero where zero has
// no meaning.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Node == "" {
		c.Node = d.Node
	}
	if c.TimeBase.Wake <= 0 {
		c.TimeBase.Wake = d.TimeBase.Wake
	}
	if c.TimeBase.RetryBudget <= 0 {
		c.TimeBase.RetryBudget = d.TimeBase.RetryBudget
	}
	if c.TimeBase.PollInterval <= 0 {
		c.TimeBase.PollInterval = d.TimeBase.PollInterval
	}
	if c.Sys.Period <= 0 {
		c.Sys.Period = d.Sys.Period
	}
	if c.Sys.SamplerTimeout <= 0 {
		c.Sys.SamplerTimeout = d.Sys.SamplerTimeout
	}
	if c.TX.MaxPackets <= 0 {
		c.TX.MaxPackets = d.TX.MaxPackets
	}
	if c.TX.LatenessWindow <= 0 {
		c.TX.LatenessWindow = d.TX.LatenessWindow
	}
	if c.TX.IngressDepth <= 0 {
		c.TX.IngressDepth = d.TX.IngressDepth
	}
	if c.RX.EgressDepth <= 0 {
		c.RX.EgressDepth = d.RX.EgressDepth
	}
	if c.Persistence.Adapter == "" {
		c.Persistence.Adapter = d.Persistence.Adapter
	}
	if c.Persistence.Interval <= 0 {
		c.Persistence.Interval = d.Persistence.Interval
	}
	if c.Persistence.Timeout <= 0 {
		c.Persistence.Timeout = d.Persistence.Timeout
	}
	if c.Capture.FlushInterval <= 0 {
		c.Capture.FlushInterval = d.Capture.FlushInterval
	}
	if c.Generator.Interval <= 0 {
		c.Generator.Interval = d.Generator.Interval
	}
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	switch {
	case c.TimeBase.ClockHz == 0:
		return fmt.Errorf("%w: time_base.clock_hz must be > 0", ErrInvalid)
	case c.TimeBase.ClockHz > 1_000_000_000:
		return fmt.Errorf("%w: time_base.clock_hz %d exceeds 1 GHz (sub-ns ticks)", ErrInvalid, c.TimeBase.ClockHz)
	case c.Persistence.MQTTQoS > 2:
		return fmt.Errorf("%w: persistence.mqtt_qos must be 0, 1 or 2", ErrInvalid)
	case c.Generator.Enabled && c.Generator.Lead <= 0:
		return fmt.Errorf("%w: generator.lead must be > 0", ErrInvalid)
	}
	switch c.Persistence.Adapter {
	case "log", "redis", "mqtt":
	case "file":
		if c.Persistence.FilePath == "" {
			return fmt.Errorf("%w: persistence.file_path is required by the file adapter", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown persistence.adapter %q", ErrInvalid, c.Persistence.Adapter)
	}
	return nil
}
