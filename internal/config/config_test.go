package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadConfig_OverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "m2stream.yaml")
	body := `
node: lab-1
time_base:
  clock_hz: 125000000
  wake: 500us
tx:
  frame_cycles: 4
  scheduler_enabled: false
rx:
  header_enable: false
  header: 0xAA
persistence:
  adapter: redis
  redis_addr: 127.0.0.1:6379
generator:
  enabled: true
  lead: 5ms
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Node != "lab-1" || cfg.TimeBase.ClockHz != 125_000_000 || cfg.TimeBase.Wake != 500*time.Microsecond {
		t.Fatalf("time base not loaded: %+v", cfg.TimeBase)
	}
	if cfg.TX.FrameCycles != 4 || cfg.TX.SchedulerEnabled || cfg.TX.MaxPackets != 4 {
		t.Fatalf("tx not loaded: %+v", cfg.TX)
	}
	if cfg.RX.HeaderEnable || cfg.RX.Header != 0xAA || cfg.RX.FrameCycles != 16 {
		t.Fatalf("rx not loaded: %+v", cfg.RX)
	}
	if cfg.Persistence.Adapter != "redis" || cfg.Persistence.Interval != 5*time.Second {
		t.Fatalf("persistence not loaded: %+v", cfg.Persistence)
	}
	if !cfg.Generator.Enabled || cfg.Generator.Lead != 5*time.Millisecond {
		t.Fatalf("generator not loaded: %+v", cfg.Generator)
	}
	// untouched sections keep their defaults
	if !cfg.TimeBase.Enabled || cfg.Control.Addr != ":8080" {
		t.Fatalf("defaults lost: %+v %+v", cfg.TimeBase, cfg.Control)
	}
}

func TestParse_ZeroKnobsFallBack(t *testing.T) {
	cfg, err := Parse([]byte("sys:\n  period: 0s\ntx:\n  max_packets: 0\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Sys.Period != 10*time.Microsecond || cfg.TX.MaxPackets != 4 {
		t.Fatalf("defaults not reapplied: %+v %+v", cfg.Sys, cfg.TX)
	}
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"zero rate":    "time_base:\n  clock_hz: 0\n",
		"sub-ns rate":  "time_base:\n  clock_hz: 2000000000\n",
		"bad adapter":  "persistence:\n  adapter: kafka\n",
		"bad qos":      "persistence:\n  mqtt_qos: 3\n",
		"no file path": "persistence:\n  adapter: file\n",
		"no lead time": "generator:\n  enabled: true\n  lead: 0s\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(body)); !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
	if _, err := Parse([]byte("tx: [")); err == nil || errors.Is(err, ErrInvalid) {
		t.Fatalf("expected parse error, got %v", err)
	}
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected read error")
	}
}
