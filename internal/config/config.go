// Package config loads the router and profile configuration from YAML,
// applying the same post-unmarshal defaulting idiom the rest of this
// codebase uses.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level on-disk configuration for dtcsimd.
type Config struct {
	Tun     TunConfig     `yaml:"tun"`
	Session SessionConfig `yaml:"session"`
	Profile ProfileConfig `yaml:"profile"`
	Metrics MetricsConfig `yaml:"metrics"`
	Fwmark  uint32        `yaml:"fwmark"` // 0 = disabled
}

// TunConfig describes the tun device to acquire.
type TunConfig struct {
	Device  string `yaml:"device"`
	Address string `yaml:"address"` // e.g. "10.0.0.2"
	MTU     int    `yaml:"mtu"`
}

// SessionConfig tunes session-table and TCP pseudo-stack behavior.
type SessionConfig struct {
	UDPIdleTimeout   time.Duration `yaml:"udp_idle_timeout"`
	TCPIdleTimeout   time.Duration `yaml:"tcp_idle_timeout"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	ReassemblyMaxLen int           `yaml:"reassembly_max_len"` // bytes, default 64 KiB
	TCPRejectPorts   []int         `yaml:"tcp_reject_ports"`
}

// ProfileConfig is the on-disk shape of a NetworkProfile; it is translated
// into profile.Profile by BuildProfile.
type ProfileConfig struct {
	Delay     DelayConfig     `yaml:"delay"`
	Loss      LossConfig      `yaml:"loss"`
	Bandwidth BandwidthConfig `yaml:"bandwidth"`
}

// DelayConfig mirrors spec.md's three shapes for delay: a single fixed
// value (60/40 split), explicit up/down, or a percentile table.
type DelayConfig struct {
	FixedMs     int              `yaml:"fixed_ms"`
	UpMs        int              `yaml:"up_ms"`
	DownMs      int              `yaml:"down_ms"`
	Percentiles []PercentilePoint `yaml:"percentiles"`
}

// PercentilePoint is one row of a percentile delay table.
type PercentilePoint struct {
	P    float64 `yaml:"p"`
	Up   float64 `yaml:"up"`
	Down float64 `yaml:"down"`
	// Ms is used when a single value applies to both directions.
	Ms float64 `yaml:"ms"`
}

// LossConfig mirrors spec.md's loss shapes: a single percentage
// auto-split 50/50, or explicit up/down.
type LossConfig struct {
	Percent float64 `yaml:"percent"`
	Up      float64 `yaml:"up"`
	Down    float64 `yaml:"down"`
}

// BandwidthConfig reserves the schema for future bandwidth shaping.
type BandwidthConfig struct {
	Enabled  bool `yaml:"enabled"`
	KbpsUp   int  `yaml:"kbps_up"`
	KbpsDown int  `yaml:"kbps_down"`
}

// MetricsConfig controls the optional Prometheus exposition endpoint.
type MetricsConfig struct {
	Listen string `yaml:"listen"` // empty = disabled
}

// Load reads and parses path, applying defaults to every field left at its
// YAML zero value.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Tun.Device == "" {
		c.Tun.Device = "dtcsim0"
	}
	if c.Tun.Address == "" {
		c.Tun.Address = "10.0.0.2"
	}
	if c.Tun.MTU == 0 {
		c.Tun.MTU = 1500
	}
	if c.Session.UDPIdleTimeout == 0 {
		c.Session.UDPIdleTimeout = 5 * time.Minute
	}
	if c.Session.TCPIdleTimeout == 0 {
		c.Session.TCPIdleTimeout = 5 * time.Minute
	}
	if c.Session.SweepInterval == 0 {
		c.Session.SweepInterval = 30 * time.Second
	}
	if c.Session.ReassemblyMaxLen == 0 {
		c.Session.ReassemblyMaxLen = 64 * 1024
	}
	if len(c.Session.TCPRejectPorts) == 0 {
		c.Session.TCPRejectPorts = []int{853}
	}
}

// Validate rejects configurations that parsed but make no sense to run.
func (c *Config) Validate() error {
	if c.Tun.MTU < 576 {
		return fmt.Errorf("config: tun.mtu %d is too small", c.Tun.MTU)
	}
	if c.Profile.Delay.FixedMs < 0 || c.Profile.Delay.UpMs < 0 || c.Profile.Delay.DownMs < 0 {
		return fmt.Errorf("config: profile.delay values must be non-negative")
	}
	if c.Profile.Loss.Percent < 0 || c.Profile.Loss.Percent > 100 {
		return fmt.Errorf("config: profile.loss.percent %v out of [0,100]", c.Profile.Loss.Percent)
	}
	return nil
}
