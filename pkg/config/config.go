// Package config loads stream configuration from YAML, the same library
// and nested-struct shape a FLUTE sender's config file would use.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the top-level YAML document: a set of named streams this
// publisher process should create on startup.
type File struct {
	Streams []StreamConfig `yaml:"streams"`
}

// StreamConfig holds the per-stream creation inputs (name, multicast
// group/port, recovery port, source interface, log path, heartbeat
// interval) plus the recognised tuning options: MTU, recovery buffer
// capacity, and the batch-coalescing limits a publisher needs.
type StreamConfig struct {
	Name                string `yaml:"name"`
	MulticastGroup      string `yaml:"multicast_group"`
	MulticastPort       int    `yaml:"multicast_port"`
	RecoveryPort        int    `yaml:"recovery_port"`
	SourceIP            string `yaml:"source_ip"`
	LogPath             string `yaml:"log_path"`
	HeartbeatIntervalMs int    `yaml:"heartbeat_interval_ms"`
	MTU                 int    `yaml:"mtu"`
	RecoveryBufferCap   int    `yaml:"recovery_buffer_capacity"`
	CoalesceCountLimit  int    `yaml:"coalesce_count_limit"`
	CoalesceIdleUs      int    `yaml:"coalesce_idle_us"`
	MulticastTTL        int    `yaml:"multicast_ttl"`
	MulticastLoopback   *bool  `yaml:"multicast_loopback"`
}

// applyDefaults fills in the recognised configuration options' documented
// defaults for any field left at its YAML zero value.
func (c *StreamConfig) applyDefaults() {
	if c.HeartbeatIntervalMs == 0 {
		c.HeartbeatIntervalMs = 1000
	}
	if c.MTU == 0 {
		c.MTU = 1400
	}
	if c.RecoveryBufferCap == 0 {
		c.RecoveryBufferCap = 10000
	}
	if c.CoalesceCountLimit == 0 {
		c.CoalesceCountLimit = 100
	}
	if c.CoalesceIdleUs == 0 {
		c.CoalesceIdleUs = 1000
	}
	if c.MulticastTTL == 0 {
		c.MulticastTTL = 1
	}
}

// Validate checks the required fields are present.
func (c StreamConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("config: stream name is required")
	}
	if c.MulticastGroup == "" {
		return fmt.Errorf("config: stream %q: multicast_group is required", c.Name)
	}
	if c.MulticastPort == 0 {
		return fmt.Errorf("config: stream %q: multicast_port is required", c.Name)
	}
	if c.RecoveryPort == 0 {
		return fmt.Errorf("config: stream %q: recovery_port is required", c.Name)
	}
	if c.LogPath == "" {
		return fmt.Errorf("config: stream %q: log_path is required", c.Name)
	}
	return nil
}

// Load reads and parses a stream-configuration YAML file, applying
// documented defaults to unset recognised options.
func Load(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	for i := range f.Streams {
		f.Streams[i].applyDefaults()
		if err := f.Streams[i].Validate(); err != nil {
			return nil, err
		}
	}
	return &f, nil
}
