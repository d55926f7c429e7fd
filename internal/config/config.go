// Package config loads canlink node configuration from TOML.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/canlink/internal/protocol/frame"
	"github.com/danmuck/canlink/internal/protocol/session"
	"github.com/danmuck/canlink/internal/transport"
)

var ErrInvalid = errors.New("config: invalid")

type Config struct {
	Node     NodeConfig
	Bus      BusConfig
	Protocol session.Config
	Metrics  MetricsConfig
	Status   StatusConfig
}

type NodeConfig struct {
	Name        string
	Address     uint8
	Promiscuous bool
}

type BusConfig struct {
	Driver    string
	Interface string
}

type MetricsConfig struct {
	Listen string
}

// StatusConfig drives the periodic StatusMsg beacon.
type StatusConfig struct {
	Enabled  bool
	Interval time.Duration
	Target   uint8
	Priority uint8
}

func Default() Config {
	return Config{
		Node: NodeConfig{
			Name:    "canlink",
			Address: 1,
		},
		Bus: BusConfig{
			Driver:    transport.KindSocketCAN,
			Interface: "can0",
		},
		Protocol: session.DefaultConfig(),
		Metrics: MetricsConfig{
			Listen: ":9108",
		},
		Status: StatusConfig{
			Interval: time.Second,
			Target:   frame.Broadcast,
			Priority: 2,
		},
	}
}

type fileConfig struct {
	Node struct {
		Name        string `toml:"name"`
		Address     int    `toml:"address"`
		Promiscuous bool   `toml:"promiscuous"`
	} `toml:"node"`
	Bus struct {
		Driver    string `toml:"driver"`
		Interface string `toml:"interface"`
	} `toml:"bus"`
	Protocol struct {
		RetryLimit        int    `toml:"retry_limit"`
		AckTimeout        string `toml:"ack_timeout"`
		ReassemblyTimeout string `toml:"reassembly_timeout"`
		PollInterval      string `toml:"poll_interval"`
		Backoff           struct {
			InitialDelay string  `toml:"initial_delay"`
			Multiplier   float64 `toml:"multiplier"`
			MaxDelay     string  `toml:"max_delay"`
			Jitter       bool    `toml:"jitter"`
		} `toml:"backoff"`
	} `toml:"protocol"`
	Metrics struct {
		Listen string `toml:"listen"`
	} `toml:"metrics"`
	Status struct {
		Enabled  bool   `toml:"enabled"`
		Interval string `toml:"interval"`
		Target   int    `toml:"target"`
		Priority int    `toml:"priority"`
	} `toml:"status"`
}

// Load reads path over Default. Keys absent from the file keep their
// defaults. The result is validated.
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	cfg, err := apply(Default(), raw, meta)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Decode parses TOML text the same way Load does.
func Decode(data string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg, err := apply(Default(), raw, meta)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func apply(cfg Config, raw fileConfig, meta toml.MetaData) (Config, error) {
	if meta.IsDefined("node", "name") {
		cfg.Node.Name = strings.TrimSpace(raw.Node.Name)
	}
	if meta.IsDefined("node", "address") {
		v, err := smallInt("node.address", raw.Node.Address, frame.MaxAddr)
		if err != nil {
			return Config{}, err
		}
		cfg.Node.Address = v
	}
	if meta.IsDefined("node", "promiscuous") {
		cfg.Node.Promiscuous = raw.Node.Promiscuous
	}

	if meta.IsDefined("bus", "driver") {
		cfg.Bus.Driver = strings.ToLower(strings.TrimSpace(raw.Bus.Driver))
	}
	if meta.IsDefined("bus", "interface") {
		cfg.Bus.Interface = strings.TrimSpace(raw.Bus.Interface)
	}

	p := raw.Protocol
	if meta.IsDefined("protocol", "retry_limit") {
		cfg.Protocol.RetryLimit = p.RetryLimit
	}
	durations := []struct {
		key []string
		raw string
		dst *time.Duration
	}{
		{[]string{"protocol", "ack_timeout"}, p.AckTimeout, &cfg.Protocol.AckTimeout},
		{[]string{"protocol", "reassembly_timeout"}, p.ReassemblyTimeout, &cfg.Protocol.ReassemblyTimeout},
		{[]string{"protocol", "poll_interval"}, p.PollInterval, &cfg.Protocol.PollInterval},
		{[]string{"protocol", "backoff", "initial_delay"}, p.Backoff.InitialDelay, &cfg.Protocol.Backoff.InitialDelay},
		{[]string{"protocol", "backoff", "max_delay"}, p.Backoff.MaxDelay, &cfg.Protocol.Backoff.MaxDelay},
		{[]string{"status", "interval"}, raw.Status.Interval, &cfg.Status.Interval},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key...) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", strings.Join(d.key, "."), err)
		}
		*d.dst = v
	}
	if meta.IsDefined("protocol", "backoff", "multiplier") {
		cfg.Protocol.Backoff.Multiplier = p.Backoff.Multiplier
	}
	if meta.IsDefined("protocol", "backoff", "jitter") {
		cfg.Protocol.Backoff.Jitter = p.Backoff.Jitter
	}

	if meta.IsDefined("metrics", "listen") {
		cfg.Metrics.Listen = strings.TrimSpace(raw.Metrics.Listen)
	}

	if meta.IsDefined("status", "enabled") {
		cfg.Status.Enabled = raw.Status.Enabled
	}
	if meta.IsDefined("status", "target") {
		v, err := smallInt("status.target", raw.Status.Target, frame.MaxAddr)
		if err != nil {
			return Config{}, err
		}
		cfg.Status.Target = v
	}
	if meta.IsDefined("status", "priority") {
		v, err := smallInt("status.priority", raw.Status.Priority, frame.MaxPrio)
		if err != nil {
			return Config{}, err
		}
		cfg.Status.Priority = v
	}
	return cfg, nil
}

func smallInt(key string, v int, max uint8) (uint8, error) {
	if v < 0 || v > int(max) {
		return 0, fmt.Errorf("%w: %s=%d out of range [0,%d]", ErrInvalid, key, v, max)
	}
	return uint8(v), nil
}

func (c Config) Validate() error {
	if c.Node.Name == "" {
		return fmt.Errorf("%w: node.name is required", ErrInvalid)
	}
	if c.Node.Address > frame.MaxAddr {
		return fmt.Errorf("%w: node.address %d out of range", ErrInvalid, c.Node.Address)
	}
	switch c.Bus.Driver {
	case transport.KindLoopback:
	case transport.KindSocketCAN:
		if c.Bus.Interface == "" {
			return fmt.Errorf("%w: bus.interface is required for socketcan", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: bus.driver %q", ErrInvalid, c.Bus.Driver)
	}
	if err := c.Protocol.Validate(); err != nil {
		return err
	}
	if c.Status.Enabled {
		if c.Status.Interval <= 0 {
			return fmt.Errorf("%w: status.interval must be positive", ErrInvalid)
		}
		if c.Status.Target > frame.MaxAddr || c.Status.Priority > frame.MaxPrio {
			return fmt.Errorf("%w: status target or priority out of range", ErrInvalid)
		}
	}
	return nil
}
