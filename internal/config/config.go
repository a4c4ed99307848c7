// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"net/netip"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"firestige.xyz/bcrelay/internal/core"
)

// GlobalConfig is the daemon configuration. Maps to the `broadcast-relay:`
// root key in YAML.
type GlobalConfig struct {
	Node           NodeConfig           `mapstructure:"node"`
	Control        ControlConfig        `mapstructure:"control"`
	Relay          RelayConfig          `mapstructure:"relay"`
	Capture        CaptureConfig        `mapstructure:"capture"`
	Sender         SenderConfig         `mapstructure:"sender"`
	Persistence    PersistenceConfig    `mapstructure:"persistence"`
	CommandChannel CommandChannelConfig `mapstructure:"command_channel"`
	Metrics        MetricsConfig        `mapstructure:"metrics"`
	Log            LogConfig            `mapstructure:"log"`
}

// ─── Node Identity ───

// NodeConfig identifies this relay on the command channel.
type NodeConfig struct {
	Hostname string `mapstructure:"hostname"` // Empty = os.Hostname()
}

// ─── Control Plane ───

// ControlConfig contains local control plane settings.
type ControlConfig struct {
	Socket  string `mapstructure:"socket"`
	PIDFile string `mapstructure:"pid_file"`
}

// ─── Relay ───

// RelayConfig seeds the relay manager at startup.
type RelayConfig struct {
	// LocalAddresses overrides interface detection when not empty.
	LocalAddresses []string `mapstructure:"local_addresses"`
	Destinations   []string `mapstructure:"destinations"`
	Adapters       []string `mapstructure:"adapters"`
	StatsInterval  string   `mapstructure:"stats_interval"`
	// AutoEnableSingleAdapter enables the host's only capture interface when
	// nothing else is enabled after startup.
	AutoEnableSingleAdapter bool `mapstructure:"auto_enable_single_adapter"`
}

// ─── Capture ───

// CaptureConfig selects the capture backend used for every adapter.
type CaptureConfig struct {
	Backend     string         `mapstructure:"backend"` // pcap | afpacket | file
	SnapLen     int            `mapstructure:"snap_len"`
	Promiscuous bool           `mapstructure:"promiscuous"`
	Timeout     string         `mapstructure:"timeout"`
	BPFFilter   string         `mapstructure:"bpf_filter"`
	Options     map[string]any `mapstructure:"options"` // Backend-specific (buffer_size_mb, path, ...)
}

// DeviceOptions flattens the common capture settings and Options into the
// map handed to the capture factory. Options wins on conflicts.
func (c CaptureConfig) DeviceOptions() map[string]any {
	opts := map[string]any{
		"snap_len":    c.SnapLen,
		"promiscuous": c.Promiscuous,
		"timeout":     c.Timeout,
		"bpf_filter":  c.BPFFilter,
	}
	if c.Backend == "file" {
		delete(opts, "snap_len")
		delete(opts, "promiscuous")
		delete(opts, "timeout")
	}
	for k, v := range c.Options {
		opts[k] = v
	}
	return opts
}

// ─── Sender ───

// SenderConfig configures the raw send socket.
type SenderConfig struct {
	Interface string `mapstructure:"interface"` // Empty = route lookup
}

// ─── Persistence ───

// PersistenceConfig controls where adapter and destination selections are
// kept between runs.
type PersistenceConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// ─── Command Channel ───

// CommandChannelConfig configures the remote command channel.
type CommandChannelConfig struct {
	Enabled    bool               `mapstructure:"enabled"`
	Type       string             `mapstructure:"type"` // "kafka"
	Kafka      CommandKafkaConfig `mapstructure:"kafka"`
	CommandTTL string             `mapstructure:"command_ttl"` // Default "5m"
}

// CommandKafkaConfig contains Kafka-specific command channel settings.
type CommandKafkaConfig struct {
	Brokers         []string `mapstructure:"brokers"`
	Topic           string   `mapstructure:"topic"`
	ResponseTopic   string   `mapstructure:"response_topic"` // Empty = no responses
	GroupID         string   `mapstructure:"group_id"`
	AutoOffsetReset string   `mapstructure:"auto_offset_reset"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level"`  // debug / info / warn / error
	Format  string           `mapstructure:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file"`
	Loki LokiOutputConfig `mapstructure:"loki"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// LokiOutputConfig configures Loki log output.
type LokiOutputConfig struct {
	Enabled      bool              `mapstructure:"enabled"`
	Endpoint     string            `mapstructure:"endpoint"`
	Labels       map[string]string `mapstructure:"labels"`
	BatchSize    int               `mapstructure:"batch_size"`
	BatchTimeout string            `mapstructure:"batch_timeout"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `broadcast-relay: ...`.
type configRoot struct {
	BroadcastRelay GlobalConfig `mapstructure:"broadcast-relay"`
}

// Load loads configuration from file. An empty path loads defaults only.
// Env vars use the BROADCAST_RELAY_ prefix (e.g. BROADCAST_RELAY_LOG_LEVEL).
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// The `broadcast-relay.` key prefix maps to `BROADCAST_RELAY_` through the
	// replacer, e.g. "broadcast-relay.log.level" → "BROADCAST_RELAY_LOG_LEVEL".
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.BroadcastRelay

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use "broadcast-relay." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Control defaults
	v.SetDefault("broadcast-relay.control.pid_file", "/var/run/broadcast-relay.pid")
	v.SetDefault("broadcast-relay.control.socket", "/var/run/broadcast-relay.sock")

	// Relay defaults
	v.SetDefault("broadcast-relay.relay.local_addresses", []string{})
	v.SetDefault("broadcast-relay.relay.destinations", []string{})
	v.SetDefault("broadcast-relay.relay.adapters", []string{})
	v.SetDefault("broadcast-relay.relay.stats_interval", "1s")
	v.SetDefault("broadcast-relay.relay.auto_enable_single_adapter", false)

	// Capture defaults
	v.SetDefault("broadcast-relay.capture.backend", "pcap")
	v.SetDefault("broadcast-relay.capture.snap_len", 65535)
	v.SetDefault("broadcast-relay.capture.promiscuous", false)
	v.SetDefault("broadcast-relay.capture.timeout", "100ms")
	v.SetDefault("broadcast-relay.capture.bpf_filter", "udp and ip")

	// Persistence defaults
	v.SetDefault("broadcast-relay.persistence.enabled", true)
	v.SetDefault("broadcast-relay.persistence.path", "/var/lib/broadcast-relay/selections.yaml")

	// Log defaults
	v.SetDefault("broadcast-relay.log.level", "info")
	v.SetDefault("broadcast-relay.log.format", "json")
	v.SetDefault("broadcast-relay.log.outputs.file.enabled", false)
	v.SetDefault("broadcast-relay.log.outputs.file.path", "/var/log/broadcast-relay/broadcast-relay.log")
	v.SetDefault("broadcast-relay.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("broadcast-relay.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("broadcast-relay.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("broadcast-relay.log.outputs.file.rotation.compress", true)
	v.SetDefault("broadcast-relay.log.outputs.loki.batch_size", 100)
	v.SetDefault("broadcast-relay.log.outputs.loki.batch_timeout", "1s")

	// Metrics defaults
	v.SetDefault("broadcast-relay.metrics.enabled", true)
	v.SetDefault("broadcast-relay.metrics.listen", ":9092")
	v.SetDefault("broadcast-relay.metrics.path", "/metrics")

	// Command channel defaults
	v.SetDefault("broadcast-relay.command_channel.enabled", false)
	v.SetDefault("broadcast-relay.command_channel.type", "kafka")
	v.SetDefault("broadcast-relay.command_channel.kafka.auto_offset_reset", "latest")
	v.SetDefault("broadcast-relay.command_channel.command_ttl", "5m")
}

var captureBackends = []string{"pcap", "afpacket", "file"}

// ValidateAndApplyDefaults validates configuration and applies runtime
// defaults. Every failure wraps core.ErrConfigInvalid.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return invalid("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return invalid("invalid log format: %s (must be json/text)", cfg.Log.Format)
	}
	if cfg.Log.Outputs.Loki.Enabled && cfg.Log.Outputs.Loki.Endpoint == "" {
		return invalid("log.outputs.loki.endpoint is required when loki output is enabled")
	}

	// ── Node hostname auto-detect ──
	if cfg.Node.Hostname == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname: %w", err)
		}
		cfg.Node.Hostname = hostname
	}

	// ── Relay addresses ──
	for _, field := range []struct {
		name  string
		addrs []string
	}{
		{"relay.local_addresses", cfg.Relay.LocalAddresses},
		{"relay.destinations", cfg.Relay.Destinations},
	} {
		for _, s := range field.addrs {
			a, err := netip.ParseAddr(s)
			if err != nil || !a.Unmap().Is4() {
				return invalid("%s: %q is not an IPv4 address", field.name, s)
			}
		}
	}
	if _, err := cfg.Relay.StatsIntervalDuration(); err != nil {
		return invalid("invalid relay.stats_interval %q: %v", cfg.Relay.StatsInterval, err)
	}

	// ── Capture ──
	if !slices.Contains(captureBackends, cfg.Capture.Backend) {
		return invalid("unsupported capture.backend: %s (must be pcap/afpacket/file)", cfg.Capture.Backend)
	}
	if cfg.Capture.Timeout != "" {
		if _, err := time.ParseDuration(cfg.Capture.Timeout); err != nil {
			return invalid("invalid capture.timeout %q: %v", cfg.Capture.Timeout, err)
		}
	}

	// ── Persistence ──
	if cfg.Persistence.Enabled && cfg.Persistence.Path == "" {
		return invalid("persistence.path is required when persistence.enabled=true")
	}

	// ── Command channel validation ──
	if cfg.CommandChannel.Enabled {
		if cfg.CommandChannel.Type != "kafka" {
			return invalid("unsupported command_channel.type: %s (only 'kafka' supported)", cfg.CommandChannel.Type)
		}
		if len(cfg.CommandChannel.Kafka.Brokers) == 0 {
			return invalid("command_channel.kafka.brokers is required when command_channel.enabled=true")
		}
		if cfg.CommandChannel.Kafka.Topic == "" {
			return invalid("command_channel.kafka.topic is required when command_channel.enabled=true")
		}
		if cfg.CommandChannel.Kafka.GroupID == "" {
			cfg.CommandChannel.Kafka.GroupID = "broadcast-relay-" + cfg.Node.Hostname
		}
	}

	return nil
}

// StatsIntervalDuration parses StatsInterval. Empty means disabled.
func (r RelayConfig) StatsIntervalDuration() (time.Duration, error) {
	if r.StatsInterval == "" {
		return 0, nil
	}
	return time.ParseDuration(r.StatsInterval)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), core.ErrConfigInvalid)
}
