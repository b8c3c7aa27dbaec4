// Package config loads and writes the TOML file shared by the linkd
// subcommands.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"tellolink/pkg/link"
	"tellolink/pkg/logger"
)

const DefaultConfigPath = "tellolink.toml"

type Config struct {
	Link       LinkConfig   `toml:"link"`
	Log        LogConfig    `toml:"log"`
	Bridge     BridgeConfig `toml:"bridge"`
	Sim        SimConfig    `toml:"sim"`
	configPath string       `toml:"-"`
}

type LinkConfig struct {
	ResponseAddr       string `toml:"response_addr"`
	TelemetryAddr      string `toml:"telemetry_addr"`
	VehicleAddr        string `toml:"vehicle_addr"`
	InitAttempts       int    `toml:"init_attempts"`
	HandshakeTimeout   string `toml:"handshake_timeout"`
	CommandTimeout     string `toml:"command_timeout"`
	CycleInterval      string `toml:"cycle_interval"`
	MaxCommandAttempts int    `toml:"max_command_attempts"`
	ReadBuffer         int    `toml:"read_buffer"`
	EventBuffer        int    `toml:"event_buffer"`
	// HaltGrace bounds how long shutdown waits for the landing ack before
	// closing the link anyway.
	HaltGrace string `toml:"halt_grace"`
}

type LogConfig struct {
	Level   string `toml:"level"`
	File    string `toml:"file,omitempty"`
	Traffic bool   `toml:"traffic"`
	Control bool   `toml:"control"`
}

type BridgeConfig struct {
	Enabled        bool   `toml:"enabled"`
	WSAddr         string `toml:"ws_addr"`
	TelemetryTopic string `toml:"telemetry_topic"`
	AckTopic       string `toml:"ack_topic"`
	CommandTopic   string `toml:"command_topic"`
	LogName        string `toml:"log_name"`
}

// SimConfig drives the mock subcommand. Its address must differ from the
// link's response address when both run on one host.
type SimConfig struct {
	Addr          string `toml:"addr"`
	TelemetryAddr string `toml:"telemetry_addr"`
	TelemetryHz   int    `toml:"telemetry_hz"`
}

func Default() Config {
	def := link.DefaultConfig()
	return Config{
		Link: LinkConfig{
			ResponseAddr:       def.ResponseAddr,
			TelemetryAddr:      def.TelemetryAddr,
			VehicleAddr:        def.VehicleAddr,
			InitAttempts:       def.InitAttempts,
			HandshakeTimeout:   def.HandshakeTimeout.String(),
			CommandTimeout:     def.CommandTimeout.String(),
			CycleInterval:      def.CycleInterval.String(),
			MaxCommandAttempts: def.MaxCommandAttempts,
			ReadBuffer:         def.ReadBufferSize,
			EventBuffer:        64,
			HaltGrace:          "10s",
		},
		Log: LogConfig{
			Level: "info",
		},
		Bridge: BridgeConfig{
			Enabled:        true,
			WSAddr:         "127.0.0.1:8765",
			TelemetryTopic: "/tellolink/telemetry",
			AckTopic:       "/tellolink/ack",
			CommandTopic:   "/tellolink/command",
			LogName:        "tellolink",
		},
		Sim: SimConfig{
			Addr:          "127.0.0.1:18889",
			TelemetryAddr: "127.0.0.1:8890",
			TelemetryHz:   10,
		},
	}
}

func Load(path string) (Config, error) {
	cfg, exists, err := LoadOrDefault(path)
	if err != nil {
		return Config{}, err
	}
	if !exists {
		return Config{}, os.ErrNotExist
	}
	return cfg, nil
}

// LoadOrDefault reads path over the defaults. A missing file is not an error;
// exists reports whether one was read.
func LoadOrDefault(path string) (Config, bool, error) {
	cfg := Default()
	cfg.configPath = path

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.normalize(path)
			return cfg, false, nil
		}
		return Config{}, false, fmt.Errorf("read config: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, true, fmt.Errorf("parse config: %w", err)
	}
	cfg.normalize(path)

	if err := cfg.Validate(); err != nil {
		return Config{}, true, err
	}
	return cfg, true, nil
}

func (cfg *Config) Save(path string) error {
	cfg.normalize(path)
	if err := cfg.Validate(); err != nil {
		return err
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (cfg *Config) ConfigPath() string {
	return cfg.configPath
}

func (cfg *Config) Validate() error {
	if _, err := cfg.LinkConfig(); err != nil {
		return err
	}
	if _, err := cfg.HaltGrace(); err != nil {
		return err
	}
	if cfg.Link.EventBuffer < 0 {
		return fmt.Errorf("link.event_buffer must not be negative, got %d", cfg.Link.EventBuffer)
	}
	if _, err := logger.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if cfg.Bridge.Enabled && cfg.Bridge.WSAddr == "" {
		return fmt.Errorf("bridge.ws_addr is required when the bridge is enabled")
	}
	if cfg.Sim.TelemetryHz < 0 {
		return fmt.Errorf("sim.telemetry_hz must not be negative, got %d", cfg.Sim.TelemetryHz)
	}
	return nil
}

// LinkConfig converts the [link] section, parsing its durations.
func (cfg *Config) LinkConfig() (link.Config, error) {
	out := link.Config{
		ResponseAddr:       cfg.Link.ResponseAddr,
		TelemetryAddr:      cfg.Link.TelemetryAddr,
		VehicleAddr:        cfg.Link.VehicleAddr,
		InitAttempts:       cfg.Link.InitAttempts,
		MaxCommandAttempts: cfg.Link.MaxCommandAttempts,
		ReadBufferSize:     cfg.Link.ReadBuffer,
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"link.handshake_timeout", cfg.Link.HandshakeTimeout, &out.HandshakeTimeout},
		{"link.command_timeout", cfg.Link.CommandTimeout, &out.CommandTimeout},
		{"link.cycle_interval", cfg.Link.CycleInterval, &out.CycleInterval},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return link.Config{}, fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = v
	}

	if err := out.Validate(); err != nil {
		return link.Config{}, err
	}
	return out, nil
}

func (cfg *Config) HaltGrace() (time.Duration, error) {
	d, err := time.ParseDuration(cfg.Link.HaltGrace)
	if err != nil {
		return 0, fmt.Errorf("link.halt_grace: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("link.halt_grace must be positive, got %s", d)
	}
	return d, nil
}

func (cfg *Config) normalize(path string) {
	def := Default()

	if cfg.Link.ResponseAddr == "" {
		cfg.Link.ResponseAddr = def.Link.ResponseAddr
	}
	if cfg.Link.TelemetryAddr == "" {
		cfg.Link.TelemetryAddr = def.Link.TelemetryAddr
	}
	if cfg.Link.VehicleAddr == "" {
		cfg.Link.VehicleAddr = def.Link.VehicleAddr
	}
	if cfg.Link.InitAttempts <= 0 {
		cfg.Link.InitAttempts = def.Link.InitAttempts
	}
	if cfg.Link.HandshakeTimeout == "" {
		cfg.Link.HandshakeTimeout = def.Link.HandshakeTimeout
	}
	if cfg.Link.CommandTimeout == "" {
		cfg.Link.CommandTimeout = def.Link.CommandTimeout
	}
	if cfg.Link.CycleInterval == "" {
		cfg.Link.CycleInterval = def.Link.CycleInterval
	}
	if cfg.Link.ReadBuffer <= 0 {
		cfg.Link.ReadBuffer = def.Link.ReadBuffer
	}
	if cfg.Link.HaltGrace == "" {
		cfg.Link.HaltGrace = def.Link.HaltGrace
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}

	if cfg.Bridge.TelemetryTopic == "" {
		cfg.Bridge.TelemetryTopic = def.Bridge.TelemetryTopic
	}
	if cfg.Bridge.AckTopic == "" {
		cfg.Bridge.AckTopic = def.Bridge.AckTopic
	}
	if cfg.Bridge.CommandTopic == "" {
		cfg.Bridge.CommandTopic = def.Bridge.CommandTopic
	}
	if cfg.Bridge.LogName == "" {
		cfg.Bridge.LogName = def.Bridge.LogName
	}

	if cfg.Sim.Addr == "" {
		cfg.Sim.Addr = def.Sim.Addr
	}
	if cfg.Sim.TelemetryHz == 0 {
		cfg.Sim.TelemetryHz = def.Sim.TelemetryHz
	}

	if path == "" {
		path = cfg.configPath
	}
	if path == "" {
		path = DefaultConfigPath
	}
	cfg.configPath = path
}
