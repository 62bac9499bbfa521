package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Highest accepted motor command; Validate checks the pulse range against it.
const maxCommand = 40

// Config holds all application configuration.
type Config struct {
	DeviceName string         `yaml:"device_name"`
	LogLevel   string         `yaml:"log_level"`
	BLE        BLEConfig      `yaml:"ble"`
	Sensor     SensorConfig   `yaml:"sensor"`
	Actuator   ActuatorConfig `yaml:"actuator"`
	Battery    BatteryConfig  `yaml:"battery"`
	Diag       DiagConfig     `yaml:"diag"`
}

// BLEConfig selects the link-layer backend.
type BLEConfig struct {
	Backend   string `yaml:"backend"`    // "hci" or "bluez"
	AdapterID int    `yaml:"adapter_id"` // hciN, hci backend only
}

// SensorConfig holds pressure sensor settings.
type SensorConfig struct {
	Driver       string        `yaml:"driver"` // "i2c" or "sim"
	Bus          string        `yaml:"bus"`
	Address      uint16        `yaml:"address"`
	Interval     time.Duration `yaml:"interval"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// ActuatorConfig holds motor output settings. Pulse widths are nanoseconds.
type ActuatorConfig struct {
	Driver      string `yaml:"driver"` // "pwm" or "log"
	Pin         string `yaml:"pin"`
	FrequencyHz uint32 `yaml:"frequency_hz"`
	MinPulseNs  uint32 `yaml:"min_pulse_ns"`
	MaxPulseNs  uint32 `yaml:"max_pulse_ns"`
	StepNs      uint32 `yaml:"step_ns"`
}

// BatteryConfig holds battery simulator settings.
type BatteryConfig struct {
	Interval time.Duration `yaml:"interval"`
	Initial  uint8         `yaml:"initial"`
}

// DiagConfig holds diagnostics settings. An empty Listen disables the
// websocket feed.
type DiagConfig struct {
	Listen string `yaml:"listen"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "bloompod")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		DeviceName: "Bloom Pod",
		LogLevel:   "info",
		BLE: BLEConfig{
			Backend: "hci",
		},
		Sensor: SensorConfig{
			Driver:       "i2c",
			Address:      0x28,
			Interval:     10 * time.Millisecond,
			RetryBackoff: 2 * time.Millisecond,
		},
		Actuator: ActuatorConfig{
			Driver:      "pwm",
			Pin:         "GPIO18",
			FrequencyHz: 50,
			MinPulseNs:  1_000_000,
			MaxPulseNs:  2_000_000,
			StepNs:      25_000,
		},
		Battery: BatteryConfig{
			Interval: time.Second,
			Initial:  100,
		},
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// WriteDefault writes the default config to DefaultConfigPath. It returns
// ("", nil) without touching anything if the file already exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	header := "# bloompod configuration\n# See README for field descriptions.\n\n"
	if err := os.WriteFile(path, append([]byte(header), data...), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.DeviceName == "" {
		return fmt.Errorf("device_name must not be empty")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	switch c.BLE.Backend {
	case "hci", "bluez":
	default:
		return fmt.Errorf("ble.backend must be \"hci\" or \"bluez\", got %q", c.BLE.Backend)
	}
	if c.BLE.AdapterID < 0 {
		return fmt.Errorf("ble.adapter_id must be >= 0")
	}

	switch c.Sensor.Driver {
	case "i2c":
		if c.Sensor.Address == 0 || c.Sensor.Address > 0x7f {
			return fmt.Errorf("sensor.address must be a 7-bit I2C address, got 0x%x", c.Sensor.Address)
		}
	case "sim":
	default:
		return fmt.Errorf("sensor.driver must be \"i2c\" or \"sim\", got %q", c.Sensor.Driver)
	}
	if c.Sensor.Interval <= 0 {
		return fmt.Errorf("sensor.interval must be > 0")
	}
	if c.Sensor.RetryBackoff < 0 {
		return fmt.Errorf("sensor.retry_backoff must be >= 0")
	}

	switch c.Actuator.Driver {
	case "pwm":
		if c.Actuator.Pin == "" {
			return fmt.Errorf("actuator.pin must not be empty for the pwm driver")
		}
		if c.Actuator.FrequencyHz == 0 {
			return fmt.Errorf("actuator.frequency_hz must be > 0")
		}
		if period := uint64(1_000_000_000) / uint64(c.Actuator.FrequencyHz); uint64(c.Actuator.MaxPulseNs) > period {
			return fmt.Errorf("actuator.max_pulse_ns %d exceeds the %dns pwm period", c.Actuator.MaxPulseNs, period)
		}
	case "log":
	default:
		return fmt.Errorf("actuator.driver must be \"pwm\" or \"log\", got %q", c.Actuator.Driver)
	}
	if c.Actuator.MinPulseNs >= c.Actuator.MaxPulseNs {
		return fmt.Errorf("actuator.min_pulse_ns (%d) must be below max_pulse_ns (%d)", c.Actuator.MinPulseNs, c.Actuator.MaxPulseNs)
	}
	if c.Actuator.StepNs == 0 {
		return fmt.Errorf("actuator.step_ns must be > 0")
	}
	if top := uint64(c.Actuator.StepNs)*maxCommand + uint64(c.Actuator.MinPulseNs); top > uint64(c.Actuator.MaxPulseNs) {
		return fmt.Errorf("actuator.step_ns %d puts command %d at %dns, above max_pulse_ns %d",
			c.Actuator.StepNs, maxCommand, top, c.Actuator.MaxPulseNs)
	}

	if c.Battery.Interval <= 0 {
		return fmt.Errorf("battery.interval must be > 0")
	}
	if c.Battery.Initial < 1 || c.Battery.Initial > 100 {
		return fmt.Errorf("battery.initial must be in [1, 100], got %d", c.Battery.Initial)
	}

	return nil
}

// ParseLogLevel maps a config log level to slog. Unknown values map to info.
func ParseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
