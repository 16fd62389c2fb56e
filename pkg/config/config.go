package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultBaudRate is the fixed baud rate of the SEK sensor bridge.
	DefaultBaudRate = 460800
	// MinRateHz and MaxRateHz bound the sampling frequency.
	MinRateHz = 0.01
	MaxRateHz = 1000.0
)

// SupplyOptions lists the supply voltages the sensor bridge can provide.
var SupplyOptions = []float64{3.3, 5.0}

// Config represents the application configuration.
type Config struct {
	Serial   SerialConfig    `yaml:"serial"`
	Supply   SupplyConfig    `yaml:"supply"`
	Channels []ChannelConfig `yaml:"channels"`
	Sampling SamplingConfig  `yaml:"sampling"`
	Formula  string          `yaml:"formula"`
	Metadata string          `yaml:"metadata"` // Free-form key/value header text
	Output   OutputConfig    `yaml:"output"`
	Log      LogConfig       `yaml:"log"`
	Metrics  MetricsConfig   `yaml:"metrics"`
	MQTT     MQTTConfig      `yaml:"mqtt"`
	Redis    RedisConfig     `yaml:"redis"`
	Influx   InfluxConfig    `yaml:"influx"`
	Mock     MockConfig      `yaml:"mock"`
}

// SerialConfig contains serial port configuration.
type SerialConfig struct {
	Port     string        `yaml:"port"`
	BaudRate int           `yaml:"baud_rate"`
	Timeout  time.Duration `yaml:"timeout"` // Per-command response timeout
}

// SupplyConfig selects the supply voltage applied to every active channel.
type SupplyConfig struct {
	Voltage float64 `yaml:"voltage"`
}

// ChannelConfig declares one logical bridge channel.
type ChannelConfig struct {
	Name   string `yaml:"name"`
	Index  int    `yaml:"index"`
	Active bool   `yaml:"active"`
}

// SamplingConfig contains scheduler parameters.
type SamplingConfig struct {
	RateHz        float64 `yaml:"rate_hz"`
	DisplayPoints int     `yaml:"display_points"` // Capacity of the per-channel display buffer
}

// OutputConfig contains data file parameters.
type OutputConfig struct {
	Dir       string `yaml:"dir"`
	Extension string `yaml:"extension"`
	Precision int    `yaml:"precision"` // Decimal places for voltage and computed values
	AppInfo   string `yaml:"app_info"`
}

// LogConfig contains logger parameters.
type LogConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"` // text or json
	Output   string `yaml:"output"` // stdout or file
	FilePath string `yaml:"file_path"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// MQTTConfig controls the optional MQTT live mirror.
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Server   string `yaml:"server"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// RedisConfig controls the optional Redis pub/sub mirror.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// InfluxConfig controls the optional InfluxDB mirror.
type InfluxConfig struct {
	Enabled     bool   `yaml:"enabled"`
	URL         string `yaml:"url"`
	Token       string `yaml:"token"`
	Org         string `yaml:"org"`
	Bucket      string `yaml:"bucket"`
	Measurement string `yaml:"measurement"`
}

// MockConfig contains simulated bridge configuration.
type MockConfig struct {
	Offset     float64       `yaml:"offset"`      // Mean voltage as a fraction of supply
	Amplitude  float64       `yaml:"amplitude"`   // Sine amplitude (V)
	Period     time.Duration `yaml:"period"`      // Sine period
	NoiseLevel float64       `yaml:"noise_level"` // Noise level (V)
	Latency    time.Duration `yaml:"latency"`     // Simulated per-command latency
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Port:     "COM3", // Default for Windows, "/dev/ttyUSB0" on Linux
			BaudRate: DefaultBaudRate,
			Timeout:  500 * time.Millisecond,
		},
		Supply: SupplyConfig{
			Voltage: 3.3,
		},
		Channels: []ChannelConfig{
			{Name: "Port1", Index: 0, Active: true},
			{Name: "Port2", Index: 1, Active: true},
		},
		Sampling: SamplingConfig{
			RateHz:        1,
			DisplayPoints: 3600,
		},
		Formula:  "x",
		Metadata: "{TestName: Logi, Port1: {SensorName: Sen66_1, SensorId: '11', SampleRate: '1'}, Port2: {SensorName: Sen66_2, SensorId: '222', SampleRate: '1'}}",
		Output: OutputConfig{
			Dir:       ".",
			Extension: "edf",
			Precision: 3,
			AppInfo:   "designed by NWU",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9090",
		},
		MQTT: MQTTConfig{
			Server:   "tcp://localhost:1883",
			ClientID: "analogread",
			Topic:    "analogread",
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			Channel: "analogread",
		},
		Influx: InfluxConfig{
			URL:         "http://localhost:8086",
			Bucket:      "analogread",
			Measurement: "bridge",
		},
		Mock: MockConfig{
			Offset:     0.5,
			Amplitude:  0.25,
			Period:     10 * time.Second,
			NoiseLevel: 0.005,
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file: %w", err)
	}

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	if !ValidSupply(c.Supply.Voltage) {
		return fmt.Errorf("supply voltage %.1fV not supported (want 3.3 or 5)", c.Supply.Voltage)
	}
	if c.Sampling.RateHz < MinRateHz || c.Sampling.RateHz > MaxRateHz {
		return fmt.Errorf("sampling rate %gHz out of range [%g, %g]", c.Sampling.RateHz, MinRateHz, MaxRateHz)
	}

	names := make(map[string]bool, len(c.Channels))
	indices := make(map[int]bool, len(c.Channels))
	for _, ch := range c.Channels {
		if ch.Name == "" {
			return errors.New("channel without name")
		}
		if names[ch.Name] {
			return fmt.Errorf("duplicate channel name %q", ch.Name)
		}
		if indices[ch.Index] {
			return fmt.Errorf("duplicate channel index %d", ch.Index)
		}
		names[ch.Name] = true
		indices[ch.Index] = true
	}

	return nil
}

// ValidSupply reports whether v is one of SupplyOptions.
func ValidSupply(v float64) bool {
	for _, opt := range SupplyOptions {
		if v == opt {
			return true
		}
	}
	return false
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = def.Serial.BaudRate
	}
	if c.Serial.Timeout == 0 {
		c.Serial.Timeout = def.Serial.Timeout
	}

	if c.Supply.Voltage == 0 {
		c.Supply.Voltage = def.Supply.Voltage
	}

	if len(c.Channels) == 0 {
		c.Channels = def.Channels
	}

	if c.Sampling.RateHz == 0 {
		c.Sampling.RateHz = def.Sampling.RateHz
	}
	if c.Sampling.DisplayPoints == 0 {
		c.Sampling.DisplayPoints = def.Sampling.DisplayPoints
	}

	if c.Output.Dir == "" {
		c.Output.Dir = def.Output.Dir
	}
	if c.Output.Extension == "" {
		c.Output.Extension = def.Output.Extension
	}
	if c.Output.Precision == 0 {
		c.Output.Precision = def.Output.Precision
	}
	if c.Output.AppInfo == "" {
		c.Output.AppInfo = def.Output.AppInfo
	}

	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
	if c.Log.Output == "" {
		c.Log.Output = def.Log.Output
	}

	if c.Metrics.Addr == "" {
		c.Metrics.Addr = def.Metrics.Addr
	}

	if c.Mock.Period == 0 {
		c.Mock.Period = def.Mock.Period
	}
}
