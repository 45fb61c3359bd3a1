package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"
)

// Transports supported for suitcase commands.
const (
	TransportHTTP = "http"
	TransportCAN  = "can"
)

// Tilt sources.
const (
	TiltMock    = "mock"
	TiltMPU6050 = "mpu6050"
)

// SuitcaseConfig describes where and how commands are sent.
type SuitcaseConfig struct {
	Host         string `yaml:"host"`          // e.g. "robosuitcase.wifi.local.cmu.edu"
	Path         string `yaml:"path"`          // HTTP path, default "/motor"
	Transport    string `yaml:"transport"`     // "http" or "can"
	MaxInFlight  int    `yaml:"max_in_flight"` // concurrent requests allowed; 0 = unbounded
	TimeoutMs    int    `yaml:"timeout_ms"`    // per-request timeout; 0 = transport default
	CANInterface string `yaml:"can_interface"` // SocketCAN interface, e.g. "can0"
	CANFrameID   uint32 `yaml:"can_frame_id"`  // frame ID for motor commands
}

// ControlConfig holds the dispatch timer parameters.
type ControlConfig struct {
	TickMs      int `yaml:"tick_ms"`      // dispatch period (200ms)
	ToleranceMs int `yaml:"tolerance_ms"` // lateness before a tick counts as late (20ms)
}

// TiltConfig selects the attitude source.
type TiltConfig struct {
	Source   string `yaml:"source"`    // "mock" or "mpu6050"
	I2CBus   string `yaml:"i2c_bus"`   // periph bus name; "" = first available
	I2CAddr  uint16 `yaml:"i2c_addr"`  // 0x68 by default
	SampleMs int    `yaml:"sample_ms"` // sensor polling period (10ms)
}

// KnobConfig describes the GPIO wiring of the rotary encoder and buttons (BCM numbering).
type KnobConfig struct {
	Enabled        bool    `yaml:"enabled"`
	PinA           int     `yaml:"pin_a"`
	PinB           int     `yaml:"pin_b"`
	TogglePin      int     `yaml:"toggle_pin"` // start/stop button, 0 = not wired
	ResetPin       int     `yaml:"reset_pin"`  // reset tilt button, 0 = not wired
	LEDPin         int     `yaml:"led_pin"`    // enabled indicator, 0 = not wired
	DeltaPerDetent float64 `yaml:"delta_per_detent"`
}

// SessionConfig holds the keep-alive lease settings.
type SessionConfig struct {
	KeepAliveSec int `yaml:"keepalive_s"`
}

// TelemetryConfig configures tick statistics and the optional InfluxDB export.
type TelemetryConfig struct {
	MeterIntervalSec int    `yaml:"meter_interval_s"`
	InfluxURL        string `yaml:"influx_url"` // empty disables export
	InfluxToken      string `yaml:"influx_token"`
	InfluxOrg        string `yaml:"influx_org"`
	InfluxBucket     string `yaml:"influx_bucket"`
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int  `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio"`   // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	Suitcase  SuitcaseConfig  `yaml:"suitcase"`
	Control   ControlConfig   `yaml:"control"`
	Tilt      TiltConfig      `yaml:"tilt"`
	Knob      KnobConfig      `yaml:"knob"`
	Session   SessionConfig   `yaml:"session"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Defaults  DefaultsConfig  `yaml:"defaults"`
}

// Load reads a YAML file and returns the configuration.
// A leading "~" in path is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("expand config path: %w", err)
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize fills defaults and validates the configuration.
// It is called by Load and again after overrides are applied.
func (c *Config) Normalize() error {
	if c.Suitcase.Transport == "" {
		c.Suitcase.Transport = TransportHTTP
	}
	switch c.Suitcase.Transport {
	case TransportHTTP:
		if c.Suitcase.Host == "" {
			return fmt.Errorf("suitcase.host is required")
		}
	case TransportCAN:
		if c.Suitcase.CANInterface == "" {
			return fmt.Errorf("suitcase.can_interface is required for can transport")
		}
	default:
		return fmt.Errorf("unsupported suitcase.transport: %s", c.Suitcase.Transport)
	}
	if c.Suitcase.Path == "" {
		c.Suitcase.Path = "/motor"
	}
	if c.Suitcase.MaxInFlight < 0 {
		return fmt.Errorf("suitcase.max_in_flight must be >= 0, got %d", c.Suitcase.MaxInFlight)
	}
	if c.Suitcase.TimeoutMs < 0 {
		return fmt.Errorf("suitcase.timeout_ms must be >= 0, got %d", c.Suitcase.TimeoutMs)
	}
	if c.Suitcase.CANFrameID == 0 {
		c.Suitcase.CANFrameID = 0x120
	}

	if c.Control.TickMs <= 0 {
		c.Control.TickMs = 200 // 0.2s dispatch period
	}
	if c.Control.ToleranceMs <= 0 {
		c.Control.ToleranceMs = 20
	}
	if c.Control.ToleranceMs >= c.Control.TickMs {
		return fmt.Errorf("control.tolerance_ms (%d) must be < control.tick_ms (%d)", c.Control.ToleranceMs, c.Control.TickMs)
	}

	if c.Tilt.Source == "" {
		c.Tilt.Source = TiltMock
	}
	if c.Tilt.Source != TiltMock && c.Tilt.Source != TiltMPU6050 {
		return fmt.Errorf("unsupported tilt.source: %s", c.Tilt.Source)
	}
	if c.Tilt.I2CAddr == 0 {
		c.Tilt.I2CAddr = 0x68
	}
	if c.Tilt.SampleMs <= 0 {
		c.Tilt.SampleMs = 10
	}

	if c.Knob.Enabled && (c.Knob.PinA <= 0 || c.Knob.PinB <= 0) {
		return fmt.Errorf("knob.pin_a and knob.pin_b are required when the knob is enabled")
	}
	if c.Knob.DeltaPerDetent <= 0 {
		c.Knob.DeltaPerDetent = 0.01 // 2 power units per detent
	}

	if c.Session.KeepAliveSec <= 0 {
		c.Session.KeepAliveSec = 30
	}
	if c.Telemetry.MeterIntervalSec <= 0 {
		c.Telemetry.MeterIntervalSec = 10
	}
	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("defaults.debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	return nil
}

// TickPeriod returns the dispatch timer period.
func (c *Config) TickPeriod() time.Duration {
	return time.Duration(c.Control.TickMs) * time.Millisecond
}

// TickTolerance returns how late a tick may fire before being reported.
func (c *Config) TickTolerance() time.Duration {
	return time.Duration(c.Control.ToleranceMs) * time.Millisecond
}

// SamplePeriod returns the tilt sensor polling period.
func (c *Config) SamplePeriod() time.Duration {
	return time.Duration(c.Tilt.SampleMs) * time.Millisecond
}

// RequestTimeout returns the per-command timeout (0 = none).
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Suitcase.TimeoutMs) * time.Millisecond
}

// KeepAlive returns the keep-alive lease duration.
func (c *Config) KeepAlive() time.Duration {
	return time.Duration(c.Session.KeepAliveSec) * time.Second
}

// MeterInterval returns how often tick statistics are logged.
func (c *Config) MeterInterval() time.Duration {
	return time.Duration(c.Telemetry.MeterIntervalSec) * time.Second
}

// Endpoint returns the base URL commands are sent to (without query).
func (c *Config) Endpoint() string {
	return "http://" + c.Suitcase.Host + c.Suitcase.Path
}
