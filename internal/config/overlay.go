package config

import (
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g. ROBOREMOTE_SUITCASE_HOST.
const EnvPrefix = "ROBOREMOTE"

// NewOverlay returns a viper instance reading ROBOREMOTE_* environment variables.
// Flags can be bound to it with BindPFlag using the same dotted keys as the YAML file.
func NewOverlay() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// ApplyOverlay copies every key set in v (environment or changed flag) onto cfg,
// then normalizes the result again.
func ApplyOverlay(cfg *Config, v *viper.Viper) error {
	if v.IsSet("suitcase.host") {
		cfg.Suitcase.Host = v.GetString("suitcase.host")
	}
	if v.IsSet("suitcase.transport") {
		cfg.Suitcase.Transport = v.GetString("suitcase.transport")
	}
	if v.IsSet("suitcase.can_interface") {
		cfg.Suitcase.CANInterface = v.GetString("suitcase.can_interface")
	}
	if v.IsSet("suitcase.max_in_flight") {
		cfg.Suitcase.MaxInFlight = v.GetInt("suitcase.max_in_flight")
	}
	if v.IsSet("control.tick_ms") {
		cfg.Control.TickMs = v.GetInt("control.tick_ms")
	}
	if v.IsSet("tilt.source") {
		cfg.Tilt.Source = v.GetString("tilt.source")
	}
	if v.IsSet("knob.enabled") {
		cfg.Knob.Enabled = v.GetBool("knob.enabled")
	}
	if v.IsSet("telemetry.influx_url") {
		cfg.Telemetry.InfluxURL = v.GetString("telemetry.influx_url")
	}
	if v.IsSet("telemetry.influx_token") {
		cfg.Telemetry.InfluxToken = v.GetString("telemetry.influx_token")
	}
	if v.IsSet("defaults.debug_level") {
		cfg.Defaults.DebugLevel = v.GetInt("defaults.debug_level")
	}
	if v.IsSet("defaults.mock_gpio") {
		cfg.Defaults.MockGPIO = v.GetBool("defaults.mock_gpio")
	}
	return cfg.Normalize()
}
