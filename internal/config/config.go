package config

// Config is the root of the service configuration loaded from
// config/config.yaml plus environment and secret overrides.
type Config struct {
	Service   ServiceConfig   `mapstructure:"service"`
	Executor  ExecutorConfig  `mapstructure:"executor"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Database  *map[string]any `mapstructure:"database"`
	Tracker   *TrackerConfig  `mapstructure:"tracker"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}
