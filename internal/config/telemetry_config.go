package config

// TelemetryConfig selects how spans and stage-transition records leave the
// process. TracesExporter is one of "otlp-grpc", "otlp-http", "stdout" or
// "none" (the default when empty).
type TelemetryConfig struct {
	TracesExporter string `mapstructure:"traces_exporter,omitempty"`
	Endpoint       string `mapstructure:"endpoint,omitempty"`
	Insecure       bool   `mapstructure:"insecure,omitempty"`
	StageEvents    bool   `mapstructure:"stage_events,omitempty"`
}
