package config

import (
	"crypto/tls"
	"time"
)

// TrackerConfig points the publisher at an MLflow compatible tracking server.
// Publishing is disabled when TrackingURI is empty.
type TrackerConfig struct {
	TrackingURI        string        `mapstructure:"tracking_uri"`
	Experiment         string        `mapstructure:"experiment"`
	HTTPTimeout        time.Duration `mapstructure:"http_timeout"`
	Secure             bool          `mapstructure:"secure"`
	CACertPath         string        `mapstructure:"ca_cert_path"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
	TokenPath          string        `mapstructure:"token_path"`
	Token              string        `mapstructure:"token"` // usually injected through the secrets mapping
	TLSConfig          *tls.Config   // not serialized
}
