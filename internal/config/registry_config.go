package config

// RegistryConfig controls scorer-pack loading at startup.
type RegistryConfig struct {
	// PackDirs overrides the standard scorer-pack directories.
	PackDirs []string `mapstructure:"pack_dirs,omitempty"`
	// AutoWatch establishes a fingerprint watch for every pack loaded at
	// startup.
	AutoWatch            bool `mapstructure:"auto_watch"`
	WatchIntervalSeconds int  `mapstructure:"watch_interval_seconds"`
}
