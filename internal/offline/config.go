package offline

import "time"

// Config defines the sync coordinator configuration.
type Config struct {
	// SyncInterval is how often the queue is drained while online.
	SyncInterval time.Duration `yaml:"sync_interval"`
	// ProbeInterval is how often remote health is checked. Zero disables
	// probing.
	ProbeInterval time.Duration `yaml:"probe_interval"`
	// ProbeTimeout bounds a single health check.
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

// DefaultConfig returns the default coordinator configuration.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:  30 * time.Second,
		ProbeInterval: 15 * time.Second,
		ProbeTimeout:  5 * time.Second,
	}
}
