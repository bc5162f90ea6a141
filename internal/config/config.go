// Package config loads the CleanSpace runtime configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cleanspace/airquest/internal/models"
	"github.com/cleanspace/airquest/internal/offline"
	"github.com/cleanspace/airquest/internal/sim"
	"gopkg.in/yaml.v3"
)

// Remote modes.
const (
	RemoteSupabase = "supabase"
	RemoteMemory   = "memory"
)

// ErrInvalid is wrapped by validation failures.
var ErrInvalid = errors.New("invalid config")

// RemoteConfig selects and configures the hosted backend.
type RemoteConfig struct {
	// Mode is supabase or memory. Memory keeps everything in-process.
	Mode    string `yaml:"mode"`
	URL     string `yaml:"url"`
	AnonKey string `yaml:"anon_key"`
	// AuthURL is the browser sign-in page used by the login command.
	AuthURL string `yaml:"auth_url"`
	// Realtime subscribes to remote mission progress changes.
	Realtime bool `yaml:"realtime"`
}

// ProvidersConfig holds external data provider settings.
type ProvidersConfig struct {
	OpenAQKey     string   `yaml:"openaq_key"`
	FirmsKey      string   `yaml:"firms_key"`
	RatePerSecond float64  `yaml:"rate_per_second"`
	Disabled      []string `yaml:"disabled"`
}

// IsDisabled reports whether the named provider is switched off.
func (p ProvidersConfig) IsDisabled(name string) bool {
	for _, d := range p.Disabled {
		if d == name {
			return true
		}
	}
	return false
}

// AssistantConfig configures the recommendation model.
type AssistantConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// QueueConfig configures action retries.
type QueueConfig struct {
	BackoffBase time.Duration `yaml:"backoff_base"`
	BackoffMax  time.Duration `yaml:"backoff_max"`
}

// CacheConfig configures local snapshot staleness.
type CacheConfig struct {
	MaxAge time.Duration `yaml:"max_age"`
}

// Config holds the full runtime configuration.
type Config struct {
	DataDir    string          `yaml:"data_dir"`
	ListenAddr string          `yaml:"listen_addr"`
	Location   models.Location `yaml:"location"`
	Remote     RemoteConfig    `yaml:"remote"`
	Providers  ProvidersConfig `yaml:"providers"`
	Assistant  AssistantConfig `yaml:"assistant"`
	Queue      QueueConfig     `yaml:"queue"`
	Sync       offline.Config  `yaml:"sync"`
	Cache      CacheConfig     `yaml:"cache"`
	Sim        sim.Config      `yaml:"sim"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	cfg := &Config{
		Remote: RemoteConfig{Mode: RemoteMemory},
		Location: models.Location{
			Latitude:  40.7128,
			Longitude: -74.0060,
			City:      "New York",
			Country:   "US",
		},
	}
	cfg.applyDefaults()
	return cfg
}

// DBPath returns the local database file.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "cleanspace.db")
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.DataDir = filepath.Join(home, ".cleanspace")
		} else {
			c.DataDir = ".cleanspace"
		}
	}
	if c.ListenAddr == "" {
		c.ListenAddr = "127.0.0.1:7466"
	}
	if c.Remote.Mode == "" {
		c.Remote.Mode = RemoteMemory
		if c.Remote.URL != "" {
			c.Remote.Mode = RemoteSupabase
		}
	}
	if c.Remote.AuthURL == "" {
		c.Remote.AuthURL = "https://cleanspace.app/auth/cli/"
	}
	if c.Providers.RatePerSecond == 0 {
		c.Providers.RatePerSecond = 2
	}
	if c.Assistant.Model == "" {
		c.Assistant.Model = "gemini-1.5-flash"
	}
	if c.Queue.BackoffBase > 0 && c.Queue.BackoffMax == 0 {
		c.Queue.BackoffMax = 10 * time.Minute
	}

	d := offline.DefaultConfig()
	if c.Sync.SyncInterval == 0 {
		c.Sync.SyncInterval = d.SyncInterval
	}
	if c.Sync.ProbeInterval == 0 {
		c.Sync.ProbeInterval = d.ProbeInterval
	}
	if c.Sync.ProbeTimeout == 0 {
		c.Sync.ProbeTimeout = d.ProbeTimeout
	}
	if c.Cache.MaxAge == 0 {
		c.Cache.MaxAge = time.Hour
	}

	sd := sim.DefaultConfig()
	if c.Sim.Duration == 0 {
		c.Sim = sd
	}
}

// applyEnv overrides secrets from the environment.
func (c *Config) applyEnv() {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.Remote.URL, "CLEANSPACE_SUPABASE_URL")
	set(&c.Remote.AnonKey, "CLEANSPACE_SUPABASE_KEY")
	set(&c.Providers.OpenAQKey, "CLEANSPACE_OPENAQ_KEY")
	set(&c.Providers.FirmsKey, "CLEANSPACE_FIRMS_KEY")
	set(&c.Assistant.APIKey, "CLEANSPACE_GEMINI_KEY")
	if c.Remote.URL != "" && os.Getenv("CLEANSPACE_SUPABASE_URL") != "" {
		c.Remote.Mode = RemoteSupabase
	}
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var problems []string

	switch c.Remote.Mode {
	case RemoteMemory:
	case RemoteSupabase:
		if c.Remote.URL == "" {
			problems = append(problems, "remote.url is required in supabase mode")
		}
		if c.Remote.AnonKey == "" {
			problems = append(problems, "remote.anon_key is required in supabase mode")
		}
	default:
		problems = append(problems, fmt.Sprintf("remote.mode %q must be supabase or memory", c.Remote.Mode))
	}
	if !c.Location.Valid() {
		problems = append(problems, "location coordinates are out of range")
	}
	if c.Sync.SyncInterval < time.Second {
		problems = append(problems, "sync.sync_interval must be at least 1s")
	}
	if c.Sync.ProbeInterval < 0 {
		problems = append(problems, "sync.probe_interval must not be negative")
	}
	if c.Queue.BackoffBase < 0 || c.Queue.BackoffMax < 0 {
		problems = append(problems, "queue backoff must not be negative")
	}
	if c.Queue.BackoffBase > 0 && c.Queue.BackoffMax < c.Queue.BackoffBase {
		problems = append(problems, "queue.backoff_max must be at least queue.backoff_base")
	}
	if c.Providers.RatePerSecond < 0 {
		problems = append(problems, "providers.rate_per_second must not be negative")
	}
	if c.Sim.Duration < 0 || c.Sim.SafeAQI < 0 {
		problems = append(problems, "sim duration and safe_aqi must not be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// Load reads a YAML config file. A missing file yields the defaults.
// Environment overrides are applied before validation.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if cfg.Location == (models.Location{}) {
		cfg.Location = DefaultConfig().Location
	}
	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultPath returns ~/.cleanspace/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".cleanspace", "config.yaml")
	}
	return filepath.Join(home, ".cleanspace", "config.yaml")
}

// Save writes cfg as YAML, creating parent directories.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
