// Package config loads CyberGuard configuration from YAML with environment
// overrides. A missing config file is not an error: every section has
// production defaults, so the binary runs out of the box.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all CyberGuard configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Message router tuning
	Router RouterConfig `yaml:"router"`

	// Game master / scenario state machine
	Scenario ScenarioConfig `yaml:"scenario"`

	// Session persistence
	Storage StorageConfig `yaml:"storage"`

	// Threat content generation
	Threat ThreatConfig `yaml:"threat"`

	// Optional LLM enrichment
	LLM LLMConfig `yaml:"llm"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// RouterConfig tunes delivery retries and circuit breakers.
type RouterConfig struct {
	BreakerThreshold int    `yaml:"breaker_threshold"`
	BreakerCoolDown  string `yaml:"breaker_cooldown"`
	DefaultTimeout   string `yaml:"default_timeout"`
	ProbeTimeout     string `yaml:"probe_timeout"`
	BroadcastWindow  string `yaml:"broadcast_window"`
}

// ScenarioConfig tunes the game master.
type ScenarioConfig struct {
	MaxTurns       int    `yaml:"max_turns"`
	RequestTimeout string `yaml:"request_timeout"`
	RequestRetries int    `yaml:"request_retries"`
	TrackTimeout   string `yaml:"track_timeout"`
}

// StorageConfig configures session persistence.
type StorageConfig struct {
	// DatabasePath is the SQLite file; empty means in-memory only.
	DatabasePath string `yaml:"database_path"`
	SessionTTL   string `yaml:"session_ttl"`
}

// ThreatConfig configures scenario content generation.
type ThreatConfig struct {
	SafeRedirectBase string `yaml:"safe_redirect_base"`
	// TemplateDir holds operator-supplied YAML template overrides,
	// hot-reloaded while running. Empty disables the watcher.
	TemplateDir string `yaml:"template_dir"`
}

// LLMConfig configures the optional content-enrichment model.
type LLMConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	Timeout string `yaml:"timeout"`
}

// LoggingConfig configures the categorized file logger.
type LoggingConfig struct {
	Debug      bool            `yaml:"debug"`
	Level      string          `yaml:"level"` // debug, info, warn, error
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "CyberGuard",
		Version: "1.0.0",

		Router: RouterConfig{
			BreakerThreshold: 3,
			BreakerCoolDown:  "5m",
			DefaultTimeout:   "30s",
			ProbeTimeout:     "5s",
			BroadcastWindow:  "10s",
		},

		Scenario: ScenarioConfig{
			MaxTurns:       15,
			RequestTimeout: "30s",
			RequestRetries: 2,
			TrackTimeout:   "5s",
		},

		Storage: StorageConfig{
			DatabasePath: "data/cyberguard.db",
			SessionTTL:   "24h",
		},

		Threat: ThreatConfig{
			SafeRedirectBase: "https://training.cyberguard.local/redirect",
		},

		LLM: LLMConfig{
			Model:   "gemini-2.0-flash",
			Timeout: "30s",
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults when
// the file does not exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("CYBERGUARD_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Enabled = true
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && c.LLM.APIKey == "" {
		c.LLM.APIKey = key
		c.LLM.Enabled = true
	}
	if path := os.Getenv("CYBERGUARD_DB"); path != "" {
		c.Storage.DatabasePath = path
	}
	if dir := os.Getenv("CYBERGUARD_TEMPLATE_DIR"); dir != "" {
		c.Threat.TemplateDir = dir
	}
}

// duration parses a config duration with a fallback for bad or empty values.
func duration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// GetBreakerCoolDown returns the breaker cool-down as a duration.
func (c *Config) GetBreakerCoolDown() time.Duration {
	return duration(c.Router.BreakerCoolDown, 5*time.Minute)
}

// GetDefaultTimeout returns the per-delivery timeout as a duration.
func (c *Config) GetDefaultTimeout() time.Duration {
	return duration(c.Router.DefaultTimeout, 30*time.Second)
}

// GetProbeTimeout returns the health-probe timeout as a duration.
func (c *Config) GetProbeTimeout() time.Duration {
	return duration(c.Router.ProbeTimeout, 5*time.Second)
}

// GetBroadcastWindow returns the bounded broadcast window as a duration.
func (c *Config) GetBroadcastWindow() time.Duration {
	return duration(c.Router.BroadcastWindow, 10*time.Second)
}

// GetRequestTimeout returns the game master's request timeout.
func (c *Config) GetRequestTimeout() time.Duration {
	return duration(c.Scenario.RequestTimeout, 30*time.Second)
}

// GetTrackTimeout returns the decision-report timeout.
func (c *Config) GetTrackTimeout() time.Duration {
	return duration(c.Scenario.TrackTimeout, 5*time.Second)
}

// GetSessionTTL returns the session TTL as a duration.
func (c *Config) GetSessionTTL() time.Duration {
	return duration(c.Storage.SessionTTL, 24*time.Hour)
}

// GetLLMTimeout returns the LLM call timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	return duration(c.LLM.Timeout, 30*time.Second)
}

// Validate checks invariants the rest of the system assumes.
func (c *Config) Validate() error {
	if c.Scenario.MaxTurns < 1 {
		return fmt.Errorf("scenario.max_turns must be at least 1, got %d", c.Scenario.MaxTurns)
	}
	if c.Router.BreakerThreshold < 1 {
		return fmt.Errorf("router.breaker_threshold must be at least 1, got %d", c.Router.BreakerThreshold)
	}
	if c.LLM.Enabled && c.LLM.APIKey == "" {
		return fmt.Errorf("llm enabled but no API key configured (set CYBERGUARD_API_KEY)")
	}
	return nil
}
