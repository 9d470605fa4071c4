// Package config loads and validates leadagent configuration from
// config.yaml plus environment variables. API keys are never stored in
// the file by default; they come from the environment and are injected
// at load time, mirroring how the agent's runtime reads them.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables carrying the required API keys.
const (
	EnvApolloKey      = "APOLLO_API_KEY"
	EnvRocketReachKey = "ROCKETREACH_API_KEY"
	EnvOpenAIKey      = "OPENAI_API_KEY"
)

// Config holds all leadagent configuration.
type Config struct {
	// External API access
	API APIConfigs `yaml:"api"`

	// Browser automation settings
	Browser BrowserConfig `yaml:"browser"`

	// Proxy pool settings
	Proxies ProxyConfig `yaml:"proxies"`

	// Environment bootstrap paths and tools
	Bootstrap BootstrapConfig `yaml:"bootstrap"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// APIConfigs groups the per-service API settings.
type APIConfigs struct {
	Apollo      ServiceConfig `yaml:"apollo"`
	RocketReach ServiceConfig `yaml:"rocketreach"`
	OpenAI      OpenAIConfig  `yaml:"openai"`
}

// ServiceConfig configures access to one external API.
type ServiceConfig struct {
	BaseURL   string `yaml:"base_url"`
	RateLimit int    `yaml:"rate_limit"` // requests per minute
	APIKey    string `yaml:"api_key,omitempty"`
}

// OpenAIConfig configures the vision model API.
type OpenAIConfig struct {
	BaseURL     string  `yaml:"base_url"`
	RateLimit   int     `yaml:"rate_limit"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	APIKey      string  `yaml:"api_key,omitempty"`
}

// BrowserConfig configures browser automation.
type BrowserConfig struct {
	MaxConcurrent int    `yaml:"max_concurrent"`
	TimeoutMs     int    `yaml:"timeout_ms"`
	RetryAttempts int    `yaml:"retry_attempts"`
	Bin           string `yaml:"bin,omitempty"` // explicit browser binary, empty = auto-resolve
	Headless      bool   `yaml:"headless"`
}

// Timeout returns the navigation timeout as a duration.
func (c BrowserConfig) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// ProxyEntry is one proxy in the pool.
type ProxyEntry struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// ProxyConfig configures proxy rotation.
type ProxyConfig struct {
	RotationIntervalS int          `yaml:"rotation_interval"` // seconds
	MaxFailures       int          `yaml:"max_failures"`
	List              []ProxyEntry `yaml:"list,omitempty"`
}

// RotationInterval returns the rotation interval as a duration.
func (c ProxyConfig) RotationInterval() time.Duration {
	if c.RotationIntervalS <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.RotationIntervalS) * time.Second
}

// BootstrapConfig holds the paths and tool names the bootstrapper uses.
// All paths are relative to the working directory at invocation time.
type BootstrapConfig struct {
	Python       string `yaml:"python"`
	VenvDir      string `yaml:"venv_dir"`
	Requirements string `yaml:"requirements"`
	LogDir       string `yaml:"log_dir"`
	StepTimeout  string `yaml:"step_timeout"`
}

// StepTimeoutDuration parses StepTimeout, falling back to 15m.
func (c BootstrapConfig) StepTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.StepTimeout)
	if err != nil || d <= 0 {
		return 15 * time.Minute
	}
	return d
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfigs{
			Apollo: ServiceConfig{
				BaseURL:   "https://api.apollo.io/v1",
				RateLimit: 50,
			},
			RocketReach: ServiceConfig{
				BaseURL:   "https://api.rocketreach.co/v2/api",
				RateLimit: 50,
			},
			OpenAI: OpenAIConfig{
				BaseURL:     "https://api.openai.com/v1",
				RateLimit:   50,
				Model:       "gpt-4-1106-preview",
				Temperature: 0.1,
			},
		},
		Browser: BrowserConfig{
			MaxConcurrent: 5,
			TimeoutMs:     30000,
			RetryAttempts: 3,
			Headless:      true,
		},
		Proxies: ProxyConfig{
			RotationIntervalS: 300,
			MaxFailures:       3,
		},
		Bootstrap: BootstrapConfig{
			Python:       "python3",
			VenvDir:      "venv",
			Requirements: "requirements.txt",
			LogDir:       "logs",
			StepTimeout:  "15m",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file. A missing file is not an
// error: defaults plus environment overrides are returned.
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

// Save writes the configuration to a YAML file, creating parent
// directories as needed. API keys are stripped first so credentials
// never land on disk.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	clean := *c
	clean.API.Apollo.APIKey = ""
	clean.API.RocketReach.APIKey = ""
	clean.API.OpenAI.APIKey = ""

	data, err := yaml.Marshal(&clean)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides injects API keys from the environment. Environment
// always wins over file values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(EnvApolloKey); v != "" {
		c.API.Apollo.APIKey = v
	}
	if v := os.Getenv(EnvRocketReachKey); v != "" {
		c.API.RocketReach.APIKey = v
	}
	if v := os.Getenv(EnvOpenAIKey); v != "" {
		c.API.OpenAI.APIKey = v
	}
}

// MissingKeysError reports which required API keys are absent.
type MissingKeysError struct {
	Keys []string
}

func (e *MissingKeysError) Error() string {
	return "missing required API keys: " + strings.Join(e.Keys, ", ")
}

// Validate checks that every required API key is present. It does not
// test whether the keys are accepted by the services; that is the live
// check in the apikeys package.
func (c *Config) Validate() error {
	var missing []string
	if c.API.Apollo.APIKey == "" {
		missing = append(missing, EnvApolloKey)
	}
	if c.API.RocketReach.APIKey == "" {
		missing = append(missing, EnvRocketReachKey)
	}
	if c.API.OpenAI.APIKey == "" {
		missing = append(missing, EnvOpenAIKey)
	}
	if len(missing) > 0 {
		return &MissingKeysError{Keys: missing}
	}
	return nil
}
