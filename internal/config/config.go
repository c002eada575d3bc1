package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	AuthModePassword  = "password"
	AuthModeDelegated = "delegated"
)

// Config models nexus.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Storage struct {
		Workspace string `yaml:"workspace"`
	} `yaml:"storage"`
	Auth      Auth            `yaml:"auth"`
	Log       Log             `yaml:"log"`
	RateLimit RateLimit       `yaml:"rate_limit"`
	Webhooks  []WebhookConfig `yaml:"webhooks"`
}

type Auth struct {
	Mode       string        `yaml:"mode"`
	JWTSecret  string        `yaml:"jwt_secret"`
	SessionTTL time.Duration `yaml:"session_ttl"`
	Delegated  struct {
		Issuer string `yaml:"issuer"`
		Secret string `yaml:"secret"`
	} `yaml:"delegated"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RateLimit configures per-caller token buckets; RPS <= 0 disables limiting.
type RateLimit struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type WebhookConfig struct {
	URL    string   `yaml:"url"`
	Secret string   `yaml:"secret"`
	Events []string `yaml:"events"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with nexus config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	cfg, err := Load(workspace)
	if err == nil {
		return cfg, nil
	}
	if _, statErr := os.Stat(Path(workspace)); os.IsNotExist(statErr) {
		return Default(), nil
	}
	return nil, err
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Auth.Mode {
	case AuthModePassword:
	case AuthModeDelegated:
		if strings.TrimSpace(c.Auth.Delegated.Issuer) == "" {
			return fmt.Errorf("config.auth.delegated.issuer is required in delegated mode")
		}
	default:
		return fmt.Errorf("config.auth.mode must be %q or %q, got %q", AuthModePassword, AuthModeDelegated, c.Auth.Mode)
	}
	if c.Auth.SessionTTL < 0 {
		return fmt.Errorf("config.auth.session_ttl must not be negative")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.log.level %q unknown", c.Log.Level)
	}
	switch c.Log.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("config.log.format must be json or console")
	}
	if c.RateLimit.RPS > 0 && c.RateLimit.Burst <= 0 {
		return fmt.Errorf("config.rate_limit.burst must be positive when rps is set")
	}
	for i, wh := range c.Webhooks {
		if strings.TrimSpace(wh.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "nexus.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Omitted keys keep their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /v0

storage:
  workspace: .

auth:
  # password: username/password login issues session tokens
  # delegated: callers present a platform-signed token or an API key
  mode: password
  jwt_secret: ""
  session_ttl: 24h
  delegated:
    issuer: ""
    secret: ""

log:
  level: info
  format: json

rate_limit:
  rps: 20
  burst: 40

webhooks: []
`
