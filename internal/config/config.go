package config

import (
	"bytes"
	"fmt"
	"os"
	"net/url"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"designgate/internal/assess"
	"designgate/internal/domain"
)

const FileName = "designgate.yml"

// Config models designgate.yml.
type Config struct {
	Scoring struct {
		PassThreshold *float64           `yaml:"pass_threshold"`
		Weights       map[string]float64 `yaml:"weights"`
	} `yaml:"scoring"`
	Guidance struct {
		CacheSize int    `yaml:"cache_size"`
		PoolFile  string `yaml:"pool_file"`
	} `yaml:"guidance"`
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig describes an event delivery target. Empty Events means all.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with dg config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	for sev := range c.Scoring.Weights {
		if !knownSeverity(sev) {
			return fmt.Errorf("config.scoring.weights has unknown severity %s", sev)
		}
	}
	if err := c.Policy().Validate(); err != nil {
		return fmt.Errorf("config.scoring: %w", err)
	}
	if c.Guidance.CacheSize < 0 {
		return fmt.Errorf("config.guidance.cache_size must not be negative")
	}
	for i, h := range c.Webhooks {
		u, err := url.Parse(strings.TrimSpace(h.URL))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("config.webhooks[%d].url must be an absolute http(s) url", i)
		}
		if h.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// Policy overlays the configured scoring values on the default policy.
func (c *Config) Policy() assess.Policy {
	p := assess.DefaultPolicy()
	if c == nil {
		return p
	}
	if c.Scoring.PassThreshold != nil {
		p.PassThreshold = *c.Scoring.PassThreshold
	}
	for sev, w := range c.Scoring.Weights {
		p.Weights[domain.Severity(sev)] = w
	}
	return p
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Sections left
// out fall back to the defaults.
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

func knownSeverity(s string) bool {
	for _, sev := range domain.Severities {
		if string(sev) == s {
			return true
		}
	}
	return false
}

const defaultTemplate = `scoring:
  pass_threshold: 70
  weights:
    low: 2
    medium: 6
    high: 15

guidance:
  cache_size: 256
  pool_file: ""

server:
  addr: 127.0.0.1:8080
  base_path: /v0

# webhooks:
#   - url: https://example.org/designgate
#     events: [consideration.acknowledged]
#     secret: change-me
webhooks: []
`
