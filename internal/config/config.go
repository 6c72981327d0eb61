package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"fieldline/internal/domain"
)

// Config models fieldline.yml.
type Config struct {
	Stock struct {
		// NoNegative clamps ledger results at zero instead of letting
		// over-reported usage drive the recorded quantity negative.
		NoNegative bool `yaml:"no_negative"`
		// MaxRetries bounds the ledger's compare-and-swap retry loop.
		MaxRetries int `yaml:"max_retries"`
		// ActionAliases maps legacy report labels to consumed/returned.
		ActionAliases map[string]string `yaml:"action_aliases"`
	} `yaml:"stock"`
	Services struct {
		Catalog map[string]struct {
			Color string `yaml:"color"`
		} `yaml:"catalog"`
	} `yaml:"services"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run with defaults or create it", path)
		}
		return nil, err
	}
	return FromYAML(data)
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

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Stock.MaxRetries <= 0 {
		return fmt.Errorf("config.stock.max_retries must be positive")
	}
	for label, target := range c.Stock.ActionAliases {
		if label == "" {
			return fmt.Errorf("config.stock.action_aliases contains empty label")
		}
		if target != domain.ActionConsumed && target != domain.ActionReturned {
			return fmt.Errorf("action alias %s maps to unknown action %s", label, target)
		}
	}
	for name, svc := range c.Services.Catalog {
		if name == "" {
			return fmt.Errorf("config.services.catalog contains empty service name")
		}
		if svc.Color != "" && !strings.HasPrefix(svc.Color, "#") {
			return fmt.Errorf("service %s color must be a hex code", name)
		}
	}
	return nil
}

// ResolveAction maps a report's action label onto the two-member stock action
// enum. Canonical values pass through; legacy labels resolve via aliases.
func (c *Config) ResolveAction(label string) (string, error) {
	label = strings.ToLower(strings.TrimSpace(label))
	if label == domain.ActionConsumed || label == domain.ActionReturned {
		return label, nil
	}
	if target, ok := c.Stock.ActionAliases[label]; ok {
		return target, nil
	}
	return "", fmt.Errorf("unknown stock action %q", label)
}

// ServiceColor returns the display color for a service type, falling back to
// the neutral grey the calendar uses for uncatalogued services.
func (c *Config) ServiceColor(name string) string {
	if svc, ok := c.Services.Catalog[name]; ok && svc.Color != "" {
		return svc.Color
	}
	return "#6c757d"
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "fieldline.yml")
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `stock:
  no_negative: true
  max_retries: 8

  # Legacy report vocabulary. Both "used" and "removed" represent material
  # leaving the van; "added" and "retrieved" represent material coming back.
  action_aliases:
    used: consumed
    removed: consumed
    added: returned
    retrieved: returned

services:
  catalog:
    inspection:
      color: "#0d6efd"
    installation:
      color: "#6f42c1"
    emergency:
      color: "#dc3545"
    breakdown:
      color: "#fd7e14"
    maintenance:
      color: "#20c997"
    repair:
      color: "#f37021"
    other:
      color: "#adb5bd"
`
