// Package config loads server settings from config.yaml.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// ServerName identifies this process on the message bus. Must be
	// unique across the cluster when cross-server mode is on.
	ServerName string `yaml:"server_name"`

	// CrossServer enables broker propagation. When off, the process
	// runs standalone and remote players are unreachable.
	CrossServer bool   `yaml:"cross_server"`
	RelayURL    string `yaml:"relay_url"`

	DatabasePath string `yaml:"database_path"`
	LocalesPath  string `yaml:"locales_path"`
	AuditDir     string `yaml:"audit_dir"`

	// MaxClaimsPerTown caps createClaim; zero means unlimited.
	MaxClaimsPerTown int `yaml:"max_claims_per_town"`
}

// Load reads the config at path. An empty or missing path returns the
// defaults, matching how a fresh single-server install boots.
func Load(path string) (Config, error) {
	cfg := defaults()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("config.yaml: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config.yaml: %w", err)
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		ServerName:   "server-1",
		CrossServer:  false,
		RelayURL:     "ws://127.0.0.1:8100/v1/relay",
		DatabasePath: "./data/townforge.db",
		AuditDir:     "./data/audit",
	}
}

func (c *Config) Normalize() {
	c.ServerName = strings.TrimSpace(c.ServerName)
	c.RelayURL = strings.TrimSpace(c.RelayURL)
	if c.MaxClaimsPerTown < 0 {
		c.MaxClaimsPerTown = 0
	}
}

func (c *Config) Validate() error {
	if c.ServerName == "" {
		return fmt.Errorf("server_name must not be empty")
	}
	if c.CrossServer && c.RelayURL == "" {
		return fmt.Errorf("relay_url required when cross_server is on")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path must not be empty")
	}
	return nil
}
