// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config loads and validates the HCL service configuration.
package config

import (
	"os"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"

	"grimm.is/nsight/internal/errors"
)

// Config is the top-level service configuration.
type Config struct {
	// Listen is the HTTP listen address (default :8080).
	Listen string `hcl:"listen,optional" json:"listen,omitempty"`

	// DBPath is the SQLite database file (default nsight.db).
	DBPath string `hcl:"db_path,optional" json:"db_path,omitempty"`

	// LogLevel is one of debug, info, warn, error (default info).
	LogLevel string `hcl:"log_level,optional" json:"log_level,omitempty"`

	// Retention is how long query logs are kept, as a duration string.
	// Empty disables pruning.
	Retention string `hcl:"retention,optional" json:"retention,omitempty"`

	NextDNS *NextDNSConfig `hcl:"nextdns,block" json:"nextdns,omitempty"`
	Auth    *AuthConfig    `hcl:"auth,block" json:"auth,omitempty"`
}

// NextDNSConfig configures ingestion from the NextDNS API.
type NextDNSConfig struct {
	APIKey   SecureString `hcl:"api_key" json:"api_key"`
	Profiles []string     `hcl:"profiles" json:"profiles"`

	// FetchInterval is the delay between fetch cycles (default "60s").
	FetchInterval string `hcl:"fetch_interval,optional" json:"fetch_interval,omitempty"`

	// BaseURL overrides the API endpoint, mainly for tests.
	BaseURL string `hcl:"base_url,optional" json:"base_url,omitempty"`
}

// AuthConfig enables HTTP basic auth on the API.
type AuthConfig struct {
	Enabled  bool         `hcl:"enabled,optional" json:"enabled,omitempty"`
	Username string       `hcl:"username,optional" json:"username,omitempty"`
	Password SecureString `hcl:"password,optional" json:"password,omitempty"`
}

// Default returns a config with all defaults applied.
func Default() *Config {
	return &Config{
		Listen:    ":8080",
		DBPath:    "nsight.db",
		LogLevel:  "info",
		Retention: "720h",
	}
}

// LoadFile reads and decodes an HCL config file, applies defaults and
// validates the result.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "failed to read config file")
	}
	return Load(data, path)
}

// Load decodes HCL config bytes. filename only affects diagnostics.
func Load(data []byte, filename string) (*Config, error) {
	cfg := &Config{}
	if err := hclsimple.Decode(filename, data, nil, cfg); err != nil {
		return nil, errors.Wrap(err, errors.KindValidation, "failed to parse config")
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.DBPath == "" {
		c.DBPath = d.DBPath
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.NextDNS != nil && c.NextDNS.FetchInterval == "" {
		c.NextDNS.FetchInterval = "60s"
	}
}

// Validate checks the configuration for inconsistencies that would only
// surface later at runtime.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errors.Errorf(errors.KindValidation, "invalid log_level %q", c.LogLevel)
	}

	if c.Retention != "" {
		if _, err := time.ParseDuration(c.Retention); err != nil {
			return errors.Wrap(err, errors.KindValidation, "invalid retention")
		}
	}

	if c.NextDNS != nil {
		if c.NextDNS.APIKey == "" {
			return errors.New(errors.KindValidation, "nextdns block requires api_key")
		}
		if len(c.NextDNS.Profiles) == 0 {
			return errors.New(errors.KindValidation, "nextdns block requires at least one profile")
		}
		if _, err := time.ParseDuration(c.NextDNS.FetchInterval); err != nil {
			return errors.Wrap(err, errors.KindValidation, "invalid fetch_interval")
		}
	}

	if c.Auth != nil && c.Auth.Enabled {
		if c.Auth.Username == "" || c.Auth.Password == "" {
			return errors.New(errors.KindValidation, "auth requires username and password when enabled")
		}
	}

	return nil
}

// RetentionDuration returns the parsed retention period, zero when pruning
// is disabled. Call Validate first.
func (c *Config) RetentionDuration() time.Duration {
	if c.Retention == "" {
		return 0
	}
	d, _ := time.ParseDuration(c.Retention)
	return d
}

// FetchIntervalDuration returns the parsed fetch interval. Call Validate
// first.
func (n *NextDNSConfig) FetchIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(n.FetchInterval)
	return d
}
