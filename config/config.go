// Package config loads and validates DMM's YAML configuration file.
// Grounded on aistore's own config-validation idiom (explicit Validate()
// pass over a plain struct) but using gopkg.in/yaml.v3 for parsing, since
// the source configuration format is YAML rather than aistore's JSON.
/*
 * Copyright (c) 2024, DMM contributors.
 */
package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jkguiang/dmm/dmmerr"
)

type DMMConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	AuthKey    string `yaml:"authkey"`
	Monitoring bool   `yaml:"monitoring"`
}

type IPv6Block struct {
	Block string `yaml:"block"`
	IPv6  string `yaml:"ipv6"`
}

type SiteConfig struct {
	BestEffortIPv6 string      `yaml:"best_effort_ipv6"`
	IPv6Pool       []IPv6Block `yaml:"ipv6_pool"`
}

type SenseConfig struct {
	ProfileUUID string `yaml:"profile_uuid"`
	// ControllerURL is an ambient addition: the spec names only
	// profile_uuid, but an HTTP-backed sdn.Client needs a base URL to
	// reach the controller. Empty means "use the nonsense test double".
	ControllerURL string `yaml:"controller_url"`
}

type PrometheusConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type SQLDBConfig struct {
	Host string `yaml:"host"`
}

// LoggingConfig and PersistenceConfig are ambient additions (supplements):
// every daemon in the corpus exposes a log level/dir knob, and DMM's
// optional local recovery cache needs a path.
type LoggingConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
}

type PersistenceConfig struct {
	CachePath string `yaml:"cache_path"`
}

type Config struct {
	DMM         DMMConfig            `yaml:"dmm"`
	Sites       map[string]SiteConfig `yaml:"sites"`
	Sense       SenseConfig          `yaml:"sense"`
	Prometheus  PrometheusConfig     `yaml:"prometheus"`
	SQLDB       SQLDBConfig          `yaml:"sql_db"`
	Logging     LoggingConfig        `yaml:"logging"`
	Persistence PersistenceConfig    `yaml:"persistence"`
}

// Load reads and validates the YAML config at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, dmmerr.NewConfigError("file", err.Error())
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, dmmerr.NewConfigError("yaml", err.Error())
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces the presence of every section the coordinator depends on.
func (c *Config) Validate() error {
	if c.DMM.Host == "" {
		return dmmerr.NewConfigError("dmm.host", "must not be empty")
	}
	if c.DMM.Port <= 0 {
		return dmmerr.NewConfigError("dmm.port", "must be a positive port number")
	}
	if c.DMM.AuthKey == "" {
		return dmmerr.NewConfigError("dmm.authkey", "must name a path to the shared-secret file")
	}
	if _, err := os.Stat(c.DMM.AuthKey); err != nil {
		return dmmerr.NewConfigError("dmm.authkey", "authkey file unreadable: "+err.Error())
	}
	if len(c.Sites) == 0 {
		return dmmerr.NewConfigError("sites", "must declare at least one site")
	}
	for rse, sc := range c.Sites {
		if sc.BestEffortIPv6 == "" {
			return dmmerr.NewConfigError("sites."+rse+".best_effort_ipv6", "must not be empty")
		}
		if len(sc.IPv6Pool) == 0 {
			return dmmerr.NewConfigError("sites."+rse+".ipv6_pool", "must declare at least one block")
		}
	}
	if c.Sense.ProfileUUID == "" {
		return dmmerr.NewConfigError("sense.profile_uuid", "must not be empty")
	}
	return nil
}

// ReadAuthKey returns the shared secret bytes DMM uses to authenticate
// incoming RPC connections.
func (c *Config) ReadAuthKey() ([]byte, error) {
	b, err := os.ReadFile(c.DMM.AuthKey)
	if err != nil {
		return nil, dmmerr.NewConfigError("dmm.authkey", err.Error())
	}
	return b, nil
}
