package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"synccity/internal/logging"
)

const (
	ScanSync  = "sync"
	ScanAsync = "async"
)

// Config models synccity.yml.
type Config struct {
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		// JWTSecret enables HS256 bearer auth on the HTTP API when set.
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`
	Scan ScanConfig     `yaml:"scan"`
	Log  logging.Config `yaml:"log"`
}

type ScanConfig struct {
	Mode                string  `yaml:"mode"`
	Workers             int     `yaml:"workers"`
	QueueSize           int     `yaml:"queue_size"`
	DefaultRadiusMeters float64 `yaml:"default_radius_meters"`
	DateLayout          string  `yaml:"date_layout"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("config.database.path is required")
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if c.Server.BasePath != "" && c.Server.BasePath[0] != '/' {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	switch c.Scan.Mode {
	case ScanSync:
	case ScanAsync:
		if c.Scan.Workers < 1 {
			return fmt.Errorf("config.scan.workers must be at least 1 in async mode")
		}
		if c.Scan.QueueSize < 1 {
			return fmt.Errorf("config.scan.queue_size must be at least 1 in async mode")
		}
	default:
		return fmt.Errorf("config.scan.mode must be %q or %q", ScanSync, ScanAsync)
	}
	if c.Scan.DefaultRadiusMeters <= 0 {
		return fmt.Errorf("config.scan.default_radius_meters must be positive")
	}
	if c.Scan.DateLayout == "" {
		return fmt.Errorf("config.scan.date_layout is required")
	}
	if _, err := time.Parse(c.Scan.DateLayout, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC).Format(c.Scan.DateLayout)); err != nil {
		return errors.Wrap(err, "config.scan.date_layout")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrap(err, "config.log.level")
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config.log.format must be text or json")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "synccity.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(err)
	}
	return &cfg
}

// Load reads the config at path, falling back to defaults when the file does
// not exist. Keys missing from the file keep their default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses raw YAML over the defaults and validates the result.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "invalid config yaml")
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

const defaultTemplate = `database:
  path: .synccity/synccity.db

server:
  addr: 127.0.0.1:8080
  base_path: /v1

auth:
  # set to enable bearer token auth on the HTTP API
  jwt_secret: ""

scan:
  # sync scans inline after each project write; async hands them to workers
  mode: sync
  workers: 4
  queue_size: 256
  default_radius_meters: 1000
  date_layout: "2006-01-02"

log:
  level: info
  format: text
`
