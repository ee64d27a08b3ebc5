// Package config loads siapxml.yaml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"siapxml/internal/domain"
	"siapxml/internal/secret"
	"siapxml/internal/xmlout"
)

// DefaultPath is read from the working directory when --config is not given.
const DefaultPath = "siapxml.yaml"

// Config is the on-disk configuration.
type Config struct {
	Sources     map[domain.SourceSystem]domain.LegacyConnectionParams `yaml:"sources"`
	Store       StoreConfig                                           `yaml:"store"`
	Header      xmlout.Header                                         `yaml:"header"`
	Worker      WorkerConfig                                          `yaml:"worker"`
	Log         LogConfig                                             `yaml:"log"`
	LayoutsFile string                                                `yaml:"layouts_file"`
	OutputDir   string                                                `yaml:"output_dir"`
	Schedules   []Schedule                                            `yaml:"schedules"`
	Watch       WatchConfig                                           `yaml:"watch"`
	MetricsFile string                                                `yaml:"metrics_file"`
}

// StoreConfig selects the intermediate store.
type StoreConfig struct {
	// DSN is a file path (SQLite) or a postgres://, mysql:// or mongodb:// URL.
	DSN string `yaml:"dsn"`
}

// WorkerConfig locates and bounds the worker process.
type WorkerConfig struct {
	Path    string        `yaml:"path"`
	Timeout time.Duration `yaml:"timeout"`
}

// LogConfig configures zap.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Schedule runs one layout on a cron expression. The competence is the
// month before the trigger time.
type Schedule struct {
	Layout domain.LayoutID `yaml:"layout"`
	Cron   string          `yaml:"cron"`
	Export bool            `yaml:"export"`
}

// WatchConfig re-extracts layouts when their local legacy file changes.
type WatchConfig struct {
	Layouts  []domain.LayoutID `yaml:"layouts"`
	Debounce time.Duration     `yaml:"debounce"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Sources:   map[domain.SourceSystem]domain.LegacyConnectionParams{},
		Store:     StoreConfig{DSN: filepath.Join("data", "siapxml.db")},
		Worker:    WorkerConfig{Timeout: 10 * time.Minute},
		Log:       LogConfig{Level: "info", Format: "console"},
		OutputDir: "xml",
		Watch:     WatchConfig{Debounce: 500 * time.Millisecond},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if dsn := os.Getenv("SIAPXML_STORE_DSN"); dsn != "" {
		c.Store.DSN = dsn
	}
	if p := os.Getenv("SIAPXML_WORKER_PATH"); p != "" {
		c.Worker.Path = p
	}
}

// Validate checks the parts that cannot be defaulted.
func (c *Config) Validate() error {
	for src := range c.Sources {
		switch src {
		case domain.SourceCNES, domain.SourceFPO, domain.SourceSIA, domain.SourceSIH:
		default:
			return fmt.Errorf("unknown source %q (want CNES, FPO, SIA or SIH)", src)
		}
	}
	for i, s := range c.Schedules {
		if s.Layout == "" || strings.TrimSpace(s.Cron) == "" {
			return fmt.Errorf("schedules[%d]: layout and cron are required", i)
		}
	}
	if c.Worker.Timeout < 0 {
		return fmt.Errorf("worker.timeout must not be negative")
	}
	return nil
}

// Connection returns the parameters for src. A password missing from the
// file is looked up in secrets; stock defaults fill the rest.
func (c *Config) Connection(src domain.SourceSystem, secrets secret.SecretStore) (domain.LegacyConnectionParams, error) {
	p, ok := c.Sources[src]
	if !ok || strings.TrimSpace(p.Path) == "" {
		return domain.LegacyConnectionParams{}, fmt.Errorf("source %s: no database path configured", src)
	}
	if p.Password == "" && secrets != nil {
		pw, err := secret.Password(secrets, string(src))
		if err != nil {
			return domain.LegacyConnectionParams{}, err
		}
		p.Password = pw
	}
	return p.Normalize(), nil
}
