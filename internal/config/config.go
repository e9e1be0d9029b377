// Package config loads the dashboard configuration: defaults, then an
// optional YAML file, then DASHBOARD_* environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bmess/blueocean-plugin/internal/backend"
	"github.com/bmess/blueocean-plugin/internal/platform/env"
	"github.com/bmess/blueocean-plugin/internal/platform/objectstore"
)

type Config struct {
	LogLevel string         `yaml:"log_level"`
	HTTP     HTTPConfig     `yaml:"http"`
	Jenkins  backend.Config `yaml:"jenkins"`
	Events   EventsConfig   `yaml:"events"`
	Export   ExportConfig   `yaml:"export"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// EventsConfig points at the SSE gateway. An empty URL disables the
// subscription; events can still be posted to the API.
type EventsConfig struct {
	URL         string `yaml:"url"`
	Concurrency int    `yaml:"concurrency"`
}

type ExportConfig struct {
	Enabled bool               `yaml:"enabled"`
	URLTTL  time.Duration      `yaml:"url_ttl"`
	MinIO   objectstore.Config `yaml:"minio"`
}

func Default() Config {
	return Config{
		LogLevel: "info",
		HTTP: HTTPConfig{
			Addr:            ":8090",
			ShutdownTimeout: 10 * time.Second,
		},
		Jenkins: backend.DefaultConfig(),
		Events: EventsConfig{
			Concurrency: 4,
		},
		Export: ExportConfig{
			URLTTL: 15 * time.Minute,
			MinIO:  objectstore.DefaultConfig(),
		},
	}
}

// Load reads path (if not empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		cfg, err = Parse(data, cfg)
		if err != nil {
			return Config{}, err
		}
	}
	cfg, err := ApplyEnv(cfg)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML over base. Unknown keys are rejected.
func Parse(data []byte, base Config) (Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	cfg := base
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func ApplyEnv(cfg Config) (Config, error) {
	var err error
	cfg.LogLevel = env.String("DASHBOARD_LOG_LEVEL", cfg.LogLevel)
	cfg.HTTP.Addr = env.String("DASHBOARD_HTTP_ADDR", cfg.HTTP.Addr)
	if cfg.HTTP.ShutdownTimeout, err = env.Duration("DASHBOARD_SHUTDOWN_TIMEOUT", cfg.HTTP.ShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.Jenkins, err = cfg.Jenkins.ApplyEnv(); err != nil {
		return Config{}, err
	}
	if cfg.Events.URL, err = env.BaseURL("DASHBOARD_EVENTS_URL", cfg.Events.URL); err != nil {
		return Config{}, err
	}
	if cfg.Events.Concurrency, err = env.Int("DASHBOARD_EVENTS_CONCURRENCY", cfg.Events.Concurrency); err != nil {
		return Config{}, err
	}
	if cfg.Export.Enabled, err = env.Bool("DASHBOARD_EXPORT_ENABLED", cfg.Export.Enabled); err != nil {
		return Config{}, err
	}
	if cfg.Export.URLTTL, err = env.Duration("DASHBOARD_EXPORT_URL_TTL", cfg.Export.URLTTL); err != nil {
		return Config{}, err
	}
	if cfg.Export.MinIO, err = objectstore.ApplyEnv(cfg.Export.MinIO); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return err
	}
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		return errors.New("http.addr is required")
	}
	if c.HTTP.ShutdownTimeout < 0 {
		return errors.New("http.shutdown_timeout must be >= 0")
	}
	if err := c.Jenkins.Validate(); err != nil {
		return fmt.Errorf("jenkins: %w", err)
	}
	if c.Events.Concurrency < 1 {
		return errors.New("events.concurrency must be >= 1")
	}
	if c.Export.Enabled {
		if c.Export.URLTTL <= 0 {
			return errors.New("export.url_ttl must be > 0")
		}
		if err := c.Export.MinIO.Validate(); err != nil {
			return fmt.Errorf("export.minio: %w", err)
		}
	}
	return nil
}

// Level parses LogLevel ("debug", "info", "warn", "error").
func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}
