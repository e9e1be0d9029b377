package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bmess/blueocean-plugin/internal/platform/env"
)

type Config struct {
	Endpoint   string `yaml:"endpoint"`
	AccessKey  string `yaml:"access_key"`
	SecretKey  string `yaml:"secret_key"`
	Region     string `yaml:"region"`
	UseSSL     bool   `yaml:"use_ssl"`
	BucketLogs string `yaml:"bucket_logs"`
}

func DefaultConfig() Config {
	return Config{
		Endpoint:   "localhost:9000",
		Region:     "us-east-1",
		BucketLogs: "run-logs",
	}
}

// ApplyEnv overrides cfg with any DASHBOARD_MINIO_* variables that are set.
func ApplyEnv(cfg Config) (Config, error) {
	useSSL, err := env.Bool("DASHBOARD_MINIO_USE_SSL", cfg.UseSSL)
	if err != nil {
		return Config{}, err
	}
	cfg.Endpoint = env.String("DASHBOARD_MINIO_ENDPOINT", cfg.Endpoint)
	cfg.AccessKey = env.String("DASHBOARD_MINIO_ACCESS_KEY", cfg.AccessKey)
	cfg.SecretKey = env.String("DASHBOARD_MINIO_SECRET_KEY", cfg.SecretKey)
	cfg.Region = env.String("DASHBOARD_MINIO_REGION", cfg.Region)
	cfg.BucketLogs = env.String("DASHBOARD_MINIO_BUCKET_LOGS", cfg.BucketLogs)
	cfg.UseSSL = useSSL
	return cfg, nil
}

func ConfigFromEnv() (Config, error) {
	cfg, err := ApplyEnv(DefaultConfig())
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.BucketLogs) == "" {
		return errors.New("logs bucket is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}
