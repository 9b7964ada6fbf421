package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/relaycrm/relay-go/internal/platform/env"
)

type Config struct {
	Enabled   bool
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
}

func ConfigFromEnv() (Config, error) {
	enabled, err := env.Bool("CONTENT_ARCHIVE_ENABLED", false)
	if err != nil {
		return Config{}, err
	}
	useSSL, err := env.Bool("CONTENT_ARCHIVE_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Enabled:   enabled,
		Endpoint:  env.String("CONTENT_ARCHIVE_ENDPOINT", "localhost:9000"),
		AccessKey: env.String("CONTENT_ARCHIVE_ACCESS_KEY", ""),
		SecretKey: env.String("CONTENT_ARCHIVE_SECRET_KEY", ""),
		Region:    env.String("CONTENT_ARCHIVE_REGION", "us-east-1"),
		UseSSL:    useSSL,
		Bucket:    env.String("CONTENT_ARCHIVE_BUCKET", "sequence-content"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate only checks connection settings when the archive is enabled.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("CONTENT_ARCHIVE_ENDPOINT is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("CONTENT_ARCHIVE_ENDPOINT must not include scheme: %q", c.Endpoint)
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("CONTENT_ARCHIVE_ACCESS_KEY is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("CONTENT_ARCHIVE_SECRET_KEY is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("CONTENT_ARCHIVE_REGION is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("CONTENT_ARCHIVE_BUCKET is required")
	}
	return nil
}
