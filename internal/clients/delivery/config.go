package delivery

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/relaycrm/relay-go/internal/platform/env"
)

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

func ConfigFromEnv() (Config, error) {
	timeout, err := env.Duration("DELIVERY_TIMEOUT", 30*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		BaseURL: env.String("DELIVERY_BASE_URL", ""),
		APIKey:  env.String("DELIVERY_API_KEY", ""),
		Timeout: timeout,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("DELIVERY_BASE_URL is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("DELIVERY_BASE_URL must be an absolute http(s) URL: %q", c.BaseURL)
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return errors.New("DELIVERY_API_KEY is required")
	}
	if c.Timeout <= 0 {
		return errors.New("DELIVERY_TIMEOUT must be positive")
	}
	return nil
}
