package generation

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/relaycrm/relay-go/internal/platform/env"
)

// Config selects one of two authentication schemes: a static API key sent as
// a bearer token, or OAuth2 client credentials when TokenURL is set.
type Config struct {
	BaseURL string
	Timeout time.Duration
	APIKey  string

	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

func ConfigFromEnv() (Config, error) {
	timeout, err := env.Duration("GENERATION_TIMEOUT", 60*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		BaseURL:      env.String("GENERATION_BASE_URL", ""),
		Timeout:      timeout,
		APIKey:       env.String("GENERATION_API_KEY", ""),
		TokenURL:     env.String("GENERATION_TOKEN_URL", ""),
		ClientID:     env.String("GENERATION_CLIENT_ID", ""),
		ClientSecret: env.String("GENERATION_CLIENT_SECRET", ""),
		Scopes:       env.CSV("GENERATION_SCOPES", nil),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("GENERATION_BASE_URL is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("GENERATION_BASE_URL must be an absolute http(s) URL: %q", c.BaseURL)
	}
	if c.Timeout <= 0 {
		return errors.New("GENERATION_TIMEOUT must be positive")
	}
	if c.TokenURL == "" {
		return nil
	}
	if c.APIKey != "" {
		return errors.New("GENERATION_API_KEY and GENERATION_TOKEN_URL are mutually exclusive")
	}
	if c.ClientID == "" || c.ClientSecret == "" {
		return errors.New("GENERATION_CLIENT_ID and GENERATION_CLIENT_SECRET are required with GENERATION_TOKEN_URL")
	}
	return nil
}
