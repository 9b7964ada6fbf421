package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/relaycrm/relay-go/internal/platform/env"
)

type Mode string

const (
	ModeOIDC     Mode = "oidc"
	ModeSecret   Mode = "secret"
	ModeDisabled Mode = "disabled"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
)

type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (Identity, error)
}

type Config struct {
	Mode Mode

	// SharedSecret is the bearer token the scheduler presents in secret mode.
	SharedSecret string

	OIDCIssuerURL string
	OIDCAudience  string
	EmailClaim    string

	// AllowedSubjects restricts which token subjects may trigger batches.
	// Empty allows any verified subject.
	AllowedSubjects []string
}

func ConfigFromEnv() (Config, error) {
	modeRaw := strings.ToLower(env.String("AUTH_MODE", string(ModeSecret)))
	var mode Mode
	switch modeRaw {
	case string(ModeOIDC):
		mode = ModeOIDC
	case string(ModeSecret):
		mode = ModeSecret
	case string(ModeDisabled):
		mode = ModeDisabled
	default:
		return Config{}, fmt.Errorf("AUTH_MODE must be one of: oidc, secret, disabled (got %q)", modeRaw)
	}

	cfg := Config{
		Mode:            mode,
		SharedSecret:    env.String("AUTH_SHARED_SECRET", ""),
		OIDCIssuerURL:   env.String("AUTH_OIDC_ISSUER_URL", ""),
		OIDCAudience:    env.String("AUTH_OIDC_AUDIENCE", ""),
		EmailClaim:      env.String("AUTH_EMAIL_CLAIM", "email"),
		AllowedSubjects: env.CSV("AUTH_ALLOWED_SUBJECTS", nil),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModeOIDC:
		if strings.TrimSpace(c.OIDCIssuerURL) == "" {
			return errors.New("AUTH_OIDC_ISSUER_URL is required when AUTH_MODE=oidc")
		}
		if strings.TrimSpace(c.OIDCAudience) == "" {
			return errors.New("AUTH_OIDC_AUDIENCE is required when AUTH_MODE=oidc")
		}
		if strings.TrimSpace(c.EmailClaim) == "" {
			return errors.New("AUTH_EMAIL_CLAIM is required")
		}
	case ModeSecret:
		if len(strings.TrimSpace(c.SharedSecret)) < 16 {
			return errors.New("AUTH_SHARED_SECRET must be at least 16 characters when AUTH_MODE=secret")
		}
	case ModeDisabled:
	case "":
		return errors.New("AUTH_MODE is required")
	default:
		return fmt.Errorf("unsupported auth mode: %q", c.Mode)
	}
	return nil
}

// AllowSubjects rejects identities whose subject is not listed. An empty
// list lets every authenticated identity through.
func AllowSubjects(subjects []string) AuthorizeFunc {
	allowed := make(map[string]struct{}, len(subjects))
	for _, s := range subjects {
		if s = strings.TrimSpace(s); s != "" {
			allowed[s] = struct{}{}
		}
	}
	return func(r *http.Request, identity Identity) error {
		if len(allowed) == 0 {
			return nil
		}
		if _, ok := allowed[identity.Subject]; ok {
			return nil
		}
		return ErrForbidden
	}
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	scheme, token, ok := strings.Cut(raw, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
