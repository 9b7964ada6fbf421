package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

// OIDCAuthenticator verifies ID tokens minted for the engine's audience,
// typically by the platform scheduler's service account.
type OIDCAuthenticator struct {
	verifier   *oidc.IDTokenVerifier
	emailClaim string
}

func NewOIDCAuthenticator(ctx context.Context, cfg Config) (*OIDCAuthenticator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Mode != ModeOIDC {
		return nil, fmt.Errorf("auth mode must be oidc (got %q)", cfg.Mode)
	}

	provider, err := oidc.NewProvider(ctx, cfg.OIDCIssuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc provider: %w", err)
	}
	return NewOIDCAuthenticatorWithVerifier(provider.Verifier(&oidc.Config{ClientID: cfg.OIDCAudience}), cfg.EmailClaim), nil
}

func NewOIDCAuthenticatorWithVerifier(verifier *oidc.IDTokenVerifier, emailClaim string) *OIDCAuthenticator {
	if strings.TrimSpace(emailClaim) == "" {
		emailClaim = "email"
	}
	return &OIDCAuthenticator{verifier: verifier, emailClaim: emailClaim}
}

func (a *OIDCAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	rawToken := bearerToken(r)
	if rawToken == "" {
		return Identity{}, ErrUnauthenticated
	}

	idToken, err := a.verifier.Verify(ctx, rawToken)
	if err != nil {
		return Identity{}, err
	}

	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return Identity{}, err
	}
	email, _ := claims[a.emailClaim].(string)

	return Identity{
		Subject: idToken.Subject,
		Email:   strings.TrimSpace(email),
	}, nil
}

// New builds the authenticator for cfg.Mode. Disabled mode returns nil.
func New(ctx context.Context, cfg Config) (Authenticator, error) {
	switch cfg.Mode {
	case ModeOIDC:
		return NewOIDCAuthenticator(ctx, cfg)
	case ModeSecret:
		return NewSecretAuthenticator(cfg.SharedSecret)
	case ModeDisabled:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported auth mode: %q", cfg.Mode)
	}
}
