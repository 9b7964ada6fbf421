package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

const secretSubject = "scheduler"

// SecretAuthenticator accepts a single pre-shared bearer token.
type SecretAuthenticator struct {
	secret []byte
}

func NewSecretAuthenticator(secret string) (*SecretAuthenticator, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("AUTH_SHARED_SECRET is required")
	}
	return &SecretAuthenticator{secret: []byte(secret)}, nil
}

func (a *SecretAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	token := bearerToken(r)
	if token == "" {
		return Identity{}, ErrUnauthenticated
	}
	if subtle.ConstantTimeCompare([]byte(token), a.secret) != 1 {
		return Identity{}, errors.New("shared secret mismatch")
	}
	return Identity{Subject: secretSubject}, nil
}
