package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

type AuthorizeFunc func(r *http.Request, identity Identity) error

type DenyEvent struct {
	Time       time.Time
	Status     int
	Reason     string
	Error      string
	RequestID  string
	Method     string
	Path       string
	Subject    string
	Email      string
	RemoteAddr string
	UserAgent  string
}

type AuditFunc func(ctx context.Context, event DenyEvent) error

type Middleware struct {
	Logger        *slog.Logger
	Authenticator Authenticator
	Authorize     AuthorizeFunc
	Audit         AuditFunc
	SkipPrefixes  []string
}

func (m Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Authenticator == nil {
			next.ServeHTTP(w, r)
			return
		}
		for _, prefix := range m.SkipPrefixes {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}

		identity, err := m.Authenticator.Authenticate(r.Context(), r)
		if err != nil {
			reason := "invalid_token"
			if errors.Is(err, ErrUnauthenticated) {
				reason = "unauthorized"
			}
			m.deny(w, r, Identity{}, http.StatusUnauthorized, reason, err)
			return
		}

		if m.Authorize != nil {
			if err := m.Authorize(r, identity); err != nil {
				m.deny(w, r, identity, http.StatusForbidden, "forbidden", err)
				return
			}
		}

		r = r.WithContext(ContextWithIdentity(r.Context(), identity))
		next.ServeHTTP(w, r)
	})
}

func (m Middleware) deny(w http.ResponseWriter, r *http.Request, identity Identity, status int, reason string, err error) {
	requestID := r.Header.Get("X-Request-Id")
	if m.Logger != nil {
		m.Logger.Warn("auth deny",
			"reason", reason,
			"status", status,
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"subject", identity.Subject,
			"error", err.Error(),
		)
	}
	if m.Audit != nil {
		auditErr := m.Audit(r.Context(), DenyEvent{
			Time:       time.Now().UTC(),
			Status:     status,
			Reason:     reason,
			Error:      err.Error(),
			RequestID:  requestID,
			Method:     r.Method,
			Path:       r.URL.Path,
			Subject:    identity.Subject,
			Email:      identity.Email,
			RemoteAddr: r.RemoteAddr,
			UserAgent:  r.UserAgent(),
		})
		if auditErr != nil && m.Logger != nil {
			m.Logger.Warn("audit deny failed", "request_id", requestID, "error", auditErr.Error())
		}
	}
	writeJSON(w, status, map[string]any{
		"error":      reason,
		"request_id": requestID,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}
