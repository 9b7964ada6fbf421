package auditlog

import (
	"context"
	"net"
	"strings"

	"github.com/relaycrm/relay-go/internal/platform/auth"
)

func InsertAuthDeny(ctx context.Context, q QueryRower, service string, event auth.DenyEvent) error {
	actor := "anonymous"
	if strings.TrimSpace(event.Subject) != "" {
		actor = strings.TrimSpace(event.Subject)
	}

	var ip net.IP
	host, _, err := net.SplitHostPort(event.RemoteAddr)
	if err == nil {
		ip = net.ParseIP(host)
	}

	_, err = Insert(ctx, q, Event{
		OccurredAt:   event.Time,
		Actor:        actor,
		Action:       "auth." + strings.TrimSpace(event.Reason),
		ResourceType: "http",
		ResourceID:   event.Method + " " + event.Path,
		RequestID:    event.RequestID,
		IP:           ip,
		UserAgent:    event.UserAgent,
		Payload: map[string]any{
			"service": service,
			"status":  event.Status,
			"reason":  event.Reason,
			"error":   event.Error,
			"subject": event.Subject,
			"email":   event.Email,
		},
	})
	return err
}

// AuthDenyFunc adapts InsertAuthDeny to the auth middleware hook.
func AuthDenyFunc(q QueryRower, service string) auth.AuditFunc {
	return func(ctx context.Context, event auth.DenyEvent) error {
		return InsertAuthDeny(ctx, q, service, event)
	}
}
