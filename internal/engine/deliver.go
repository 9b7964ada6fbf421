package engine

import (
	"context"
	"strings"
	"time"

	"github.com/relaycrm/relay-go/internal/domain"
	"github.com/relaycrm/relay-go/internal/failure"
)

func (r *Runner) deliver(ctx context.Context, exec domain.Execution, p DeliveryPayload) (outcome, error) {
	route, err := r.deps.Routing.GetDeliveryRoute(ctx, exec.MemberID)
	if err != nil {
		return outcome{}, failure.Transient(err, "resolve delivery route")
	}
	if route.Sender.Email == "" {
		return outcome{}, failure.New(failure.KindPermanent, "resolve delivery route: no sender address")
	}

	receipt, err := r.deps.Sender.Send(ctx, domain.OutboundEmail{
		To:          route.Contact,
		From:        route.Sender,
		Subject:     RenderPlaceholders(p.Subject, route.Contact),
		HTML:        RenderPlaceholders(p.Body, route.Contact),
		ExecutionID: exec.ID,
		MemberID:    exec.MemberID,
	})
	if err != nil {
		return outcome{}, failure.Transient(err, "deliver email")
	}

	sentAt := r.clock.Now().UTC()
	waitUntil := p.Wait.Until(sentAt)
	r.logger.Info("email delivered",
		"execution_id", exec.ID,
		"member_id", exec.MemberID,
		"message_id", receipt.MessageID,
		"wait_until", waitUntil.Format(time.RFC3339),
	)
	return outcome{
		Status: domain.ExecutionWaiting,
		Patch: domain.Metadata{
			"messageId": strings.TrimSpace(receipt.MessageID),
			"sentAt":    sentAt.Format(time.RFC3339Nano),
			"from":      route.Sender.Email,
			"waitUntil": waitUntil.Format(time.RFC3339Nano),
		},
		applied: "email sent",
	}, nil
}
