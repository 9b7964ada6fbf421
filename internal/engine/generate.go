package engine

import (
	"context"
	"strings"
	"time"

	"github.com/relaycrm/relay-go/internal/domain"
	"github.com/relaycrm/relay-go/internal/failure"
)

const generatedContentType = "text/html; charset=utf-8"

// generate drafts the email body. It never contacts the recipient; the
// execution moves to pending_send and a later job delivers it.
func (r *Runner) generate(ctx context.Context, exec domain.Execution, p GenerationPayload) (outcome, error) {
	contact, err := r.deps.Routing.GetContact(ctx, exec.MemberID)
	if err != nil {
		return outcome{}, failure.Transient(err, "load contact")
	}

	content, err := r.deps.Generator.Generate(ctx, domain.GenerationRequest{
		Prompt:      p.Prompt,
		Instruction: r.cfg.Instruction,
		Subject:     p.Subject,
		Contact:     contact,
	})
	if err != nil {
		return outcome{}, failure.Transient(err, "generate content")
	}
	body := strings.TrimSpace(content.Body)
	if body == "" {
		return outcome{}, failure.New(failure.KindTransient, "generate content: response has no body")
	}
	subject := strings.TrimSpace(content.Subject)
	if subject == "" {
		subject = p.Subject
	}

	patch := domain.Metadata{
		"body":        body,
		"subject":     subject,
		"generatedAt": r.clock.Now().UTC().Format(time.RFC3339Nano),
	}
	if rationale := strings.TrimSpace(content.Rationale); rationale != "" {
		patch["rationale"] = rationale
	}
	if key, ok := r.archive(ctx, exec, body); ok {
		patch["contentObjectKey"] = key
	}
	return outcome{Status: domain.ExecutionPendingSend, Patch: patch}, nil
}

// archive is best effort: a storage outage must not fail the step.
func (r *Runner) archive(ctx context.Context, exec domain.Execution, body string) (string, bool) {
	if r.deps.Archive == nil {
		return "", false
	}
	key := "executions/" + exec.ID + "/generated.html"
	if err := r.deps.Archive.Put(ctx, key, []byte(body), generatedContentType); err != nil {
		r.logger.Warn("archive generated content failed",
			"execution_id", exec.ID,
			"object_key", key,
			"error", err.Error(),
		)
		return "", false
	}
	return key, true
}
