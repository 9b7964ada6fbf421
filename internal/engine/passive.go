package engine

import (
	"context"

	"github.com/relaycrm/relay-go/internal/domain"
	"github.com/relaycrm/relay-go/internal/failure"
)

// advance moves the member past a step the engine does not execute itself.
func (r *Runner) advance(ctx context.Context, exec domain.Execution, p PassivePayload) (outcome, error) {
	if err := r.deps.Advancer.AdvanceMember(ctx, exec.MemberID); err != nil {
		return outcome{}, failure.Transient(err, "advance sequence member")
	}
	decision := r.cfg.Policy.Decide(p.StepType)
	out := outcome{Status: decision.Status, applied: "member advanced"}
	if decision.Note != "" {
		out.Patch = domain.Metadata{"note": decision.Note}
	}
	return out, nil
}
