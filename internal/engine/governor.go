package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/goliatone/go-command/runner"
	goerrors "github.com/goliatone/go-errors"
	"k8s.io/utils/clock"

	"github.com/relaycrm/relay-go/internal/domain"
	"github.com/relaycrm/relay-go/internal/failure"
	"github.com/relaycrm/relay-go/internal/repo"
)

// validateBackoff rejects strategies that would hide retried messages for
// no time or shrink the delay between attempts.
func validateBackoff(b runner.ExponentialBackoffStrategy) error {
	if b.Base <= 0 {
		return errors.New("retry base delay must be positive")
	}
	if math.IsNaN(b.Factor) || math.IsInf(b.Factor, 0) || b.Factor < 1 {
		return errors.New("retry backoff factor must be >= 1")
	}
	if b.Max < b.Base {
		return errors.New("retry max delay must be >= base delay")
	}
	return nil
}

// Verdict is what the governor did with a failed job.
type Verdict string

const (
	VerdictRetry   Verdict = "retry"
	VerdictFailed  Verdict = "failed"
	VerdictDropped Verdict = "dropped"
)

type Decision struct {
	Verdict    Verdict
	Status     domain.ExecutionStatus
	RetryCount int
	Delay      time.Duration
}

// Governor turns a failed job into a retry or a terminal failure. The
// status, retry count and error are written in one statement; the queue
// message is retained for a retry and deleted otherwise.
type Governor struct {
	maxRetries     int
	retryPermanent bool
	backoff        runner.RetryStrategy
	store          repo.ExecutionRepository
	acks           Acknowledger
	clock          clock.PassiveClock
	logger         *slog.Logger
	audit          func(ctx context.Context, t domain.Transition)
}

// Handle settles a failed job. claimed is nil when the failure happened
// before this job owned the execution; the row is then left untouched. A
// missing execution drops the job. Once claimed, a missing collaborator row
// counts as a permanent failure. Persistence and ack errors are logged,
// never returned.
func (g *Governor) Handle(ctx context.Context, job domain.Job, claimed *domain.Execution, cause error) Decision {
	kind := failure.KindOf(cause)
	attrs := append([]any{
		"job_id", job.ID,
		"execution_id", job.ExecutionID,
		"kind", string(kind),
	}, errorAttrs(cause)...)

	if claimed == nil && kind == failure.KindNotFound {
		g.logger.Warn("execution not found, dropping job", attrs...)
		g.delete(ctx, job)
		return Decision{Verdict: VerdictDropped}
	}
	if claimed == nil {
		delay := g.backoff.SleepDuration(0, cause)
		g.logger.Warn("job failed before claim, retaining", append(attrs, "delay", delay.String())...)
		g.retain(ctx, job, delay)
		return Decision{Verdict: VerdictRetry, Delay: delay}
	}

	next := claimed.RetryCount + 1
	status := domain.ExecutionPending
	verdict := VerdictRetry
	switch {
	case next >= g.maxRetries:
		status, verdict = domain.ExecutionFailed, VerdictFailed
	case (kind == failure.KindPermanent || kind == failure.KindNotFound) && !g.retryPermanent:
		status, verdict = domain.ExecutionFailed, VerdictFailed
	case isApplied(cause):
		status, verdict = domain.ExecutionFailed, VerdictFailed
	}
	if !domain.CanTransitionExecution(claimed.Status, status) {
		g.logger.Error("illegal failure transition, leaving row", append(attrs, "from", string(claimed.Status), "to", string(status))...)
		g.delete(ctx, job)
		return Decision{Verdict: VerdictDropped}
	}

	now := g.clock.Now().UTC()
	message := failure.Message(cause)
	err := g.store.RecordFailure(ctx, claimed.ID, repo.FailureUpdate{
		Status:       status,
		RetryCount:   next,
		ErrorMessage: message,
		At:           now,
	})
	if err != nil {
		g.logger.Error("record failure failed", append(attrs, "status", string(status), "record_error", err.Error())...)
	}

	decision := Decision{Verdict: verdict, Status: status, RetryCount: next}
	attrs = append(attrs, "status", string(status), "retry_count", next)
	if verdict == VerdictFailed {
		g.logger.Error("execution failed", attrs...)
		g.delete(ctx, job)
	} else {
		decision.Delay = g.backoff.SleepDuration(next-1, cause)
		g.logger.Warn("execution will retry", append(attrs, "delay", decision.Delay.String())...)
		g.retain(ctx, job, decision.Delay)
	}

	if err == nil && g.audit != nil {
		g.audit(ctx, domain.Transition{
			ExecutionID: claimed.ID,
			SequenceID:  claimed.SequenceID,
			MemberID:    claimed.MemberID,
			JobID:       job.ID,
			StepType:    claimed.EffectiveType,
			From:        domain.ExecutionProcessing,
			To:          status,
			RetryCount:  next,
			Error:       message,
			At:          now,
		})
	}
	return decision
}

func (g *Governor) delete(ctx context.Context, job domain.Job) {
	if err := g.acks.Delete(ctx, job.ID); err != nil {
		g.logger.Warn("delete job message failed", "job_id", job.ID, "error", err.Error())
	}
}

func (g *Governor) retain(ctx context.Context, job domain.Job, delay time.Duration) {
	if err := g.acks.Retain(ctx, job.ID, delay); err != nil {
		g.logger.Warn("retain job message failed", "job_id", job.ID, "error", err.Error())
	}
}

// appliedError marks a failure that happened after the step's side effect
// took place: the email went out or the member was advanced. Retrying it
// would apply the effect twice.
type appliedError struct {
	effect string
	err    error
}

func (e *appliedError) Error() string {
	return fmt.Sprintf("%s but outcome not recorded: %v", e.effect, e.err)
}

func (e *appliedError) Unwrap() error { return e.err }

func isApplied(err error) bool {
	var a *appliedError
	return errors.As(err, &a)
}

// errorAttrs expands categorized errors into structured log fields.
func errorAttrs(err error) []any {
	if err == nil {
		return nil
	}
	var ge *goerrors.Error
	if !errors.As(err, &ge) {
		return []any{"error", err.Error()}
	}
	out := []any{"error", failure.Message(err)}
	for _, attr := range goerrors.ToSlogAttributes(ge) {
		out = append(out, attr)
	}
	return out
}
