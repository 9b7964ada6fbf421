package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"k8s.io/utils/clock"

	"github.com/relaycrm/relay-go/internal/domain"
	"github.com/relaycrm/relay-go/internal/failure"
	"github.com/relaycrm/relay-go/internal/repo"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

type JobResult struct {
	JobID  int64  `json:"jobId"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type BatchResult struct {
	Results []JobResult `json:"results"`
}

func (b BatchResult) Failed() int {
	n := 0
	for _, r := range b.Results {
		if r.Status == StatusFailed {
			n++
		}
	}
	return n
}

// Runner processes batches of jobs one at a time. Separate Runner calls may
// overlap; the conditional claim on the execution row keeps each execution
// to a single effective run.
type Runner struct {
	cfg      Config
	deps     Dependencies
	clock    clock.PassiveClock
	logger   *slog.Logger
	governor *Governor
}

// outcome is a handler's successful result, persisted by the runner.
type outcome struct {
	Status  domain.ExecutionStatus
	Patch   domain.Metadata
	// applied names a side effect that already happened and must not be
	// repeated by a retry.
	applied string
}

type jobState struct {
	exec    domain.Execution
	claimed bool
}

// RunBatch validates raw and runs it. The only error it returns is a
// validation error, in which case nothing was touched.
func (r *Runner) RunBatch(ctx context.Context, raw []byte) (BatchResult, error) {
	jobs, err := ParseBatch(raw)
	if err != nil {
		return BatchResult{}, err
	}
	return r.RunJobs(ctx, jobs), nil
}

// RunJobs processes jobs sequentially. A failing or panicking job never
// stops the ones after it.
func (r *Runner) RunJobs(ctx context.Context, jobs []domain.Job) BatchResult {
	result := BatchResult{Results: make([]JobResult, 0, len(jobs))}
	for _, job := range jobs {
		result.Results = append(result.Results, r.runJob(ctx, job))
	}
	r.logger.Info("batch processed",
		"jobs", len(jobs),
		"succeeded", len(jobs)-result.Failed(),
		"failed", result.Failed(),
	)
	return result
}

func (r *Runner) runJob(ctx context.Context, job domain.Job) (result JobResult) {
	st := &jobState{}
	defer func() {
		if v := recover(); v != nil {
			r.logger.Error("job panicked", "job_id", job.ID, "execution_id", job.ExecutionID, "panic", fmt.Sprint(v))
			result = r.fail(ctx, job, st, failure.New(failure.KindTransient, fmt.Sprintf("panic: %v", v)))
		}
	}()

	if err := r.process(ctx, job, st); err != nil {
		return r.fail(ctx, job, st, err)
	}
	return JobResult{JobID: job.ID, Status: StatusSuccess}
}

func (r *Runner) fail(ctx context.Context, job domain.Job, st *jobState, err error) JobResult {
	var claimed *domain.Execution
	if st.claimed {
		exec := st.exec
		claimed = &exec
	}
	r.governor.Handle(ctx, job, claimed, err)
	return JobResult{JobID: job.ID, Status: StatusFailed, Error: failure.Message(err)}
}

func (r *Runner) process(ctx context.Context, job domain.Job, st *jobState) error {
	exec, err := r.deps.Executions.GetExecution(ctx, job.ExecutionID)
	if errors.Is(err, repo.ErrNotFound) {
		return failure.Wrap(err, failure.KindNotFound, "load execution")
	}
	if err != nil {
		return failure.Transient(err, "load execution")
	}
	st.exec = exec

	if !exec.Status.IsDispatchable() {
		r.dropDuplicate(ctx, job, exec.Status)
		return nil
	}

	meta := executionMetadata(job, exec)
	effective := ResolveEffectiveType(declaredType(job, exec), meta)
	claimed, err := r.deps.Executions.ClaimExecution(ctx, exec.ID, effective, domain.DispatchableStatuses, r.clock.Now().UTC())
	if err != nil {
		return failure.Transient(err, "claim execution")
	}
	if !claimed {
		r.dropDuplicate(ctx, job, domain.ExecutionProcessing)
		return nil
	}
	exec.Status = domain.ExecutionProcessing
	exec.EffectiveType = effective
	st.exec = exec
	st.claimed = true

	payload := BuildPayload(effective, meta, r.defaultWait())
	out, err := r.dispatch(ctx, exec, payload)
	if err != nil {
		return err
	}
	if err := r.settle(ctx, job, exec, out); err != nil {
		if out.applied != "" {
			return &appliedError{effect: out.applied, err: err}
		}
		return err
	}

	if err := r.deps.Acks.Delete(ctx, job.ID); err != nil {
		// The row is final; a redelivery stops at the duplicate check.
		r.logger.Warn("delete job message failed", "job_id", job.ID, "error", err.Error())
	}
	r.logger.Info("job processed",
		"job_id", job.ID,
		"execution_id", exec.ID,
		"handler", payload.handler(),
		"effective_type", string(effective),
		"status", string(out.Status),
	)
	return nil
}

func (r *Runner) dispatch(ctx context.Context, exec domain.Execution, payload Payload) (outcome, error) {
	switch p := payload.(type) {
	case GenerationPayload:
		return r.generate(ctx, exec, p)
	case DeliveryPayload:
		return r.deliver(ctx, exec, p)
	case PassivePayload:
		return r.advance(ctx, exec, p)
	default:
		return outcome{}, failure.New(failure.KindPermanent, fmt.Sprintf("no handler for payload %T", payload))
	}
}

func (r *Runner) settle(ctx context.Context, job domain.Job, exec domain.Execution, out outcome) error {
	if !domain.CanTransitionExecution(exec.Status, out.Status) {
		return failure.New(failure.KindPermanent, fmt.Sprintf("illegal transition %s -> %s", exec.Status, out.Status))
	}
	now := r.clock.Now().UTC()
	update := repo.ExecutionUpdate{
		From:          domain.ExecutionProcessing,
		Status:        out.Status,
		MetadataPatch: out.Patch,
		ClearError:    true,
		At:            now,
	}
	if out.Status.IsTerminal() {
		update.CompletedAt = &now
	}
	if err := r.deps.Executions.UpdateExecution(ctx, exec.ID, update); err != nil {
		return failure.Transient(err, "record outcome")
	}
	r.recordTransition(ctx, domain.Transition{
		ExecutionID: exec.ID,
		SequenceID:  exec.SequenceID,
		MemberID:    exec.MemberID,
		JobID:       job.ID,
		StepType:    exec.EffectiveType,
		From:        domain.ExecutionProcessing,
		To:          out.Status,
		RetryCount:  exec.RetryCount,
		At:          now,
	})
	return nil
}

// dropDuplicate acknowledges a redelivered job without touching the row.
func (r *Runner) dropDuplicate(ctx context.Context, job domain.Job, status domain.ExecutionStatus) {
	r.logger.Info("duplicate job skipped",
		"job_id", job.ID,
		"execution_id", job.ExecutionID,
		"status", string(status),
	)
	if err := r.deps.Acks.Delete(ctx, job.ID); err != nil {
		r.logger.Warn("delete job message failed", "job_id", job.ID, "error", err.Error())
	}
}

func (r *Runner) defaultWait() WaitWindow {
	return WaitWindow{Value: r.cfg.DefaultDelay, Unit: r.cfg.DefaultDelayUnit}
}

// recordTransition audits the transitions worth a trail: terminal statuses
// and waiting.
func (r *Runner) recordTransition(ctx context.Context, t domain.Transition) {
	if r.deps.Audit == nil {
		return
	}
	if !t.To.IsTerminal() && t.To != domain.ExecutionWaiting {
		return
	}
	if err := r.deps.Audit.RecordTransition(ctx, t); err != nil {
		r.logger.Warn("record transition failed",
			"execution_id", t.ExecutionID,
			"to", string(t.To),
			"error", err.Error(),
		)
	}
}
