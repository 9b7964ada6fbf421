package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/goliatone/go-command/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/relaycrm/relay-go/internal/domain"
	"github.com/relaycrm/relay-go/internal/failure"
)

func TestDefaultBackoffDelays(t *testing.T) {
	b := DefaultConfig().RetryBackoff
	assert.Equal(t, 30*time.Second, b.SleepDuration(0, nil))
	assert.Equal(t, time.Minute, b.SleepDuration(1, nil))
	assert.Equal(t, 2*time.Minute, b.SleepDuration(2, nil))
	assert.Equal(t, 15*time.Minute, b.SleepDuration(10, nil))
}

func TestValidateBackoff(t *testing.T) {
	assert.NoError(t, validateBackoff(runner.ExponentialBackoffStrategy{Base: time.Second, Factor: 1, Max: time.Second}))
	assert.Error(t, validateBackoff(runner.ExponentialBackoffStrategy{Factor: 2, Max: time.Second}))
	assert.Error(t, validateBackoff(runner.ExponentialBackoffStrategy{Base: time.Second, Factor: 0.5, Max: time.Minute}))
	assert.Error(t, validateBackoff(runner.ExponentialBackoffStrategy{Base: time.Minute, Factor: 2, Max: time.Second}))
	assert.Error(t, validateBackoff(runner.ExponentialBackoffStrategy{Base: time.Second, Factor: math.NaN(), Max: time.Minute}))
}

func newTestGovernor(t *testing.T, store *fakeStore, acks *fakeAcks, audit *fakeAudit) *Governor {
	t.Helper()
	cfg := DefaultConfig()
	g := &Governor{
		maxRetries:     cfg.MaxRetries,
		retryPermanent: cfg.RetryPermanent,
		backoff:        cfg.RetryBackoff,
		store:          store,
		acks:           acks,
		clock:          clocktesting.NewFakePassiveClock(testStart),
		logger:         slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
	if audit != nil {
		g.audit = func(ctx context.Context, tr domain.Transition) {
			_ = audit.RecordTransition(ctx, tr)
		}
	}
	return g
}

func processing(id string, retries int) domain.Execution {
	e := pendingExecution(id, domain.StepEmail, nil)
	e.Status = domain.ExecutionProcessing
	e.RetryCount = retries
	return e
}

func TestGovernorRetriesThenFails(t *testing.T) {
	exec := processing("e1", 1)
	store := newFakeStore(exec)
	acks := &fakeAcks{}
	audit := &fakeAudit{}
	g := newTestGovernor(t, store, acks, audit)
	job := jobFor(5, exec)

	d := g.Handle(context.Background(), job, &exec, errors.New("timeout"))

	assert.Equal(t, Decision{Verdict: VerdictRetry, Status: domain.ExecutionPending, RetryCount: 2, Delay: time.Minute}, d)
	assert.Equal(t, time.Minute, acks.retained[5])
	require.Len(t, store.failures, 1)
	assert.Equal(t, "timeout", store.failures[0].ErrorMessage)
	assert.True(t, store.failures[0].At.Equal(testStart))

	exec = processing("e1", 2)
	store.rows["e1"].Status = domain.ExecutionProcessing
	d = g.Handle(context.Background(), job, &exec, errors.New("timeout"))

	assert.Equal(t, VerdictFailed, d.Verdict)
	assert.Equal(t, domain.ExecutionFailed, d.Status)
	assert.Equal(t, 3, d.RetryCount)
	assert.Equal(t, []int64{5}, acks.deleted)
	require.Len(t, audit.transitions, 2)
	assert.Equal(t, domain.ExecutionFailed, audit.transitions[1].To)
}

func TestGovernorNotFoundBeforeClaimDrops(t *testing.T) {
	store := newFakeStore()
	acks := &fakeAcks{}
	g := newTestGovernor(t, store, acks, nil)

	d := g.Handle(context.Background(), domain.Job{ID: 2, ExecutionID: "gone"}, nil, failure.New(failure.KindNotFound, "execution gone"))

	assert.Equal(t, Decision{Verdict: VerdictDropped}, d)
	assert.Equal(t, []int64{2}, acks.deleted)
	assert.Empty(t, store.failures)
}

func TestGovernorNotFoundAfterClaimIsPermanent(t *testing.T) {
	exec := processing("e1", 0)
	store := newFakeStore(exec)
	acks := &fakeAcks{}
	g := newTestGovernor(t, store, acks, nil)
	g.retryPermanent = false

	d := g.Handle(context.Background(), jobFor(1, exec), &exec, failure.New(failure.KindNotFound, "contact not found"))

	assert.Equal(t, VerdictFailed, d.Verdict)
	assert.Equal(t, domain.ExecutionFailed, store.get("e1").Status)
	assert.Equal(t, []int64{1}, acks.deleted)
}

func TestGovernorSkipsAuditWhenRecordFails(t *testing.T) {
	exec := processing("e1", 0)
	store := newFakeStore(exec)
	store.rows["e1"].Status = domain.ExecutionCompleted
	acks := &fakeAcks{}
	audit := &fakeAudit{}
	g := newTestGovernor(t, store, acks, audit)

	d := g.Handle(context.Background(), jobFor(1, exec), &exec, errors.New("boom"))

	assert.Equal(t, VerdictRetry, d.Verdict)
	assert.Empty(t, store.failures)
	assert.Empty(t, audit.transitions)
	assert.Equal(t, 30*time.Second, acks.retained[1])
}

func TestAppliedErrorIsDetectedThroughWrapping(t *testing.T) {
	err := failure.Transient(&appliedError{effect: "member advanced", err: errors.New("db down")}, "settle")
	assert.True(t, isApplied(err))
	assert.Contains(t, err.Error(), "member advanced but outcome not recorded")
	assert.False(t, isApplied(errors.New("db down")))
}

func TestGovernorRefusesIllegalTransition(t *testing.T) {
	exec := processing("e1", 0)
	exec.Status = domain.ExecutionCompleted
	store := newFakeStore(exec)
	acks := &fakeAcks{}
	g := newTestGovernor(t, store, acks, nil)

	d := g.Handle(context.Background(), jobFor(3, exec), &exec, errors.New("boom"))

	assert.Equal(t, Decision{Verdict: VerdictDropped}, d)
	assert.Empty(t, store.failures)
	assert.Equal(t, []int64{3}, acks.deleted)
	assert.Equal(t, domain.ExecutionCompleted, store.get("e1").Status)
}
