package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/relaycrm/relay-go/internal/domain"
	"github.com/relaycrm/relay-go/internal/repo"
)

var testStart = time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)

type fakeStore struct {
	mu         sync.Mutex
	rows       map[string]*domain.Execution
	getErr     error
	updateErr  error
	claims     int
	updates    []repo.ExecutionUpdate
	failures   []repo.FailureUpdate
	loseClaims bool
}

func newFakeStore(execs ...domain.Execution) *fakeStore {
	s := &fakeStore{rows: map[string]*domain.Execution{}}
	for _, e := range execs {
		e := e
		if e.Metadata == nil {
			e.Metadata = domain.Metadata{}
		}
		s.rows[e.ID] = &e
	}
	return s
}

func (s *fakeStore) get(id string) domain.Execution {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := *s.rows[id]
	e.Metadata = e.Metadata.Clone()
	return e
}

func (s *fakeStore) GetExecution(ctx context.Context, id string) (domain.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return domain.Execution{}, s.getErr
	}
	e, ok := s.rows[id]
	if !ok {
		return domain.Execution{}, repo.ErrNotFound
	}
	out := *e
	out.Metadata = e.Metadata.Clone()
	return out, nil
}

func (s *fakeStore) ClaimExecution(ctx context.Context, id string, effective domain.StepType, from []domain.ExecutionStatus, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claims++
	e, ok := s.rows[id]
	if !ok || s.loseClaims {
		return false, nil
	}
	for _, st := range from {
		if e.Status == st {
			e.Status = domain.ExecutionProcessing
			e.EffectiveType = effective
			e.ExecutedAt = &at
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) UpdateExecution(ctx context.Context, id string, update repo.ExecutionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	e, ok := s.rows[id]
	if !ok {
		return repo.ErrNotFound
	}
	if update.From != "" && e.Status != update.From {
		return repo.ErrConflict
	}
	s.updates = append(s.updates, update)
	if update.Status != "" {
		e.Status = update.Status
	}
	e.Metadata = e.Metadata.Merge(update.MetadataPatch)
	if update.ClearError {
		e.ErrorMessage = ""
	}
	if update.CompletedAt != nil {
		e.CompletedAt = update.CompletedAt
	}
	return nil
}

func (s *fakeStore) RecordFailure(ctx context.Context, id string, update repo.FailureUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.rows[id]
	if !ok {
		return repo.ErrNotFound
	}
	if e.Status != domain.ExecutionProcessing {
		return repo.ErrConflict
	}
	s.failures = append(s.failures, update)
	e.Status = update.Status
	e.RetryCount = update.RetryCount
	e.ErrorMessage = update.ErrorMessage
	return nil
}

type fakeRouting struct {
	contact  domain.Contact
	sender   domain.Sender
	err      error
	contacts int
	routes   int
}

func (f *fakeRouting) GetContact(ctx context.Context, memberID string) (domain.Contact, error) {
	f.contacts++
	return f.contact, f.err
}

func (f *fakeRouting) GetDeliveryRoute(ctx context.Context, memberID string) (domain.DeliveryRoute, error) {
	f.routes++
	if f.err != nil {
		return domain.DeliveryRoute{}, f.err
	}
	return domain.DeliveryRoute{Contact: f.contact, Sender: f.sender}, nil
}

type fakeAdvancer struct {
	members []string
	err     error
	panicOn string
}

func (f *fakeAdvancer) AdvanceMember(ctx context.Context, memberID string) error {
	if f.panicOn != "" && memberID == f.panicOn {
		panic("advancement routine exploded")
	}
	f.members = append(f.members, memberID)
	return f.err
}

type fakeGenerator struct {
	content  domain.GeneratedContent
	err      error
	requests []domain.GenerationRequest
}

func (f *fakeGenerator) Generate(ctx context.Context, req domain.GenerationRequest) (domain.GeneratedContent, error) {
	f.requests = append(f.requests, req)
	return f.content, f.err
}

type fakeSender struct {
	sent []domain.OutboundEmail
	errs []error
	id   string
}

func (f *fakeSender) Send(ctx context.Context, email domain.OutboundEmail) (domain.SendReceipt, error) {
	f.sent = append(f.sent, email)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return domain.SendReceipt{}, err
		}
	}
	id := f.id
	if id == "" {
		id = "msg-1"
	}
	return domain.SendReceipt{MessageID: id}, nil
}

type fakeAcks struct {
	deleted  []int64
	retained map[int64]time.Duration
	delays   []time.Duration
}

func (f *fakeAcks) Delete(ctx context.Context, jobID int64) error {
	f.deleted = append(f.deleted, jobID)
	return nil
}

func (f *fakeAcks) Retain(ctx context.Context, jobID int64, delay time.Duration) error {
	if f.retained == nil {
		f.retained = map[int64]time.Duration{}
	}
	f.retained[jobID] = delay
	f.delays = append(f.delays, delay)
	return nil
}

type fakeArchive struct {
	objects map[string]string
	err     error
}

func (f *fakeArchive) Put(ctx context.Context, key string, content []byte, contentType string) error {
	if f.err != nil {
		return f.err
	}
	if f.objects == nil {
		f.objects = map[string]string{}
	}
	f.objects[key] = string(content)
	return nil
}

type fakeAudit struct {
	transitions []domain.Transition
}

func (f *fakeAudit) RecordTransition(ctx context.Context, t domain.Transition) error {
	f.transitions = append(f.transitions, t)
	return nil
}

type harness struct {
	runner    *Runner
	store     *fakeStore
	routing   *fakeRouting
	advancer  *fakeAdvancer
	generator *fakeGenerator
	sender    *fakeSender
	acks      *fakeAcks
	audit     *fakeAudit
	clock     *clocktesting.FakeClock
}

func newHarness(t *testing.T, cfg Config, execs ...domain.Execution) *harness {
	t.Helper()
	h := &harness{
		store: newFakeStore(execs...),
		routing: &fakeRouting{
			contact: domain.Contact{Email: "ada@example.com", FirstName: "Ada", LastName: "Lovelace", Company: "Engines Ltd"},
			sender:  domain.Sender{Email: "owner@relay.test", Name: "Owner"},
		},
		advancer:  &fakeAdvancer{},
		generator: &fakeGenerator{content: domain.GeneratedContent{Subject: "Quick idea", Body: "<p>Hello Ada</p>", Rationale: "short"}},
		sender:    &fakeSender{},
		acks:      &fakeAcks{},
		audit:     &fakeAudit{},
		clock:     clocktesting.NewFakeClock(testStart),
	}
	runner, err := New(cfg, Dependencies{
		Executions: h.store,
		Routing:    h.routing,
		Advancer:   h.advancer,
		Generator:  h.generator,
		Sender:     h.sender,
		Acks:       h.acks,
		Audit:      h.audit,
		Clock:      h.clock,
		Logger:     slog.New(slog.NewJSONHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	h.runner = runner
	return h
}

func pendingExecution(id string, stepType domain.StepType, meta domain.Metadata) domain.Execution {
	return domain.Execution{
		ID:         id,
		SequenceID: "seq-1",
		MemberID:   "mem-" + id,
		StepType:   stepType,
		Status:     domain.ExecutionPending,
		Metadata:   meta,
	}
}

func jobFor(id int64, exec domain.Execution) domain.Job {
	return domain.Job{
		ID:          id,
		ExecutionID: exec.ID,
		SequenceID:  exec.SequenceID,
		MemberID:    exec.MemberID,
		StepType:    exec.StepType,
	}
}

func metaTime(t *testing.T, meta domain.Metadata, key string) time.Time {
	t.Helper()
	got, err := time.Parse(time.RFC3339Nano, meta.String(key))
	require.NoError(t, err, key)
	return got
}
