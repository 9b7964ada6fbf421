// Package engine runs sequence execution jobs: it validates job envelopes,
// claims each execution exactly once, dispatches it to the generation,
// delivery or passive handler and settles the queue message according to
// the outcome.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/goliatone/go-command/runner"
	"k8s.io/utils/clock"

	"github.com/relaycrm/relay-go/internal/domain"
	"github.com/relaycrm/relay-go/internal/repo"
)

const DefaultInstruction = "You are an SDR writing a short, personal first-touch email. " +
	"Return HTML paragraphs only, no greeting placeholders, no signature."

type Config struct {
	// MaxRetries is the number of processing attempts before an execution
	// is marked failed.
	MaxRetries int
	// RetryPermanent retries permanent failures like transient ones. When
	// false a permanent failure fails the execution on the first attempt.
	RetryPermanent bool
	RetryBackoff   runner.ExponentialBackoffStrategy

	DefaultDelay     float64
	DefaultDelayUnit DelayUnit

	// Instruction is the role instruction sent with every generation request.
	Instruction string
	Policy      StepPolicy
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:       3,
		RetryPermanent:   true,
		RetryBackoff:     runner.ExponentialBackoffStrategy{Base: 30 * time.Second, Factor: 2, Max: 15 * time.Minute},
		DefaultDelay:     3,
		DefaultDelayUnit: UnitDays,
		Instruction:      DefaultInstruction,
		Policy:           DefaultStepPolicy(),
	}
}

func (c Config) Validate() error {
	if c.MaxRetries < 1 {
		return errors.New("max retries must be >= 1")
	}
	if err := validateBackoff(c.RetryBackoff); err != nil {
		return err
	}
	if _, ok := unitDurations[c.DefaultDelayUnit]; !ok {
		return fmt.Errorf("unsupported default delay unit %q", c.DefaultDelayUnit)
	}
	if !validDelay(c.DefaultDelay, c.DefaultDelayUnit) {
		return fmt.Errorf("default delay must be a finite value >= 0 that fits in a duration, got %v %s", c.DefaultDelay, c.DefaultDelayUnit)
	}
	if c.Instruction == "" {
		return errors.New("generation instruction is required")
	}
	return c.Policy.Validate()
}

// ContentGenerator drafts email content for a contact.
type ContentGenerator interface {
	Generate(ctx context.Context, req domain.GenerationRequest) (domain.GeneratedContent, error)
}

// EmailSender hands a rendered email to the transactional delivery service.
type EmailSender interface {
	Send(ctx context.Context, email domain.OutboundEmail) (domain.SendReceipt, error)
}

// Acknowledger settles queue messages by job id.
//
// Delete is called once the execution row reflects the outcome of the job.
// Retain is the retry signal: the host queue must keep the message and hide
// it for at least delay before delivering it again. A queue that redelivers
// retained messages immediately turns retries into a busy loop.
type Acknowledger interface {
	Delete(ctx context.Context, jobID int64) error
	Retain(ctx context.Context, jobID int64, delay time.Duration) error
}

// ContentArchive stores a copy of generated content. Optional.
type ContentArchive interface {
	Put(ctx context.Context, key string, content []byte, contentType string) error
}

// TransitionRecorder receives every status change the engine writes. Optional.
type TransitionRecorder interface {
	RecordTransition(ctx context.Context, t domain.Transition) error
}

type Dependencies struct {
	Executions repo.ExecutionRepository
	Routing    repo.RoutingRepository
	Advancer   repo.MemberAdvancer
	Generator  ContentGenerator
	Sender     EmailSender
	Acks       Acknowledger
	Archive    ContentArchive
	Audit      TransitionRecorder
	Clock      clock.PassiveClock
	Logger     *slog.Logger
}

func (d Dependencies) validate() error {
	switch {
	case d.Executions == nil:
		return errors.New("execution repository is required")
	case d.Routing == nil:
		return errors.New("routing repository is required")
	case d.Advancer == nil:
		return errors.New("member advancer is required")
	case d.Generator == nil:
		return errors.New("content generator is required")
	case d.Sender == nil:
		return errors.New("email sender is required")
	case d.Acks == nil:
		return errors.New("acknowledger is required")
	}
	return nil
}

// New wires a Runner. Optional dependencies left nil are disabled; a nil
// clock or logger falls back to the real clock and a discarding logger.
func New(cfg Config, deps Dependencies) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if deps.Clock == nil {
		deps.Clock = clock.RealClock{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	r := &Runner{
		cfg:    cfg,
		deps:   deps,
		clock:  deps.Clock,
		logger: deps.Logger,
	}
	r.governor = &Governor{
		maxRetries:     cfg.MaxRetries,
		retryPermanent: cfg.RetryPermanent,
		backoff:        cfg.RetryBackoff,
		store:          deps.Executions,
		acks:           deps.Acks,
		clock:          deps.Clock,
		logger:         deps.Logger,
		audit:          r.recordTransition,
	}
	return r, nil
}
