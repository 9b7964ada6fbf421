package repo

import (
	"context"
	"errors"
	"time"

	"github.com/relaycrm/relay-go/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict means the row was not in the status the write expected.
	ErrConflict = errors.New("execution status changed concurrently")
)

// ExecutionUpdate is a partial update of one execution row. Zero fields are
// left untouched.
type ExecutionUpdate struct {
	// From guards the write: it only applies while the row is in this status.
	From          domain.ExecutionStatus
	Status        domain.ExecutionStatus
	MetadataPatch domain.Metadata
	ClearError    bool
	CompletedAt   *time.Time
	At            time.Time
}

// FailureUpdate is written atomically so retry_count never disagrees with
// the recorded error.
type FailureUpdate struct {
	Status       domain.ExecutionStatus
	RetryCount   int
	ErrorMessage string
	At           time.Time
}

// ExecutionRepository reads and writes sequence_executions.
type ExecutionRepository interface {
	GetExecution(ctx context.Context, id string) (domain.Execution, error)
	// ClaimExecution moves the row to processing only if its status is one
	// of from. It reports false when another delivery got there first.
	ClaimExecution(ctx context.Context, id string, effective domain.StepType, from []domain.ExecutionStatus, at time.Time) (bool, error)
	UpdateExecution(ctx context.Context, id string, update ExecutionUpdate) error
	RecordFailure(ctx context.Context, id string, update FailureUpdate) error
}

// RoutingRepository resolves the people around an execution.
type RoutingRepository interface {
	GetContact(ctx context.Context, memberID string) (domain.Contact, error)
	GetDeliveryRoute(ctx context.Context, memberID string) (domain.DeliveryRoute, error)
}

// MemberAdvancer moves a sequence member's cursor to its next step.
type MemberAdvancer interface {
	AdvanceMember(ctx context.Context, memberID string) error
}
