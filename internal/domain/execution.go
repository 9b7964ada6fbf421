package domain

import (
	"strings"
	"time"
)

// ExecutionStatus is the lifecycle state of a single sequence step attempt.
type ExecutionStatus string

const (
	ExecutionPending     ExecutionStatus = "pending"
	ExecutionProcessing  ExecutionStatus = "processing"
	ExecutionPendingSend ExecutionStatus = "pending_send"
	ExecutionWaiting     ExecutionStatus = "waiting"
	ExecutionCompleted   ExecutionStatus = "completed"
	ExecutionSkipped     ExecutionStatus = "skipped"
	ExecutionFailed      ExecutionStatus = "failed"
)

// DispatchableStatuses are the statuses a job may claim for processing.
var DispatchableStatuses = []ExecutionStatus{ExecutionPending, ExecutionPendingSend}

// NormalizeExecutionStatus maps free-form values to canonical statuses.
func NormalizeExecutionStatus(value string) ExecutionStatus {
	switch s := ExecutionStatus(strings.ToLower(strings.TrimSpace(value))); s {
	case ExecutionPending, ExecutionProcessing, ExecutionPendingSend, ExecutionWaiting,
		ExecutionCompleted, ExecutionSkipped, ExecutionFailed:
		return s
	default:
		return ""
	}
}

func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionSkipped, ExecutionFailed:
		return true
	default:
		return false
	}
}

// IsDispatchable reports whether a job for an execution in this status
// should run a handler.
func (s ExecutionStatus) IsDispatchable() bool {
	return s == ExecutionPending || s == ExecutionPendingSend
}

// CanTransitionExecution enforces the engine state machine. Terminal
// statuses never move; processing may fall back to pending for a retry.
func CanTransitionExecution(current, next ExecutionStatus) bool {
	if current == "" || next == "" {
		return false
	}
	switch current {
	case ExecutionPending, ExecutionPendingSend:
		return next == ExecutionProcessing
	case ExecutionProcessing:
		switch next {
		case ExecutionPending, ExecutionPendingSend, ExecutionWaiting,
			ExecutionCompleted, ExecutionSkipped, ExecutionFailed:
			return true
		}
		return false
	default:
		return false
	}
}

// Execution is one row of sequence_executions.
type Execution struct {
	ID            string
	SequenceID    string
	MemberID      string
	StepIndex     int
	StepType      StepType
	EffectiveType StepType
	Status        ExecutionStatus
	RetryCount    int
	ErrorMessage  string
	Metadata      Metadata
	ExecutedAt    *time.Time
	CompletedAt   *time.Time
	UpdatedAt     time.Time
}
