package domain

import "time"

// Transition describes an execution leaving processing for its next status.
type Transition struct {
	ExecutionID string
	SequenceID  string
	MemberID    string
	JobID       int64
	StepType    StepType
	From        ExecutionStatus
	To          ExecutionStatus
	RetryCount  int
	Error       string
	At          time.Time
}
