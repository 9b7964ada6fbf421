package domain

// Job is one queue message referring to an execution. The identity fields
// are a snapshot taken at enqueue time.
type Job struct {
	ID          int64    `json:"jobId"`
	ExecutionID string   `json:"execution_id"`
	SequenceID  string   `json:"sequence_id"`
	MemberID    string   `json:"member_id"`
	StepType    StepType `json:"step_type"`
	Metadata    Metadata `json:"metadata,omitempty"`
}
