package domain

import "strings"

// StepType names the behaviour of a sequence step.
type StepType string

const (
	StepEmail        StepType = "email"
	StepDelay        StepType = "delay"
	StepCall         StepType = "call"
	StepLinkedIn     StepType = "linkedin"
	StepRecon        StepType = "recon"
	StepTrigger      StepType = "trigger"
	StepTask         StepType = "task"
	StepManual       StepType = "manual"
	StepProtocolNode StepType = "protocol_node"
)

func NormalizeStepType(value string) StepType {
	return StepType(strings.ToLower(strings.TrimSpace(value)))
}

// IsProtocolNode reports whether the declared type defers its behaviour to
// the step metadata.
func (t StepType) IsProtocolNode() bool {
	return t == StepProtocolNode || t == "node"
}
