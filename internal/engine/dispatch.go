package engine

import (
	"github.com/relaycrm/relay-go/internal/domain"
)

// ResolveEffectiveType returns the type a step is dispatched on. Protocol
// nodes carry their real type in metadata.type and default to delay.
func ResolveEffectiveType(declared domain.StepType, meta domain.Metadata) domain.StepType {
	declared = domain.NormalizeStepType(string(declared))
	if !declared.IsProtocolNode() {
		return declared
	}
	if t := domain.NormalizeStepType(meta.String("type")); t != "" && !t.IsProtocolNode() {
		return t
	}
	return domain.StepDelay
}

// Payload is the typed input of exactly one handler. It is built once from
// the execution metadata; handlers never read the raw bag.
type Payload interface {
	handler() string
}

type GenerationPayload struct {
	Prompt  string
	Subject string
}

type DeliveryPayload struct {
	Subject string
	Body    string
	Wait    WaitWindow
}

type PassivePayload struct {
	StepType domain.StepType
}

func (GenerationPayload) handler() string { return "generation" }
func (DeliveryPayload) handler() string   { return "delivery" }
func (PassivePayload) handler() string    { return "passive" }

// BuildPayload routes an execution: email with a body is delivered, email
// without one is generated first, everything else is passive.
func BuildPayload(effective domain.StepType, meta domain.Metadata, defaults WaitWindow) Payload {
	if effective != domain.StepEmail {
		return PassivePayload{StepType: effective}
	}
	body := meta.String("body")
	if body == "" {
		return GenerationPayload{
			Prompt:  meta.String("prompt"),
			Subject: meta.String("subject"),
		}
	}
	return DeliveryPayload{
		Subject: meta.String("subject"),
		Body:    body,
		Wait:    WaitWindowFrom(meta, defaults),
	}
}

// executionMetadata overlays the stored row metadata on the job hint; the
// row wins on conflicts.
func executionMetadata(job domain.Job, exec domain.Execution) domain.Metadata {
	return job.Metadata.Merge(exec.Metadata)
}

func declaredType(job domain.Job, exec domain.Execution) domain.StepType {
	if exec.StepType != "" {
		return exec.StepType
	}
	return job.StepType
}
