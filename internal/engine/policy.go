package engine

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/relaycrm/relay-go/internal/domain"
)

const StepPolicySchema = "relay.steps.v1"

// StepPolicy decides how passive step types finish: completed after the
// member is advanced, or skipped with a note for steps a person still has
// to do.
type StepPolicy struct {
	Schema      string                     `yaml:"schema"`
	Complete    []domain.StepType          `yaml:"complete"`
	Skip        map[domain.StepType]string `yaml:"skip"`
	UnknownNote string                     `yaml:"unknown_note"`
}

func DefaultStepPolicy() StepPolicy {
	return StepPolicy{
		Schema:   StepPolicySchema,
		Complete: []domain.StepType{domain.StepDelay, domain.StepTrigger, domain.StepRecon},
		Skip: map[domain.StepType]string{
			domain.StepCall:     "call steps are not automated yet",
			domain.StepLinkedIn: "linkedin steps are not automated yet",
			domain.StepTask:     "task steps are completed by the sequence owner",
			domain.StepManual:   "manual steps are completed by the sequence owner",
		},
		UnknownNote: "step type is not automated",
	}
}

func LoadStepPolicy(path string) (StepPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return StepPolicy{}, fmt.Errorf("read step policy: %w", err)
	}
	return ParseStepPolicy(data)
}

func ParseStepPolicy(data []byte) (StepPolicy, error) {
	var p StepPolicy
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return StepPolicy{}, fmt.Errorf("decode step policy: %w", err)
	}
	p = p.normalized()
	if err := p.Validate(); err != nil {
		return StepPolicy{}, err
	}
	return p, nil
}

func (p StepPolicy) normalized() StepPolicy {
	out := StepPolicy{
		Schema:      strings.TrimSpace(p.Schema),
		Skip:        make(map[domain.StepType]string, len(p.Skip)),
		UnknownNote: strings.TrimSpace(p.UnknownNote),
	}
	for _, t := range p.Complete {
		out.Complete = append(out.Complete, domain.NormalizeStepType(string(t)))
	}
	for t, note := range p.Skip {
		out.Skip[domain.NormalizeStepType(string(t))] = strings.TrimSpace(note)
	}
	if out.UnknownNote == "" {
		out.UnknownNote = DefaultStepPolicy().UnknownNote
	}
	return out
}

func (p StepPolicy) Validate() error {
	if p.Schema != StepPolicySchema {
		return fmt.Errorf("step policy schema must be %q (got %q)", StepPolicySchema, p.Schema)
	}
	seen := make(map[domain.StepType]struct{}, len(p.Complete))
	for _, t := range p.Complete {
		if err := checkPassiveType(t); err != nil {
			return err
		}
		seen[t] = struct{}{}
	}
	for t, note := range p.Skip {
		if err := checkPassiveType(t); err != nil {
			return err
		}
		if _, dup := seen[t]; dup {
			return fmt.Errorf("step type %q is listed as both complete and skip", t)
		}
		if note == "" {
			return fmt.Errorf("skip note for step type %q is required", t)
		}
	}
	return nil
}

func checkPassiveType(t domain.StepType) error {
	switch {
	case t == "":
		return errors.New("step policy contains an empty step type")
	case t == domain.StepEmail:
		return errors.New("email steps are always dispatched to generation or delivery")
	case t.IsProtocolNode():
		return fmt.Errorf("%q is resolved before the policy applies", t)
	}
	return nil
}

// PassiveOutcome is how a passive step ends once the member has advanced.
type PassiveOutcome struct {
	Status domain.ExecutionStatus
	Note   string
}

func (p StepPolicy) Decide(t domain.StepType) PassiveOutcome {
	for _, c := range p.Complete {
		if c == t {
			return PassiveOutcome{Status: domain.ExecutionCompleted}
		}
	}
	if note, ok := p.Skip[t]; ok {
		return PassiveOutcome{Status: domain.ExecutionSkipped, Note: note}
	}
	return PassiveOutcome{Status: domain.ExecutionSkipped, Note: fmt.Sprintf("%s: %s", p.UnknownNote, t)}
}
