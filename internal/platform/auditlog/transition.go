package auditlog

import (
	"context"
	"errors"
	"strconv"

	"github.com/relaycrm/relay-go/internal/domain"
)

const transitionActor = "sequence-engine"

// TransitionRecorder writes one audit event per execution status change the
// engine makes.
type TransitionRecorder struct {
	q QueryRower
}

func NewTransitionRecorder(q QueryRower) *TransitionRecorder {
	if q == nil {
		return nil
	}
	return &TransitionRecorder{q: q}
}

func (r *TransitionRecorder) RecordTransition(ctx context.Context, t domain.Transition) error {
	if r == nil || r.q == nil {
		return errors.New("transition recorder not initialized")
	}
	payload := map[string]any{
		"sequence_id": t.SequenceID,
		"member_id":   t.MemberID,
		"job_id":      t.JobID,
		"step_type":   string(t.StepType),
		"from":        string(t.From),
		"to":          string(t.To),
		"retry_count": t.RetryCount,
	}
	if t.Error != "" {
		payload["error"] = t.Error
	}
	_, err := Insert(ctx, r.q, Event{
		OccurredAt:   t.At,
		Actor:        transitionActor,
		Action:       "execution." + string(t.To),
		ResourceType: "sequence_execution",
		ResourceID:   t.ExecutionID,
		RequestID:    "job-" + strconv.FormatInt(t.JobID, 10),
		Payload:      payload,
	})
	return err
}
