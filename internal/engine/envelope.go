package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	goerrors "github.com/goliatone/go-errors"

	"github.com/relaycrm/relay-go/internal/domain"
	"github.com/relaycrm/relay-go/internal/failure"
)

var envelopeStringFields = []string{"execution_id", "sequence_id", "member_id", "step_type"}

// ParseBatch validates a whole batch before anything runs. A single bad
// envelope rejects the batch; the returned validation error lists every
// offending field as jobs[i].field.
func ParseBatch(raw []byte) ([]domain.Job, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, failure.Validation("invalid batch", goerrors.FieldError{
			Field:   "body",
			Message: "must be a JSON array of jobs",
		})
	}
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, failure.Validation("invalid batch", goerrors.FieldError{
			Field:   "body",
			Message: "malformed JSON: " + err.Error(),
		})
	}

	jobs := make([]domain.Job, 0, len(items))
	var problems []goerrors.FieldError
	for i, item := range items {
		job, fieldErrs := parseEnvelope(item, fmt.Sprintf("jobs[%d]", i), true)
		if len(fieldErrs) > 0 {
			problems = append(problems, fieldErrs...)
			continue
		}
		jobs = append(jobs, job)
	}
	if len(problems) > 0 {
		return nil, failure.Validation("invalid batch", problems...)
	}
	return jobs, nil
}

// ParseMessage validates one queue message body. The queue assigns the job
// id, so a jobId inside the body is optional and overridden.
func ParseMessage(raw []byte, id int64) (domain.Job, error) {
	job, problems := parseEnvelope(raw, "message", false)
	if len(problems) > 0 {
		return domain.Job{}, failure.Validation("invalid message", problems...)
	}
	job.ID = id
	return job, nil
}

func parseEnvelope(raw json.RawMessage, path string, requireID bool) (domain.Job, []goerrors.FieldError) {
	field := func(name, msg string) goerrors.FieldError {
		return goerrors.FieldError{Field: path + "." + name, Message: msg}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return domain.Job{}, []goerrors.FieldError{{Field: path, Message: "must be an object"}}
	}

	var job domain.Job
	var problems []goerrors.FieldError

	if rawID, ok := fields["jobId"]; ok && !isNull(rawID) {
		id, err := parseInteger(rawID)
		if err != nil {
			problems = append(problems, field("jobId", "must be an integer"))
		}
		job.ID = id
	} else if requireID {
		problems = append(problems, field("jobId", "is required"))
	}

	values := make(map[string]string, len(envelopeStringFields))
	for _, name := range envelopeStringFields {
		rawValue, ok := fields[name]
		if !ok || isNull(rawValue) {
			problems = append(problems, field(name, "is required"))
			continue
		}
		var s string
		if err := json.Unmarshal(rawValue, &s); err != nil {
			problems = append(problems, field(name, "must be a string"))
			continue
		}
		if strings.TrimSpace(s) == "" {
			problems = append(problems, field(name, "must not be empty"))
			continue
		}
		values[name] = strings.TrimSpace(s)
	}
	job.ExecutionID = values["execution_id"]
	job.SequenceID = values["sequence_id"]
	job.MemberID = values["member_id"]
	job.StepType = domain.NormalizeStepType(values["step_type"])

	if rawMeta, ok := fields["metadata"]; ok && !isNull(rawMeta) {
		var meta map[string]any
		if err := json.Unmarshal(rawMeta, &meta); err != nil {
			problems = append(problems, field("metadata", "must be an object"))
		} else {
			job.Metadata = domain.Metadata(meta)
		}
	}

	return job, problems
}

func parseInteger(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] == '"' {
		return 0, fmt.Errorf("not a number")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var n json.Number
	if err := dec.Decode(&n); err != nil {
		return 0, err
	}
	return n.Int64()
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}
