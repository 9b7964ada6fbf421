package engine

import (
	"errors"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycrm/relay-go/internal/domain"
	"github.com/relaycrm/relay-go/internal/failure"
)

func fieldErrors(t *testing.T, err error) map[string]string {
	t.Helper()
	var ge *goerrors.Error
	require.True(t, errors.As(err, &ge), "expected a categorized error, got %v", err)
	out := map[string]string{}
	for _, fe := range ge.ValidationErrors {
		out[fe.Field] = fe.Message
	}
	return out
}

func TestParseBatchAcceptsValidJobs(t *testing.T) {
	raw := []byte(`[
		{"jobId": 1, "execution_id": "e1", "sequence_id": "s1", "member_id": "m1", "step_type": " Email ", "metadata": {"subject": "Hi"}},
		{"jobId": 2, "execution_id": "e2", "sequence_id": "s1", "member_id": "m2", "step_type": "delay", "metadata": null}
	]`)

	jobs, err := ParseBatch(raw)

	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, int64(1), jobs[0].ID)
	assert.Equal(t, domain.StepEmail, jobs[0].StepType)
	assert.Equal(t, "Hi", jobs[0].Metadata.String("subject"))
	assert.Equal(t, "m2", jobs[1].MemberID)
	assert.Nil(t, jobs[1].Metadata)
}

func TestParseBatchEmptyArray(t *testing.T) {
	jobs, err := ParseBatch([]byte(`[]`))
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestParseBatchRejectsNonArray(t *testing.T) {
	for _, raw := range []string{``, `{}`, `"jobs"`, `null`} {
		_, err := ParseBatch([]byte(raw))
		require.Error(t, err, "body %q", raw)
		assert.True(t, failure.Is(err, failure.KindValidation))
		assert.Contains(t, fieldErrors(t, err), "body")
	}
}

func TestParseBatchRejectsMalformedJSON(t *testing.T) {
	_, err := ParseBatch([]byte(`[{"jobId": 1,`))
	require.Error(t, err)
	assert.Contains(t, fieldErrors(t, err)["body"], "malformed JSON")
}

func TestParseBatchReportsEveryOffendingField(t *testing.T) {
	raw := []byte(`[
		{"jobId": 1, "execution_id": "e1", "sequence_id": "s1", "member_id": "m1", "step_type": "email"},
		{"jobId": "2", "execution_id": 5, "sequence_id": "  ", "step_type": "email", "metadata": []},
		{"execution_id": "e3", "sequence_id": "s1", "member_id": "m3", "step_type": "delay"},
		7
	]`)

	jobs, err := ParseBatch(raw)

	require.Error(t, err)
	assert.Nil(t, jobs)
	assert.Equal(t, map[string]string{
		"jobs[1].jobId":        "must be an integer",
		"jobs[1].execution_id": "must be a string",
		"jobs[1].sequence_id":  "must not be empty",
		"jobs[1].member_id":    "is required",
		"jobs[1].metadata":     "must be an object",
		"jobs[2].jobId":        "is required",
		"jobs[3]":              "must be an object",
	}, fieldErrors(t, err))
}

func TestParseBatchRejectsFractionalJobID(t *testing.T) {
	_, err := ParseBatch([]byte(`[{"jobId": 1.5, "execution_id": "e", "sequence_id": "s", "member_id": "m", "step_type": "delay"}]`))
	require.Error(t, err)
	assert.Equal(t, "must be an integer", fieldErrors(t, err)["jobs[0].jobId"])
}

func TestParseMessageUsesQueueID(t *testing.T) {
	job, err := ParseMessage([]byte(`{"jobId": 3, "execution_id": "e1", "sequence_id": "s1", "member_id": "m1", "step_type": "call"}`), 42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), job.ID)
	assert.Equal(t, domain.StepCall, job.StepType)

	job, err = ParseMessage([]byte(`{"execution_id": "e1", "sequence_id": "s1", "member_id": "m1", "step_type": "call"}`), 43)
	require.NoError(t, err)
	assert.Equal(t, int64(43), job.ID)
}

func TestParseMessageRejectsPoison(t *testing.T) {
	_, err := ParseMessage([]byte(`{"execution_id": "e1"}`), 1)
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.KindValidation))
	fields := fieldErrors(t, err)
	assert.Equal(t, "is required", fields["message.member_id"])

	_, err = ParseMessage([]byte(`not json`), 1)
	require.Error(t, err)
	assert.Contains(t, fieldErrors(t, err), "message")
}
