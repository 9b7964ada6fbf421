package engine

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/relaycrm/relay-go/internal/domain"
)

var threeDays = WaitWindow{Value: 3, Unit: UnitDays}

func TestResolveEffectiveType(t *testing.T) {
	cases := []struct {
		declared domain.StepType
		meta     domain.Metadata
		want     domain.StepType
	}{
		{"email", nil, domain.StepEmail},
		{" CALL ", domain.Metadata{"type": "email"}, domain.StepCall},
		{"protocol_node", domain.Metadata{"type": "Email"}, domain.StepEmail},
		{"node", domain.Metadata{"type": "linkedin"}, domain.StepLinkedIn},
		{"protocol_node", nil, domain.StepDelay},
		{"protocol_node", domain.Metadata{"type": "protocol_node"}, domain.StepDelay},
		{"protocol_node", domain.Metadata{"type": 4}, domain.StepDelay},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ResolveEffectiveType(tc.declared, tc.meta), "declared %q meta %v", tc.declared, tc.meta)
	}
}

func TestBuildPayloadRoutesByTypeAndBody(t *testing.T) {
	gen := BuildPayload(domain.StepEmail, domain.Metadata{"prompt": "p", "subject": "s", "body": "  "}, threeDays)
	assert.Equal(t, GenerationPayload{Prompt: "p", Subject: "s"}, gen)

	del := BuildPayload(domain.StepEmail, domain.Metadata{"subject": "s", "body": "<p>b</p>", "delay": 1, "delayUnit": "week"}, threeDays)
	assert.Equal(t, DeliveryPayload{Subject: "s", Body: "<p>b</p>", Wait: WaitWindow{Value: 1, Unit: UnitWeeks}}, del)

	passive := BuildPayload(domain.StepCall, domain.Metadata{"body": "<p>ignored</p>"}, threeDays)
	assert.Equal(t, PassivePayload{StepType: domain.StepCall}, passive)
}

func TestExecutionMetadataPrefersRow(t *testing.T) {
	job := domain.Job{Metadata: domain.Metadata{"subject": "from job", "prompt": "hint"}}
	exec := domain.Execution{Metadata: domain.Metadata{"subject": "from row"}}

	meta := executionMetadata(job, exec)

	assert.Equal(t, "from row", meta.String("subject"))
	assert.Equal(t, "hint", meta.String("prompt"))
	assert.Equal(t, "from job", job.Metadata.String("subject"))
}

func TestDeclaredTypeFallsBackToJob(t *testing.T) {
	assert.Equal(t, domain.StepCall, declaredType(domain.Job{StepType: domain.StepDelay}, domain.Execution{StepType: domain.StepCall}))
	assert.Equal(t, domain.StepDelay, declaredType(domain.Job{StepType: domain.StepDelay}, domain.Execution{}))
}

func TestParseDelayUnit(t *testing.T) {
	for in, want := range map[string]DelayUnit{
		"minutes": UnitMinutes, "Min": UnitMinutes,
		"h": UnitHours, " hours ": UnitHours,
		"day": UnitDays, "D": UnitDays,
		"weeks": UnitWeeks, "wk": UnitWeeks,
	} {
		got, ok := ParseDelayUnit(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := ParseDelayUnit("fortnights")
	assert.False(t, ok)
}

func TestWaitWindowFrom(t *testing.T) {
	cases := []struct {
		name string
		meta domain.Metadata
		want time.Duration
	}{
		{"defaults", nil, 72 * time.Hour},
		{"hours", domain.Metadata{"delay": 5, "delayUnit": "hours"}, 5 * time.Hour},
		{"numeric string", domain.Metadata{"delay": "2", "delayUnit": "days"}, 48 * time.Hour},
		{"interval fallback", domain.Metadata{"interval": 30, "delayUnit": "minutes"}, 30 * time.Minute},
		{"delay wins over interval", domain.Metadata{"delay": 1, "interval": 9, "delayUnit": "hours"}, time.Hour},
		{"unknown unit is days", domain.Metadata{"delay": 2, "delayUnit": "sprints"}, 48 * time.Hour},
		{"unit only", domain.Metadata{"delayUnit": "weeks"}, 3 * 7 * 24 * time.Hour},
		{"negative ignored", domain.Metadata{"delay": -1}, 72 * time.Hour},
		{"zero delay", domain.Metadata{"delay": 0}, 0},
		{"fractional", domain.Metadata{"delay": 1.5, "delayUnit": "hours"}, 90 * time.Minute},
		{"infinite delay", domain.Metadata{"delay": "Inf", "delayUnit": "weeks"}, 3 * 7 * 24 * time.Hour},
		{"overflowing delay", domain.Metadata{"delay": 1e9, "delayUnit": "weeks"}, 3 * 7 * 24 * time.Hour},
		{"overflowing delay falls to interval", domain.Metadata{"delay": 1e12, "interval": 2, "delayUnit": "days"}, 48 * time.Hour},
		{"nan delay", domain.Metadata{"delay": math.NaN()}, 72 * time.Hour},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, WaitWindowFrom(tc.meta, threeDays).Duration(), tc.name)
	}
}

func TestWaitWindowNeverEndsBeforeSend(t *testing.T) {
	sent := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, delay := range []any{1e9, "Inf", "1e300", 1 << 62} {
		w := WaitWindowFrom(domain.Metadata{"delay": delay, "delayUnit": "weeks"}, threeDays)
		assert.False(t, w.Until(sent).Before(sent), "delay %v", delay)
	}
}

func TestWaitWindowUntil(t *testing.T) {
	sent := time.Date(2025, 1, 31, 22, 0, 0, 0, time.UTC)
	got := WaitWindow{Value: 5, Unit: UnitHours}.Until(sent)
	assert.Equal(t, time.Date(2025, 2, 1, 3, 0, 0, 0, time.UTC), got)
}

func TestRenderPlaceholders(t *testing.T) {
	contact := domain.Contact{Email: "ada@example.com", FirstName: "Ada", LastName: "Lovelace", Company: "Engines Ltd"}

	assert.Equal(t,
		"Hi Ada Lovelace of Engines Ltd (ada@example.com), {{unknown}}",
		RenderPlaceholders("Hi {{ name }} of {{company}} ({{EMAIL}}), {{unknown}}", contact),
	)
	assert.Equal(t, "Hello Ada", RenderPlaceholders("Hello {{first_name}}", contact))
	assert.Equal(t, "Dear Lovelace", RenderPlaceholders("Dear {{last_name}}", contact))
	assert.Equal(t, "no placeholders", RenderPlaceholders("no placeholders", contact))
	assert.Equal(t, "Hi ", RenderPlaceholders("Hi {{first_name}}", domain.Contact{}))
}
