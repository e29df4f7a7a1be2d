package evaluator

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/moolen/sleuth/internal/investigation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0    = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	truth = GroundTruth{
		RootCause:         "Deploy v2.4.0 introduced a null pointer in PaymentService",
		CorrectMitigation: "Roll back to v2.3.0",
		KeyEvidence: []string{
			"NullPointerException in PaymentService",
			"deploy v2.4.0 at 09:55",
		},
	}
	criteria = SuccessCriteria{
		MustIdentify:          []string{"PaymentService null pointer", "deploy v2.4.0"},
		AcceptableMitigations: []string{"restart payment pods"},
		MaxSteps:              10,
	}
)

type runBuilder struct {
	run investigation.Run
	n   int
}

func newRun(maxSteps int) *runBuilder {
	inc, err := investigation.NewIncident("inc-1", "checkout-api", "5xx spike", investigation.SeverityHigh, nil, t0)
	if err != nil {
		panic(err)
	}
	return &runBuilder{run: investigation.NewRun("run-1", inc, maxSteps, investigation.WithClock(func() time.Time { return t0 }))}
}

func (b *runBuilder) observe(summary string, significant bool) *runBuilder {
	b.n++
	id := fmt.Sprintf("obs-%d", b.n)
	b.run = b.run.
		AddObservation(investigation.NewObservation(id, "fetch_logs", summary, nil, significant, nil, t0)).
		AddStep(investigation.NewStep(fmt.Sprintf("step-%d", b.n), "run-1", b.n, "look", t0).Complete(t0))
	return b
}

func (b *runBuilder) steps(n int) *runBuilder {
	for i := 0; i < n; i++ {
		b.observe("nothing interesting", false)
	}
	return b
}

func (b *runBuilder) propose(mitigation string) investigation.Run {
	b.n++
	return b.run.
		AddStep(investigation.NewStep(fmt.Sprintf("step-%d", b.n), "run-1", b.n, "fix", t0).Complete(t0)).
		WithResolution(investigation.MitigationProposed(mitigation, 0.9))
}

func (b *runBuilder) escalate() investigation.Run {
	b.n++
	return b.run.
		AddStep(investigation.NewStep(fmt.Sprintf("step-%d", b.n), "run-1", b.n, "give up", t0).Complete(t0)).
		WithResolution(investigation.Escalated("unclear", "sre")).
		WithStatus(investigation.RunEscalated)
}

func TestEvaluate_CorrectMitigationScoresOne(t *testing.T) {
	run := newRun(10).
		observe("NullPointerException thrown by PaymentService since 09:55", true).
		observe("deploy v2.4.0 rolled out at 09:55", true).
		propose("Roll back to v2.3.0")

	res := Default().Evaluate(run, truth, criteria)

	assert.Equal(t, 1.0, res.Breakdown.Mitigation)
	assert.Equal(t, 1.0, res.Breakdown.Evidence)
	assert.InDelta(t, 0.8, res.Breakdown.Efficiency, 1e-9)
	assert.InDelta(t, 0.5+0.3+0.2*0.8, res.Score, 1e-9)
	assert.True(t, res.Success)
	assert.True(t, res.RootCauseIdentified)
	assert.Empty(t, res.Unidentified)
}

func TestEvaluate_AcceptableMitigationScoresPartially(t *testing.T) {
	run := newRun(10).
		observe("NullPointerException in PaymentService", true).
		propose("Restart payment pods in prod")

	res := Default().Evaluate(run, truth, criteria)

	assert.Greater(t, res.Breakdown.Mitigation, 0.0)
	assert.Less(t, res.Breakdown.Mitigation, 1.0)
	assert.Equal(t, 0.5, res.Breakdown.Mitigation)
}

func TestEvaluate_WrongMitigationScoresZero(t *testing.T) {
	run := newRun(10).propose("Scale the database")

	res := Default().Evaluate(run, truth, criteria)
	assert.Equal(t, 0.0, res.Breakdown.Mitigation)
	assert.False(t, res.Success)
}

func TestEvaluate_NoSignificantObservations(t *testing.T) {
	run := newRun(10).
		observe("NullPointerException in PaymentService", false).
		propose("Roll back to v2.3.0")

	res := Default().Evaluate(run, truth, criteria)
	assert.Equal(t, 0.0, res.Breakdown.Evidence)
	assert.False(t, res.RootCauseIdentified)
	assert.Equal(t, criteria.MustIdentify, res.Unidentified)
}

func TestEvaluate_EscalatedAndFailedNeverSucceed(t *testing.T) {
	escalated := newRun(10).
		observe("NullPointerException in PaymentService", true).
		observe("deploy v2.4.0 at 09:55", true).
		escalate()

	res := Default().Evaluate(escalated, truth, criteria)
	assert.False(t, res.Success)
	assert.Equal(t, 0.0, res.Breakdown.Mitigation)
	assert.Equal(t, 1.0, res.Breakdown.Evidence)

	b := newRun(3).steps(3)
	failed := b.run.WithResolution(investigation.StepLimitReached(3)).WithStatus(investigation.RunFailed)
	res = Default().Evaluate(failed, truth, SuccessCriteria{})
	assert.False(t, res.Success)
	assert.Equal(t, 0.0, res.Breakdown.Mitigation)
}

func TestEvaluate_EfficiencyMonotonic(t *testing.T) {
	short := newRun(20).steps(2).propose("Roll back to v2.3.0")
	long := newRun(20).steps(8).propose("Roll back to v2.3.0")
	require.Equal(t, 3, short.StepCount())
	require.Equal(t, 9, long.StepCount())

	ev := Default()
	a := ev.Evaluate(short, truth, criteria)
	b := ev.Evaluate(long, truth, criteria)

	assert.Greater(t, a.Breakdown.Efficiency, b.Breakdown.Efficiency)
	assert.InDelta(t, 0.8, a.Breakdown.Efficiency, 1e-9)
	assert.InDelta(t, 0.2, b.Breakdown.Efficiency, 1e-9)
	assert.GreaterOrEqual(t, a.Score, b.Score)
}

func TestEfficiencyScore(t *testing.T) {
	tests := []struct {
		steps, max int
		want       float64
	}{
		{0, 10, 1},
		{1, 10, 1},
		{11, 10, 0},
		{30, 10, 0},
		{5, 0, 0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, efficiencyScore(tt.steps, tt.max), 1e-9, "steps=%d max=%d", tt.steps, tt.max)
	}
}

func TestEvaluate_EfficiencyFallsBackToRunLimit(t *testing.T) {
	run := newRun(5).steps(2).propose("Roll back to v2.3.0")

	res := Default().Evaluate(run, truth, SuccessCriteria{})
	assert.InDelta(t, 1-2.0/5.0, res.Breakdown.Efficiency, 1e-9)
}

func TestMitigationMatches(t *testing.T) {
	tests := []struct {
		proposed, expected string
		want               bool
	}{
		{"Roll back to v2.3.0", "Roll back to v2.3.0", true},
		{"roll back to V2.3.0 immediately", "Roll back to v2.3.0", true},
		{"Rollback to v2.3.0", "Roll back to v2.3.0", true},
		{"Roll checkout back to release v2.3.0", "Roll back to v2.3.0", true},
		{"restart the payment pods", "Restart payment pods", true},
		{"Roll back to v2.4.0", "Roll back to v2.3.0", false},
		{"Roll back", "Roll back to v2.3.0", false},
		{"back", "Roll back to v2.3.0", false},
		{"a", "Roll back to v2.3.0", false},
		{"o", "Roll back to v2.3.0", false},
		{"rollback", "Perform a rollback", false},
		{"Scale database replicas", "Roll back to v2.3.0", false},
		{"", "Roll back to v2.3.0", false},
		{"anything", "", false},
		{"go: fix it", "fix it", true},
		{"fix", "fix it", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, mitigationMatches(tt.proposed, tt.expected), "%q vs %q", tt.proposed, tt.expected)
	}
}

func TestEvaluate_PartialMitigationGetsNoCredit(t *testing.T) {
	for _, proposal := range []string{"Roll back to v2.4.0", "back", "a", "o"} {
		run := newRun(10).
			observe("NullPointerException thrown by PaymentService since 09:55", true).
			propose(proposal)

		res := Default().Evaluate(run, truth, criteria)
		assert.Zero(t, res.Breakdown.Mitigation, proposal)
		assert.False(t, res.Success, proposal)
	}
}

func TestEvidenceMatches(t *testing.T) {
	assert.True(t, evidenceMatches("NullPointerException in PaymentService", "PaymentService threw a NullPointerException"))
	assert.True(t, evidenceMatches("NullPointerException in PaymentService", "java.lang.NullPointerException at PaymentService.charge"))
	assert.False(t, evidenceMatches("NullPointerException in PaymentService", "saw a nullpointerexception"))
	assert.False(t, evidenceMatches("NullPointerException in PaymentService", "PaymentService is healthy; no deploy happened"))
	assert.True(t, evidenceMatches("deploy v2.4.0 at 09:55", "deploy v2.4.0 of payment-service at 09:55"))
	assert.False(t, evidenceMatches("deploy v2.4.0 at 09:55", "PaymentService is healthy; no deploy happened"))
	assert.False(t, evidenceMatches("deploy v2.4.0 at 09:55", "deploy v2.3.0 at 09:55"))
	assert.False(t, evidenceMatches("connection pool exhausted errors", "pool looks fine"))
	assert.True(t, evidenceMatches("OOM", "pod killed: OOM"))
	assert.False(t, evidenceMatches("OOM", "zoom call dropped"))
	assert.False(t, evidenceMatches("OOM", "all good"))
	assert.False(t, evidenceMatches("", "anything"))
}

func TestEvaluate_ContradictingObservationEarnsNoEvidence(t *testing.T) {
	run := newRun(10).
		observe("PaymentService is healthy; no deploy happened", true).
		propose("Roll back to v2.3.0")

	res := Default().Evaluate(run, truth, criteria)
	assert.Less(t, res.Breakdown.Evidence, 1.0)
	assert.Zero(t, res.Breakdown.Evidence)
	assert.False(t, res.RootCauseIdentified)
}

func TestSignificantWords(t *testing.T) {
	assert.Equal(t, []string{"roll", "back", "v2.3.0"}, significantWords("Roll back to v2.3.0."))
	assert.Equal(t, []string{"memory"}, significantWords("the memory, the MEMORY"))
	assert.Equal(t, []string{"java", "lang", "nullpointerexception", "09", "55"}, significantWords("java.lang.NullPointerException at 09:55"))
	assert.Empty(t, significantWords("a an to of"))
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	bad := []Config{
		{Weights: Weights{Mitigation: 0.5, Evidence: 0.5, Efficiency: 0.5}, SuccessThreshold: 0.5, AcceptableMitigationScore: 0.5},
		{Weights: Weights{Mitigation: 1.2, Evidence: -0.2, Efficiency: 0}, SuccessThreshold: 0.5, AcceptableMitigationScore: 0.5},
		{Weights: DefaultWeights(), SuccessThreshold: 1, AcceptableMitigationScore: 0.5},
		{Weights: DefaultWeights(), SuccessThreshold: 0.5, AcceptableMitigationScore: 1},
		{Weights: DefaultWeights(), SuccessThreshold: 0.5, AcceptableMitigationScore: 0},
	}
	for i, cfg := range bad {
		err := cfg.Validate()
		require.Error(t, err, "case %d", i)
		assert.True(t, errors.Is(err, ErrInvalidConfig))

		_, err = New(cfg)
		assert.Error(t, err)
	}
}

func TestEvaluate_CustomWeights(t *testing.T) {
	ev, err := New(Config{
		Weights:                   Weights{Mitigation: 1},
		SuccessThreshold:          0.9,
		AcceptableMitigationScore: 0.5,
	})
	require.NoError(t, err)

	run := newRun(10).steps(9).propose("restart payment pods")
	res := ev.Evaluate(run, truth, criteria)
	assert.Equal(t, 0.5, res.Score)
	assert.False(t, res.Success)
}
