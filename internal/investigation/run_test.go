package investigation

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.now = c.now.Add(time.Second)
	return c.now
}

func testIncident(t *testing.T) Incident {
	t.Helper()
	inc, err := NewIncident("inc-1", "checkout-api", "5xx rate above 20%", SeverityHigh,
		map[string]string{"env": "prod"}, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return inc
}

func newTestRun(t *testing.T, maxSteps int) (Run, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)}
	return NewRun("run-1", testIncident(t), maxSteps, WithClock(clock.Now)), clock
}

func completedStep(runID string, n int) Step {
	created := time.Date(2024, 1, 1, 10, 0, n, 0, time.UTC)
	return NewStep("step-"+string(rune('0'+n)), runID, n, "check logs", created).Complete(created.Add(time.Second))
}

func TestNewRun_Defaults(t *testing.T) {
	run, _ := newTestRun(t, 0)

	assert.Equal(t, "run-1", run.ID())
	assert.Equal(t, RunStarted, run.Status())
	assert.Equal(t, DefaultMaxSteps, run.MaxSteps())
	assert.Equal(t, 0, run.StepCount())
	assert.Nil(t, run.Hypothesis())
	assert.Nil(t, run.Resolution())
	assert.True(t, run.CanContinue())

	_, ok := run.Duration()
	assert.False(t, ok)
}

func TestNormalizeMaxSteps(t *testing.T) {
	assert.Equal(t, DefaultMaxSteps, NormalizeMaxSteps(-3))
	assert.Equal(t, 7, NormalizeMaxSteps(7))
	assert.Equal(t, 500, NormalizeMaxSteps(500))
}

func TestNormalizeDefaultMaxSteps(t *testing.T) {
	assert.Equal(t, DefaultMaxSteps, NormalizeDefaultMaxSteps(0))
	assert.Equal(t, 30, NormalizeDefaultMaxSteps(30))
	assert.Equal(t, MaxStepsLimit, NormalizeDefaultMaxSteps(500))
}

func TestNewRun_KeepsExplicitLimitAboveCap(t *testing.T) {
	run, _ := newTestRun(t, 100)
	assert.Equal(t, 100, run.MaxSteps())
}

func TestRun_AddStepTransitionsToRunning(t *testing.T) {
	run, _ := newTestRun(t, 5)

	next := run.AddStep(completedStep(run.ID(), 1))

	assert.Equal(t, RunStarted, run.Status(), "original must not change")
	assert.Equal(t, 0, run.StepCount())
	assert.Equal(t, RunRunning, next.Status())
	assert.Equal(t, 1, next.StepCount())
	assert.Len(t, next.Steps(), next.StepCount())
}

func TestRun_AddStepDoesNotAliasSiblings(t *testing.T) {
	run, _ := newTestRun(t, 5)
	base := run.AddStep(completedStep(run.ID(), 1))

	a := base.AddStep(completedStep(run.ID(), 2))
	b := base.AddStep(completedStep(run.ID(), 3))

	require.Equal(t, 2, a.StepCount())
	require.Equal(t, 2, b.StepCount())
	assert.Equal(t, 2, a.Steps()[1].Number)
	assert.Equal(t, 3, b.Steps()[1].Number)
}

func TestRun_AddStepOnTerminalPanics(t *testing.T) {
	run, _ := newTestRun(t, 5)
	done := run.AddStep(completedStep(run.ID(), 1)).WithResolution(MitigationProposed("restart", 0.9))

	assert.Panics(t, func() {
		done.AddStep(completedStep(run.ID(), 2))
	})
}

func TestRun_StepLimit(t *testing.T) {
	run, _ := newTestRun(t, 2)
	run = run.AddStep(completedStep(run.ID(), 1))
	assert.False(t, run.StepLimitReached())
	assert.True(t, run.CanContinue())

	run = run.AddStep(completedStep(run.ID(), 2))
	assert.True(t, run.StepLimitReached())
	assert.False(t, run.CanContinue())
}

func TestRun_CanContinueFalseForTerminalAndPaused(t *testing.T) {
	run, _ := newTestRun(t, 5)
	running := run.AddStep(completedStep(run.ID(), 1))

	for _, status := range []RunStatus{RunCompleted, RunFailed, RunEscalated, RunPaused} {
		assert.False(t, running.WithStatus(status).CanContinue(), "status %s", status)
	}
	assert.True(t, running.CanContinue())
}

func TestRun_WithStatusStampsCompletionOnce(t *testing.T) {
	run, _ := newTestRun(t, 5)
	run = run.AddStep(completedStep(run.ID(), 1))

	failed := run.WithStatus(RunFailed)
	first, ok := failed.CompletedAt()
	require.True(t, ok)

	escalated := failed.WithStatus(RunEscalated)
	second, ok := escalated.CompletedAt()
	require.True(t, ok)
	assert.Equal(t, first, second)

	d, ok := escalated.Duration()
	require.True(t, ok)
	assert.Equal(t, first.Sub(run.StartedAt()), d)

	secs, ok := escalated.DurationSeconds()
	require.True(t, ok)
	assert.Equal(t, d.Seconds(), secs)
}

func TestRun_WithResolutionForcesCompleted(t *testing.T) {
	run, _ := newTestRun(t, 5)
	run = run.AddStep(completedStep(run.ID(), 1))

	resolved := run.WithResolution(Escalated("needs DBA", "dba-oncall"))
	assert.Equal(t, RunCompleted, resolved.Status())

	escalated := resolved.WithStatus(RunEscalated)
	assert.Equal(t, RunEscalated, escalated.Status())
	require.NotNil(t, escalated.Resolution())
	assert.Equal(t, ResolutionEscalated, escalated.Resolution().Type)
	assert.Equal(t, "dba-oncall", escalated.Resolution().EscalationTarget)
	assert.Nil(t, run.Resolution())
}

func TestRun_SignificantObservationsPreservesOrder(t *testing.T) {
	run, _ := newTestRun(t, 5)
	at := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	run = run.
		AddObservation(NewObservation("o1", "logs", "error spike", nil, true, nil, at)).
		AddObservation(NewObservation("o2", "metrics", "cpu normal", nil, false, nil, at)).
		AddObservation(NewObservation("o3", "deploys", "v2.4.0 at 09:55", nil, true, nil, at))

	sig := run.SignificantObservations()
	require.Len(t, sig, 2)
	assert.Equal(t, "o1", sig[0].ID)
	assert.Equal(t, "o3", sig[1].ID)

	obs, ok := run.ObservationByID("o2")
	require.True(t, ok)
	assert.Equal(t, "cpu normal", obs.Summary)
}

func TestRun_WithHypothesisReplaces(t *testing.T) {
	run, _ := newTestRun(t, 5)
	h1, err := NewHypothesis("h1", "bad deploy", 0.4)
	require.NoError(t, err)
	h2, err := h1.WithConfidence(0.8)
	require.NoError(t, err)

	first := run.WithHypothesis(h1)
	second := first.WithHypothesis(h2)

	assert.Nil(t, run.Hypothesis())
	assert.Equal(t, 0.4, first.Hypothesis().Confidence())
	assert.Equal(t, 0.8, second.Hypothesis().Confidence())
}

func TestRun_PauseResume(t *testing.T) {
	run, _ := newTestRun(t, 5)

	_, err := run.Pause()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	running := run.AddStep(completedStep(run.ID(), 1))
	paused, err := running.Pause()
	require.NoError(t, err)
	assert.Equal(t, RunPaused, paused.Status())
	assert.False(t, paused.CanContinue())
	_, ok := paused.CompletedAt()
	assert.False(t, ok)

	resumed, err := paused.Resume()
	require.NoError(t, err)
	assert.Equal(t, RunRunning, resumed.Status())
	assert.True(t, resumed.CanContinue())

	_, err = resumed.Resume()
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestCannotContinueError(t *testing.T) {
	run, _ := newTestRun(t, 1)
	run = run.AddStep(completedStep(run.ID(), 1))

	err := CannotContinueError(run)
	assert.True(t, errors.Is(err, ErrCannotContinue))
	assert.Contains(t, err.Error(), "step limit reached (1/1)")

	var wfErr *WorkflowError
	require.True(t, errors.As(error(err), &wfErr))
	assert.Equal(t, "run-1", wfErr.RunID)
}

func TestRun_Snapshot(t *testing.T) {
	run, _ := newTestRun(t, 3)
	run = run.AddStep(completedStep(run.ID(), 1)).WithResolution(MitigationProposed("roll back", 0.9))

	snap := run.Snapshot()
	assert.Equal(t, run.ID(), snap.ID)
	assert.Equal(t, RunCompleted, snap.Status)
	assert.Equal(t, 1, snap.StepCount)
	require.NotNil(t, snap.CompletedAt)
	require.NotNil(t, snap.Resolution)
	assert.Equal(t, "roll back", snap.Resolution.Description)
}

func TestStepLimitReachedResolution(t *testing.T) {
	res := StepLimitReached(3)
	assert.Equal(t, ResolutionStepLimitReached, res.Type)
	assert.Contains(t, res.Reason, "3")
}
