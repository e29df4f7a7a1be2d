package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/moolen/sleuth/internal/audit"
	"github.com/moolen/sleuth/internal/investigation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedAgent returns decisions by step number; the last one repeats.
type scriptedAgent struct {
	mu        sync.Mutex
	decisions []Decision
	analyze   func(result investigation.ToolResult, h *investigation.Hypothesis) (Analysis, error)
	decideErr map[int]error
	seenSteps []int
	seenObs   []int
}

func (a *scriptedAgent) DecideNextAction(_ context.Context, _ investigation.Incident, observations []investigation.Observation, _ *investigation.Hypothesis, step int) (Decision, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seenSteps = append(a.seenSteps, step)
	a.seenObs = append(a.seenObs, len(observations))
	if err := a.decideErr[step]; err != nil {
		return nil, err
	}
	i := step - 1
	if i >= len(a.decisions) {
		i = len(a.decisions) - 1
	}
	return a.decisions[i], nil
}

func (a *scriptedAgent) AnalyzeResult(_ context.Context, result investigation.ToolResult, _ investigation.Incident, h *investigation.Hypothesis) (Analysis, error) {
	if a.analyze != nil {
		return a.analyze(result, h)
	}
	return Analysis{Observation: "looked at " + result.ToolName, Significant: result.Success}, nil
}

type fakeTools struct {
	mu      sync.Mutex
	results map[string]investigation.ToolResult
	calls   []string
}

func (f *fakeTools) Call(_ context.Context, name string, _ map[string]interface{}) (investigation.ToolResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	res, ok := f.results[name]
	if !ok {
		return investigation.ToolResult{}, fmt.Errorf("tool %q not registered", name)
	}
	return res, nil
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID(prefix string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("%s-%d", prefix, s.n)
}

type customDecision struct{ CallTool }

func (customDecision) Kind() string { return "custom" }

func testIncident(t *testing.T) investigation.Incident {
	t.Helper()
	inc, err := investigation.NewIncident("inc-1", "checkout-api", "error rate at 25% after deploy", investigation.SeverityHigh, nil,
		time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return inc
}

func defaultTools() *fakeTools {
	return &fakeTools{results: map[string]investigation.ToolResult{
		"fetch_logs":    {Success: true, ToolName: "fetch_logs", Data: "NullPointerException in PaymentService", ExecutionTimeMs: 12},
		"query_metrics": {Success: false, ToolName: "query_metrics", Errors: []string{"prometheus unreachable"}, ExecutionTimeMs: 30},
	}}
}

func newEngine(t *testing.T, agent Agent, tools ToolRegistry, sink audit.Sink) *Engine {
	t.Helper()
	var mu sync.Mutex
	clock := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	eng, err := New(Dependencies{
		Agent: agent,
		Tools: tools,
		Sink:  sink,
		IDs:   &seqIDs{},
		Clock: func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			clock = clock.Add(time.Second)
			return clock
		},
	})
	require.NoError(t, err)
	return eng
}

func callLogs() CallTool {
	return CallTool{ToolName: "fetch_logs", Params: map[string]interface{}{"service": "checkout-api"}, Reasoning: "check the logs"}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Dependencies{Tools: defaultTools()})
	assert.Error(t, err)

	_, err = New(Dependencies{Agent: &scriptedAgent{}})
	assert.Error(t, err)
}

func TestStartRun(t *testing.T) {
	sink := audit.NewMemorySink()
	eng := newEngine(t, &scriptedAgent{decisions: []Decision{callLogs()}}, defaultTools(), sink)

	run := eng.StartRun(context.Background(), testIncident(t), 0)

	assert.Equal(t, investigation.RunStarted, run.Status())
	assert.Equal(t, investigation.DefaultMaxSteps, run.MaxSteps())
	assert.Equal(t, 0, run.StepCount())
	assert.Equal(t, []audit.EventType{audit.EventRunStarted}, sink.Types())
	assert.Equal(t, run.ID(), sink.Events()[0].RunID)
}

func TestStartRun_ExplicitLimitIsKept(t *testing.T) {
	sink := audit.NewMemorySink()
	eng := newEngine(t, &scriptedAgent{}, defaultTools(), sink)

	run := eng.StartRun(context.Background(), testIncident(t), 100)

	assert.Equal(t, 100, run.MaxSteps())
	assert.Equal(t, 100, sink.Events()[0].Data["max_steps"])
}

func TestNew_DefaultMaxStepsIsCapped(t *testing.T) {
	eng, err := New(Dependencies{Agent: &scriptedAgent{}, Tools: defaultTools(), DefaultMaxSteps: 500})
	require.NoError(t, err)

	run := eng.StartRun(context.Background(), testIncident(t), 0)
	assert.Equal(t, investigation.MaxStepsLimit, run.MaxSteps())
}

func TestExecuteStep_CallToolRecordsEvidence(t *testing.T) {
	sink := audit.NewMemorySink()
	agent := &scriptedAgent{
		decisions: []Decision{callLogs()},
		analyze: func(result investigation.ToolResult, h *investigation.Hypothesis) (Analysis, error) {
			return Analysis{
				Observation:      "NPE in PaymentService since 09:55",
				Significant:      true,
				HypothesisUpdate: &HypothesisUpdate{Description: "bad deploy v2.4.0", Confidence: 0.6},
			}, nil
		},
	}
	eng := newEngine(t, agent, defaultTools(), sink)
	run := eng.StartRun(context.Background(), testIncident(t), 5)

	next, err := eng.ExecuteStep(context.Background(), run)
	require.NoError(t, err)

	assert.Equal(t, 0, run.StepCount(), "input run must not change")
	assert.Equal(t, investigation.RunRunning, next.Status())
	require.Equal(t, 1, next.StepCount())

	step := next.Steps()[0]
	assert.Equal(t, 1, step.Number)
	assert.Equal(t, "check the logs", step.Decision)
	assert.Equal(t, investigation.StepCompleted, step.Status)
	require.NotNil(t, step.ToolCall)
	assert.Equal(t, "fetch_logs", step.ToolCall.ToolName)
	require.NotNil(t, step.ToolResult)
	assert.True(t, step.ToolResult.Success)
	assert.Equal(t, "NPE in PaymentService since 09:55", step.Observation)
	assert.Nil(t, step.HypothesisBefore)
	require.NotNil(t, step.HypothesisAfter)

	obs := next.Observations()
	require.Len(t, obs, 1)
	assert.True(t, obs[0].Significant)
	assert.Equal(t, "NullPointerException in PaymentService", obs[0].RawData)
	assert.Equal(t, "checkout-api", obs[0].ToolParams["service"])

	h := next.Hypothesis()
	require.NotNil(t, h)
	assert.Equal(t, "bad deploy v2.4.0", h.Description())
	assert.Equal(t, 0.6, h.Confidence())
	assert.Equal(t, []string{obs[0].ID}, h.ObservationIDs())

	assert.Equal(t, []audit.EventType{
		audit.EventRunStarted,
		audit.EventStepStarted,
		audit.EventToolCalled,
		audit.EventToolResultReceived,
		audit.EventObservationRecorded,
		audit.EventHypothesisCreated,
		audit.EventStepCompleted,
	}, sink.Types())
	for _, e := range sink.Events()[1:] {
		assert.Equal(t, step.ID, e.StepID)
	}
}

func TestExecuteStep_HypothesisUpdatedOnSecondRevision(t *testing.T) {
	sink := audit.NewMemorySink()
	confidences := []float64{0.4, 0.85}
	var n int
	agent := &scriptedAgent{
		decisions: []Decision{callLogs()},
		analyze: func(investigation.ToolResult, *investigation.Hypothesis) (Analysis, error) {
			c := confidences[n]
			n++
			desc := ""
			if n == 1 {
				desc = "memory leak"
			}
			return Analysis{Observation: "heap growing", Significant: true, HypothesisUpdate: &HypothesisUpdate{Description: desc, Confidence: c}}, nil
		},
	}
	eng := newEngine(t, agent, defaultTools(), sink)
	run := eng.StartRun(context.Background(), testIncident(t), 5)

	run, err := eng.ExecuteStep(context.Background(), run)
	require.NoError(t, err)
	first := run.Hypothesis()
	run, err = eng.ExecuteStep(context.Background(), run)
	require.NoError(t, err)

	h := run.Hypothesis()
	require.NotNil(t, h)
	assert.Equal(t, first.ID(), h.ID())
	assert.Equal(t, "memory leak", h.Description(), "empty description keeps the current one")
	assert.Equal(t, 0.85, h.Confidence())
	assert.Equal(t, 2, h.SupportingCount())
	assert.Equal(t, 0.4, first.Confidence())

	updates := 0
	for _, e := range sink.Events() {
		if e.Type == audit.EventHypothesisUpdated {
			updates++
			assert.Equal(t, 0.4, e.Data["previous_confidence"])
		}
	}
	assert.Equal(t, 1, updates)

	steps := run.Steps()
	require.NotNil(t, steps[1].HypothesisBefore)
	assert.Equal(t, 0.4, steps[1].HypothesisBefore.Confidence())
	assert.Equal(t, 0.85, steps[1].HypothesisAfter.Confidence())
}

func TestExecuteStep_ToolFailureIsData(t *testing.T) {
	agent := &scriptedAgent{decisions: []Decision{CallTool{ToolName: "query_metrics", Reasoning: "check cpu"}}}
	tools := defaultTools()
	eng := newEngine(t, agent, tools, nil)
	run := eng.StartRun(context.Background(), testIncident(t), 5)

	next, err := eng.ExecuteStep(context.Background(), run)
	require.NoError(t, err)

	assert.Equal(t, investigation.RunRunning, next.Status())
	step := next.Steps()[0]
	assert.Equal(t, investigation.StepFailed, step.Status)
	assert.False(t, step.ToolResult.Success)
	assert.Equal(t, []string{"prometheus unreachable"}, step.ToolResult.Errors)
	require.Len(t, next.Observations(), 1)
	assert.False(t, next.Observations()[0].Significant)
	assert.True(t, next.CanContinue())
}

func TestExecuteStep_ProposeMitigation(t *testing.T) {
	sink := audit.NewMemorySink()
	agent := &scriptedAgent{
		decisions: []Decision{
			callLogs(),
			callLogs(),
			ProposeMitigation{Mitigation: "Roll back to v2.3.0", Confidence: 0.9, Reasoning: "deploy correlates"},
		},
		analyze: func(investigation.ToolResult, *investigation.Hypothesis) (Analysis, error) {
			return Analysis{Observation: "deploy at 09:55", Significant: true, HypothesisUpdate: &HypothesisUpdate{Description: "bad deploy", Confidence: 0.8}}, nil
		},
	}
	eng := newEngine(t, agent, defaultTools(), sink)
	run := eng.StartRun(context.Background(), testIncident(t), 10)

	final, err := eng.RunToCompletion(context.Background(), run)
	require.NoError(t, err)

	assert.Equal(t, investigation.RunCompleted, final.Status())
	assert.Equal(t, 3, final.StepCount())
	res := final.Resolution()
	require.NotNil(t, res)
	assert.Equal(t, investigation.ResolutionMitigationProposed, res.Type)
	assert.Equal(t, "Roll back to v2.3.0", res.Description)
	assert.Equal(t, 0.9, res.Confidence)
	_, ok := final.CompletedAt()
	assert.True(t, ok)

	h := final.Hypothesis()
	require.NotNil(t, h)
	assert.True(t, h.IsActionable())
	assert.Equal(t, "Roll back to v2.3.0", h.Mitigation())

	types := sink.Types()
	require.GreaterOrEqual(t, len(types), 3)
	assert.Equal(t, []audit.EventType{audit.EventHypothesisUpdated, audit.EventRunCompleted, audit.EventStepCompleted}, types[len(types)-3:])
	assert.Equal(t, []int{1, 2, 3}, agent.seenSteps)
	assert.Equal(t, []int{0, 1, 2}, agent.seenObs)
}

func TestExecuteStep_EscalateOnFirstDecision(t *testing.T) {
	sink := audit.NewMemorySink()
	agent := &scriptedAgent{decisions: []Decision{Escalate{Reason: "database corruption suspected", EscalationTarget: "dba-oncall", Reasoning: "out of scope"}}}
	eng := newEngine(t, agent, defaultTools(), sink)
	run := eng.StartRun(context.Background(), testIncident(t), 10)

	final, err := eng.RunToCompletion(context.Background(), run)
	require.NoError(t, err)

	assert.Equal(t, investigation.RunEscalated, final.Status())
	assert.Equal(t, 1, final.StepCount())
	res := final.Resolution()
	require.NotNil(t, res)
	assert.Equal(t, investigation.ResolutionEscalated, res.Type)
	assert.Equal(t, "database corruption suspected", res.Reason)
	assert.Equal(t, "dba-oncall", res.EscalationTarget)

	assert.Equal(t, []audit.EventType{
		audit.EventRunStarted,
		audit.EventStepStarted,
		audit.EventRunEscalated,
		audit.EventStepCompleted,
	}, sink.Types())
}

func TestRunToCompletion_StepLimit(t *testing.T) {
	sink := audit.NewMemorySink()
	agent := &scriptedAgent{decisions: []Decision{callLogs()}}
	tools := defaultTools()
	eng := newEngine(t, agent, tools, sink)
	run := eng.StartRun(context.Background(), testIncident(t), 3)

	final, err := eng.RunToCompletion(context.Background(), run)
	require.NoError(t, err)

	assert.Equal(t, 3, final.StepCount())
	assert.Len(t, final.Steps(), 3)
	assert.Equal(t, investigation.RunFailed, final.Status())
	require.NotNil(t, final.Resolution())
	assert.Equal(t, investigation.ResolutionStepLimitReached, final.Resolution().Type)
	assert.Len(t, tools.calls, 3)

	types := sink.Types()
	assert.Equal(t, audit.EventRunFailed, types[len(types)-1])
	assert.Equal(t, 3, sink.Events()[len(types)-1].Data["step_count"])
}

func TestRunToCompletion_StepCountMonotonic(t *testing.T) {
	var counts []int
	agent := &scriptedAgent{decisions: []Decision{callLogs(), callLogs(), callLogs(), ProposeMitigation{Mitigation: "restart", Confidence: 0.7}}}
	eng := newEngine(t, agent, defaultTools(), nil)
	run := eng.StartRun(context.Background(), testIncident(t), 10)

	for run.CanContinue() {
		next, err := eng.ExecuteStep(context.Background(), run)
		require.NoError(t, err)
		assert.Equal(t, run.StepCount()+1, next.StepCount())
		assert.Equal(t, len(next.Steps()), next.StepCount())
		counts = append(counts, next.StepCount())
		run = next
	}
	assert.Equal(t, []int{1, 2, 3, 4}, counts)
}

func TestExecuteStep_TerminalRunIsWorkflowError(t *testing.T) {
	agent := &scriptedAgent{decisions: []Decision{Escalate{Reason: "unknown"}}}
	eng := newEngine(t, agent, defaultTools(), nil)
	run, err := eng.ExecuteStep(context.Background(), eng.StartRun(context.Background(), testIncident(t), 5))
	require.NoError(t, err)
	require.True(t, run.IsTerminal())

	next, err := eng.ExecuteStep(context.Background(), run)
	require.Error(t, err)
	assert.True(t, errors.Is(err, investigation.ErrCannotContinue))
	var wfErr *investigation.WorkflowError
	assert.True(t, errors.As(err, &wfErr))
	assert.Equal(t, investigation.Run{}, next)
	assert.Equal(t, 1, run.StepCount())
	assert.Equal(t, investigation.RunEscalated, run.Status())
	assert.Len(t, agent.seenSteps, 1, "agent must not be consulted")
}

func TestExecuteStep_AtStepLimitIsWorkflowError(t *testing.T) {
	agent := &scriptedAgent{decisions: []Decision{callLogs()}}
	eng := newEngine(t, agent, defaultTools(), nil)
	run, err := eng.ExecuteStep(context.Background(), eng.StartRun(context.Background(), testIncident(t), 1))
	require.NoError(t, err)

	_, err = eng.ExecuteStep(context.Background(), run)
	assert.True(t, errors.Is(err, investigation.ErrCannotContinue))
}

func TestExecuteStep_CollaboratorErrorsPropagate(t *testing.T) {
	boom := errors.New("llm unavailable")

	t.Run("agent decide", func(t *testing.T) {
		agent := &scriptedAgent{decisions: []Decision{callLogs()}, decideErr: map[int]error{3: boom}}
		eng := newEngine(t, agent, defaultTools(), nil)
		run := eng.StartRun(context.Background(), testIncident(t), 10)

		last, err := eng.RunToCompletion(context.Background(), run)
		require.Error(t, err)
		assert.True(t, errors.Is(err, boom))
		assert.Equal(t, 2, last.StepCount(), "progress before the failure is kept")
		assert.Equal(t, investigation.RunRunning, last.Status())
	})

	t.Run("agent analyze", func(t *testing.T) {
		agent := &scriptedAgent{
			decisions: []Decision{callLogs()},
			analyze: func(investigation.ToolResult, *investigation.Hypothesis) (Analysis, error) {
				return Analysis{}, boom
			},
		}
		eng := newEngine(t, agent, defaultTools(), nil)
		run := eng.StartRun(context.Background(), testIncident(t), 10)

		last, err := eng.ExecuteStep(context.Background(), run)
		assert.True(t, errors.Is(err, boom))
		assert.Equal(t, 0, last.StepCount())
		assert.Empty(t, last.Observations())
	})

	t.Run("unknown tool", func(t *testing.T) {
		agent := &scriptedAgent{decisions: []Decision{CallTool{ToolName: "does_not_exist"}}}
		eng := newEngine(t, agent, defaultTools(), nil)
		run := eng.StartRun(context.Background(), testIncident(t), 10)

		_, err := eng.ExecuteStep(context.Background(), run)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "does_not_exist")
	})

	t.Run("invalid hypothesis update", func(t *testing.T) {
		agent := &scriptedAgent{
			decisions: []Decision{callLogs()},
			analyze: func(investigation.ToolResult, *investigation.Hypothesis) (Analysis, error) {
				return Analysis{Observation: "x", HypothesisUpdate: &HypothesisUpdate{Description: "y", Confidence: 1.5}}, nil
			},
		}
		eng := newEngine(t, agent, defaultTools(), nil)
		run := eng.StartRun(context.Background(), testIncident(t), 10)

		_, err := eng.ExecuteStep(context.Background(), run)
		var vErr *investigation.ValidationError
		assert.True(t, errors.As(err, &vErr))
	})
}

func TestExecuteStep_UnknownDecision(t *testing.T) {
	for name, d := range map[string]Decision{
		"nil":            nil,
		"custom":         customDecision{},
		"nil call tool":  (*CallTool)(nil),
		"nil mitigation": (*ProposeMitigation)(nil),
		"nil escalation": (*Escalate)(nil),
	} {
		t.Run(name, func(t *testing.T) {
			agent := &scriptedAgent{decisions: []Decision{d}}
			eng := newEngine(t, agent, defaultTools(), nil)
			run := eng.StartRun(context.Background(), testIncident(t), 5)

			last, err := eng.ExecuteStep(context.Background(), run)
			assert.True(t, errors.Is(err, ErrUnknownDecision))
			assert.Equal(t, 0, last.StepCount())
		})
	}
}

func TestExecuteStep_PointerDecisions(t *testing.T) {
	call := callLogs()
	agent := &scriptedAgent{decisions: []Decision{
		&call,
		&ProposeMitigation{Mitigation: "restart pods", Confidence: 0.7},
	}}
	eng := newEngine(t, agent, defaultTools(), nil)

	run, err := eng.RunToCompletion(context.Background(), eng.StartRun(context.Background(), testIncident(t), 5))
	require.NoError(t, err)
	assert.Equal(t, investigation.RunCompleted, run.Status())
	assert.Equal(t, 2, run.StepCount())
	require.NotNil(t, run.Steps()[0].ToolCall)
	assert.Equal(t, "fetch_logs", run.Steps()[0].ToolCall.ToolName)

	escalate := &Escalate{Reason: "unclear", EscalationTarget: "sre"}
	eng = newEngine(t, &scriptedAgent{decisions: []Decision{escalate}}, defaultTools(), nil)
	run, err = eng.ExecuteStep(context.Background(), eng.StartRun(context.Background(), testIncident(t), 5))
	require.NoError(t, err)
	assert.Equal(t, investigation.RunEscalated, run.Status())
}

func TestRunToCompletion_TerminalRunReturnedUnchanged(t *testing.T) {
	agent := &scriptedAgent{decisions: []Decision{ProposeMitigation{Mitigation: "restart pods", Confidence: 0.7}}}
	eng := newEngine(t, agent, defaultTools(), nil)
	run, err := eng.RunToCompletion(context.Background(), eng.StartRun(context.Background(), testIncident(t), 5))
	require.NoError(t, err)

	again, err := eng.RunToCompletion(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, run.Snapshot(), again.Snapshot())
	assert.Len(t, agent.seenSteps, 1)
}

func TestRunToCompletion_PausedRunReturnedUnchanged(t *testing.T) {
	agent := &scriptedAgent{decisions: []Decision{callLogs()}}
	eng := newEngine(t, agent, defaultTools(), nil)
	run, err := eng.ExecuteStep(context.Background(), eng.StartRun(context.Background(), testIncident(t), 5))
	require.NoError(t, err)
	paused, err := run.Pause()
	require.NoError(t, err)

	out, err := eng.RunToCompletion(context.Background(), paused)
	require.NoError(t, err)
	assert.Equal(t, investigation.RunPaused, out.Status())
	assert.Nil(t, out.Resolution())
	assert.Len(t, agent.seenSteps, 1)
}

func TestRunToCompletion_ContextCancelled(t *testing.T) {
	agent := &scriptedAgent{decisions: []Decision{callLogs()}}
	eng := newEngine(t, agent, defaultTools(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run := eng.StartRun(ctx, testIncident(t), 5)
	out, err := eng.RunToCompletion(ctx, run)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, out.StepCount())
	assert.Empty(t, agent.seenSteps)
}

func TestEngine_IndependentRunsConcurrently(t *testing.T) {
	agent := &scriptedAgent{decisions: []Decision{callLogs(), callLogs(), ProposeMitigation{Mitigation: "roll back", Confidence: 0.8}}}
	sink := audit.NewMemorySink()
	eng := newEngine(t, agent, defaultTools(), sink)

	incident := testIncident(t)
	var wg sync.WaitGroup
	results := make([]investigation.Run, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			run := eng.StartRun(context.Background(), incident, 10)
			out, err := eng.RunToCompletion(context.Background(), run)
			assert.NoError(t, err)
			results[i] = out
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, investigation.RunCompleted, r.Status())
		assert.Equal(t, 3, r.StepCount())
		events := sink.ByRun(r.ID())
		assert.Equal(t, audit.EventRunStarted, events[0].Type)
		assert.Equal(t, audit.EventStepCompleted, events[len(events)-1].Type)
	}
}
