// Package engine orchestrates an investigation: it asks the agent for the
// next action, runs tools, records evidence on the Run and emits audit events.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/moolen/sleuth/internal/audit"
	"github.com/moolen/sleuth/internal/investigation"
	"github.com/moolen/sleuth/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Dependencies are injected into New. Agent and Tools are required.
type Dependencies struct {
	Agent Agent
	Tools ToolRegistry
	// Sink receives audit events. Defaults to audit.Nop.
	Sink audit.Sink
	// Clock defaults to time.Now in UTC.
	Clock func() time.Time
	// IDs defaults to investigation.UUIDGenerator.
	IDs investigation.IDGenerator
	// Tracer defaults to the global otel tracer provider.
	Tracer trace.Tracer
	// DefaultMaxSteps applies when StartRun gets a non-positive limit.
	DefaultMaxSteps int
}

// Engine runs investigations. It holds no per-run state and can drive any
// number of independent runs concurrently.
type Engine struct {
	agent           Agent
	tools           ToolRegistry
	sink            audit.Sink
	clock           func() time.Time
	ids             investigation.IDGenerator
	tracer          trace.Tracer
	defaultMaxSteps int
	logger          *logging.Logger
}

// New validates deps and fills in defaults.
func New(deps Dependencies) (*Engine, error) {
	if deps.Agent == nil {
		return nil, errors.New("engine: agent is required")
	}
	if deps.Tools == nil {
		return nil, errors.New("engine: tool registry is required")
	}

	e := &Engine{
		agent:           deps.Agent,
		tools:           deps.Tools,
		sink:            deps.Sink,
		clock:           deps.Clock,
		ids:             deps.IDs,
		tracer:          deps.Tracer,
		defaultMaxSteps: investigation.NormalizeDefaultMaxSteps(deps.DefaultMaxSteps),
		logger:          logging.GetLogger("engine"),
	}
	if e.sink == nil {
		e.sink = audit.Nop
	}
	if e.clock == nil {
		e.clock = func() time.Time { return time.Now().UTC() }
	}
	if e.ids == nil {
		e.ids = investigation.UUIDGenerator{}
	}
	if e.tracer == nil {
		e.tracer = otel.GetTracerProvider().Tracer("sleuth/engine")
	}
	return e, nil
}

// StartRun creates a Run for incident without executing any step.
// maxSteps <= 0 selects the engine default; any positive value is used as
// given.
func (e *Engine) StartRun(ctx context.Context, incident investigation.Incident, maxSteps int) investigation.Run {
	if maxSteps <= 0 {
		maxSteps = e.defaultMaxSteps
	}
	run := investigation.NewRun(e.ids.NewID("run"), incident, maxSteps, investigation.WithClock(e.clock))

	e.logger.WithContext(ctx).Info("Starting investigation %s for incident %s (%s)", run.ID(), incident.ID, incident.Service)
	e.emit(audit.EventRunStarted, run.ID(), "", map[string]interface{}{
		"incident_id": incident.ID,
		"service":     incident.Service,
		"severity":    string(incident.Severity),
		"max_steps":   run.MaxSteps(),
	})
	return run
}

// ExecuteStep runs one decision cycle and returns the updated Run. The
// argument must be treated as stale afterwards.
//
// A run that cannot continue yields a *investigation.WorkflowError and a zero
// Run. Agent and tool registry errors are wrapped and returned together with
// the unchanged input Run, which is the last consistent state.
func (e *Engine) ExecuteStep(ctx context.Context, run investigation.Run) (investigation.Run, error) {
	if !run.CanContinue() {
		return investigation.Run{}, investigation.CannotContinueError(run)
	}

	number := run.StepCount() + 1
	stepID := e.ids.NewID("step")

	ctx, span := e.tracer.Start(ctx, "investigation.step",
		trace.WithAttributes(
			attribute.String("run.id", run.ID()),
			attribute.Int("step.number", number),
		),
	)
	defer span.End()

	logger := e.logger.WithContext(ctx).WithFields(
		logging.Field("run_id", run.ID()),
		logging.Field("step", number),
	)

	e.emit(audit.EventStepStarted, run.ID(), stepID, map[string]interface{}{
		"step_number": number,
	})

	decision, err := e.agent.DecideNextAction(ctx, run.Incident(), run.Observations(), run.Hypothesis(), number)
	if err != nil {
		return run, e.fail(span, fmt.Errorf("agent failed to decide step %d: %w", number, err))
	}
	decision = valueOf(decision)
	if decision == nil {
		return run, e.fail(span, fmt.Errorf("step %d: nil decision: %w", number, ErrUnknownDecision))
	}
	span.SetAttributes(attribute.String("decision.kind", decision.Kind()))
	logger.Debug("Agent decided %s", decision.Kind())

	var (
		next   investigation.Run
		status investigation.StepStatus
	)
	switch d := decision.(type) {
	case CallTool:
		next, status, err = e.callTool(ctx, run, stepID, number, d)
	case ProposeMitigation:
		next, status = e.proposeMitigation(run, stepID, number, d)
	case Escalate:
		next, status = e.escalate(run, stepID, number, d)
	default:
		err = fmt.Errorf("step %d: %T: %w", number, decision, ErrUnknownDecision)
	}
	if err != nil {
		return run, e.fail(span, err)
	}

	e.emit(audit.EventStepCompleted, run.ID(), stepID, map[string]interface{}{
		"step_number": number,
		"decision":    decision.Kind(),
		"status":      string(status),
	})
	span.SetAttributes(attribute.String("step.status", string(status)))

	if next.IsTerminal() {
		logger.Info("Investigation finished with status %s after %d steps", next.Status(), next.StepCount())
	}
	return next, nil
}

func (e *Engine) callTool(ctx context.Context, run investigation.Run, stepID string, number int, d CallTool) (investigation.Run, investigation.StepStatus, error) {
	step := investigation.NewStep(stepID, run.ID(), number, d.Reasoning, e.clock()).
		WithToolCall(d.ToolName, d.Params).
		Executing()

	e.emit(audit.EventToolCalled, run.ID(), stepID, map[string]interface{}{
		"tool_name": d.ToolName,
		"params":    d.Params,
		"reasoning": d.Reasoning,
	})

	result, err := e.tools.Call(ctx, d.ToolName, d.Params)
	if err != nil {
		return run, "", fmt.Errorf("tool %q failed at step %d: %w", d.ToolName, number, err)
	}
	if result.ToolName == "" {
		result.ToolName = d.ToolName
	}

	e.emit(audit.EventToolResultReceived, run.ID(), stepID, map[string]interface{}{
		"tool_name":         result.ToolName,
		"success":           result.Success,
		"execution_time_ms": result.ExecutionTimeMs,
		"errors":            result.Errors,
	})

	before := run.Hypothesis()
	analysis, err := e.agent.AnalyzeResult(ctx, result, run.Incident(), before)
	if err != nil {
		return run, "", fmt.Errorf("agent failed to analyze %q result at step %d: %w", d.ToolName, number, err)
	}

	obs := investigation.NewObservation(e.ids.NewID("obs"), d.ToolName, analysis.Observation, result.Data, analysis.Significant, d.Params, e.clock())

	var (
		after   = before
		created bool
	)
	if upd := analysis.HypothesisUpdate; upd != nil {
		h, err := e.reviseHypothesis(before, *upd, obs.ID)
		if err != nil {
			return run, "", fmt.Errorf("invalid hypothesis update at step %d: %w", number, err)
		}
		after = &h
		created = before == nil
	}

	next := run.AddObservation(obs)
	e.emit(audit.EventObservationRecorded, run.ID(), stepID, map[string]interface{}{
		"observation_id": obs.ID,
		"tool_name":      obs.ToolName,
		"significant":    obs.Significant,
		"summary":        obs.Summary,
	})

	if after != before {
		next = next.WithHypothesis(*after)
		data := map[string]interface{}{
			"hypothesis_id": after.ID(),
			"description":   after.Description(),
			"confidence":    after.Confidence(),
		}
		if created {
			e.emit(audit.EventHypothesisCreated, run.ID(), stepID, data)
		} else {
			data["previous_confidence"] = before.Confidence()
			e.emit(audit.EventHypothesisUpdated, run.ID(), stepID, data)
		}
	}

	step = step.WithToolResult(result).
		WithObservation(analysis.Observation).
		WithHypotheses(before, after)
	if result.Success {
		step = step.Complete(e.clock())
	} else {
		step = step.Fail(e.clock())
	}

	return next.AddStep(step), step.Status, nil
}

// reviseHypothesis creates the first hypothesis or revises the current one,
// linking it to the observation that prompted the change.
func (e *Engine) reviseHypothesis(current *investigation.Hypothesis, upd HypothesisUpdate, observationID string) (investigation.Hypothesis, error) {
	if current == nil {
		h, err := investigation.NewHypothesis(e.ids.NewID("hyp"), upd.Description, upd.Confidence)
		if err != nil {
			return investigation.Hypothesis{}, err
		}
		return h.WithObservation(observationID), nil
	}

	h, err := current.WithConfidence(upd.Confidence)
	if err != nil {
		return investigation.Hypothesis{}, err
	}
	return h.WithDescription(upd.Description).WithObservation(observationID), nil
}

func (e *Engine) proposeMitigation(run investigation.Run, stepID string, number int, d ProposeMitigation) (investigation.Run, investigation.StepStatus) {
	now := e.clock()
	step := investigation.NewStep(stepID, run.ID(), number, d.Reasoning, now)

	before := run.Hypothesis()
	after := before
	if before != nil {
		if h, err := before.WithMitigation(d.Mitigation).WithStatus(investigation.HypothesisActionable); err == nil {
			after = &h
		}
	}
	step = step.WithHypotheses(before, after).Complete(e.clock())

	next := run.AddStep(step)
	if after != before {
		next = next.WithHypothesis(*after)
		e.emit(audit.EventHypothesisUpdated, run.ID(), stepID, map[string]interface{}{
			"hypothesis_id": after.ID(),
			"status":        string(after.Status()),
			"mitigation":    after.Mitigation(),
			"confidence":    after.Confidence(),
		})
	}

	next = next.WithResolution(investigation.MitigationProposed(d.Mitigation, d.Confidence))
	e.emit(audit.EventRunCompleted, run.ID(), stepID, map[string]interface{}{
		"resolution": string(investigation.ResolutionMitigationProposed),
		"mitigation": d.Mitigation,
		"confidence": d.Confidence,
		"step_count": next.StepCount(),
	})
	return next, step.Status
}

func (e *Engine) escalate(run investigation.Run, stepID string, number int, d Escalate) (investigation.Run, investigation.StepStatus) {
	step := investigation.NewStep(stepID, run.ID(), number, d.Reasoning, e.clock())
	step = step.WithHypotheses(run.Hypothesis(), run.Hypothesis()).Complete(e.clock())

	// WithResolution always lands on completed; the status is set afterwards.
	next := run.AddStep(step).
		WithResolution(investigation.Escalated(d.Reason, d.EscalationTarget)).
		WithStatus(investigation.RunEscalated)

	e.emit(audit.EventRunEscalated, run.ID(), stepID, map[string]interface{}{
		"reason":            d.Reason,
		"escalation_target": d.EscalationTarget,
		"step_count":        next.StepCount(),
	})
	return next, step.Status
}

// RunToCompletion executes steps until the run is terminal, paused or out of
// steps. A run that exhausts its step budget is failed with a
// step_limit_reached resolution.
//
// On error the last Run successfully produced is returned with it. The
// context is checked between steps.
func (e *Engine) RunToCompletion(ctx context.Context, run investigation.Run) (investigation.Run, error) {
	for run.CanContinue() {
		if err := ctx.Err(); err != nil {
			return run, err
		}
		next, err := e.ExecuteStep(ctx, run)
		if err != nil {
			return run, err
		}
		run = next
	}

	if run.IsTerminal() || run.Status() == investigation.RunPaused || !run.StepLimitReached() {
		return run, nil
	}

	run = run.WithResolution(investigation.StepLimitReached(run.MaxSteps())).
		WithStatus(investigation.RunFailed)

	e.logger.WithContext(ctx).Warn("Investigation %s reached its step limit (%d) without a resolution", run.ID(), run.MaxSteps())
	e.emit(audit.EventRunFailed, run.ID(), "", map[string]interface{}{
		"resolution": string(investigation.ResolutionStepLimitReached),
		"reason":     run.Resolution().Reason,
		"step_count": run.StepCount(),
	})
	return run, nil
}

func (e *Engine) emit(t audit.EventType, runID, stepID string, data map[string]interface{}) {
	e.sink.Emit(audit.Event{
		Type:      t,
		RunID:     runID,
		StepID:    stepID,
		Data:      data,
		Timestamp: e.clock(),
	})
}

func (e *Engine) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	e.logger.Warn("Step failed: %v", err)
	return err
}
